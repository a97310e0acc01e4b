package phrase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ringline-ai/ringline/internal/phrase"
	"github.com/ringline-ai/ringline/pkg/provider/asr"
	asrmock "github.com/ringline-ai/ringline/pkg/provider/asr/mock"
)

func TestPhraseTextJoinsInIndexOrder(t *testing.T) {
	t.Parallel()
	p := &phrase.Phrase{Chunks: []*phrase.Chunk{
		{Index: 2, Transcription: "tonight?", Transcribed: true},
		{Index: 0, Transcription: "what are", Transcribed: true},
		{Index: 1, Transcription: "you doing", Transcribed: true},
	}}
	if got, want := p.Text(), "what are you doing tonight?"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestPhraseTextSkipsEmptyChunks(t *testing.T) {
	t.Parallel()
	p := &phrase.Phrase{Chunks: []*phrase.Chunk{
		{Index: 0, Transcription: "hello", Transcribed: true},
		{Index: 1, Transcription: "   ", Transcribed: true},
		{Index: 2, Transcription: "there", Transcribed: true},
	}}
	if got, want := p.Text(), "hello there"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestAssemblerHandsOffOnceWhenLastChunkArrives(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	c0 := &phrase.Chunk{PhraseID: "p1", Index: 0}
	c1 := &phrase.Chunk{PhraseID: "p1", Index: 1}
	a.Add(c0)
	a.Add(c1)

	if _, done := a.MarkDone("p1"); done {
		t.Fatal("phrase handed off before chunks transcribed")
	}
	if _, done := a.ChunkTranscribed(c0, "first"); done {
		t.Fatal("phrase handed off with one chunk missing")
	}
	p, done := a.ChunkTranscribed(c1, "second")
	if !done {
		t.Fatal("phrase not handed off after last chunk")
	}
	if got, want := p.Text(), "first second"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after hand-off, want 0", a.Pending())
	}
}

func TestAssemblerHandsOffOnMarkDoneWhenAlreadyTranscribed(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	c0 := &phrase.Chunk{PhraseID: "p1", Index: 0}
	a.Add(c0)

	if _, done := a.ChunkTranscribed(c0, "hello"); done {
		t.Fatal("phrase handed off before MarkDone")
	}
	p, done := a.MarkDone("p1")
	if !done {
		t.Fatal("phrase not handed off on MarkDone")
	}
	if p.Text() != "hello" {
		t.Errorf("Text() = %q, want %q", p.Text(), "hello")
	}
}

func TestAssemblerTranscribedLatchIsSingleShot(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	c0 := &phrase.Chunk{PhraseID: "p1", Index: 0}
	a.Add(c0)
	a.MarkDone("p1")

	if _, done := a.ChunkTranscribed(c0, "first"); !done {
		t.Fatal("expected hand-off on first transcription")
	}
	if _, done := a.ChunkTranscribed(c0, "second"); done {
		t.Fatal("duplicate transcription must not hand off again")
	}
	if c0.Transcription != "first" {
		t.Errorf("Transcription = %q, want the first result kept", c0.Transcription)
	}
}

func TestAssemblerMarkDoneUnknownPhrase(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	if _, done := a.MarkDone("missing"); done {
		t.Error("MarkDone on unknown phrase must not hand off")
	}
}

func TestWorkerTranscribesAndHandsOff(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	chunks := make(chan *phrase.Chunk, 4)
	tr := &asrmock.Transcriber{Result: asr.Result{Text: "hi there"}}

	var (
		mu     sync.Mutex
		phrases []*phrase.Phrase
	)
	w := phrase.NewWorker(chunks, tr, a, func(p *phrase.Phrase) {
		mu.Lock()
		phrases = append(phrases, p)
		mu.Unlock()
	})

	c := &phrase.Chunk{PhraseID: "p1", Index: 0, PCM: make([]byte, 320)}
	a.Add(c)
	a.MarkDone("p1")
	chunks <- c
	close(chunks)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(phrases) != 1 {
		t.Fatalf("got %d hand-offs, want 1", len(phrases))
	}
	if got := phrases[0].Text(); got != "hi there" {
		t.Errorf("Text() = %q, want %q", got, "hi there")
	}
}

func TestWorkerFailedChunkLatchesEmpty(t *testing.T) {
	t.Parallel()
	a := phrase.NewAssembler()
	chunks := make(chan *phrase.Chunk, 4)
	tr := &asrmock.Transcriber{Err: errors.New("backend down")}

	var handed []*phrase.Phrase
	w := phrase.NewWorker(chunks, tr, a, func(p *phrase.Phrase) { handed = append(handed, p) })

	good := &phrase.Chunk{PhraseID: "p1", Index: 0}
	bad := &phrase.Chunk{PhraseID: "p1", Index: 1}
	a.Add(good)
	a.Add(bad)
	a.MarkDone("p1")

	// First chunk succeeds, second fails.
	calls := 0
	tr.TranscribeFunc = func(_ context.Context, _ []byte) (asr.Result, error) {
		calls++
		if calls == 1 {
			return asr.Result{Text: "hello"}, nil
		}
		return asr.Result{}, errors.New("backend down")
	}

	chunks <- good
	chunks <- bad
	close(chunks)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(handed) != 1 {
		t.Fatalf("got %d hand-offs, want 1 despite the failed chunk", len(handed))
	}
	if got := handed[0].Text(); got != "hello" {
		t.Errorf("Text() = %q, want failed chunk skipped", got)
	}
	if !bad.Transcribed {
		t.Error("failed chunk must still latch Transcribed")
	}
}
