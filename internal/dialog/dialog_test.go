package dialog_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ringline-ai/ringline/internal/dialog"
	"github.com/ringline-ai/ringline/internal/phrase"
	"github.com/ringline-ai/ringline/internal/prompts"
	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/provider/llm"
	llmmock "github.com/ringline-ai/ringline/pkg/provider/llm/mock"
	ttsmock "github.com/ringline-ai/ringline/pkg/provider/tts/mock"
)

type playCall struct {
	value          string
	transcriptText string
}

// voiceRecorder captures playback requests.
type voiceRecorder struct {
	mu      sync.Mutex
	files   []playCall
	streams []playCall
}

func (v *voiceRecorder) PlayFile(path, transcriptText string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files = append(v.files, playCall{path, transcriptText})
	return true
}

func (v *voiceRecorder) PlayStream(text, transcriptText string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams = append(v.streams, playCall{text, transcriptText})
	return true
}

func (v *voiceRecorder) calls() (files, streams []playCall) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]playCall(nil), v.files...), append([]playCall(nil), v.streams...)
}

func callerPhrase(text string) *phrase.Phrase {
	return &phrase.Phrase{
		ID: "test-phrase",
		Chunks: []*phrase.Chunk{
			{PhraseID: "test-phrase", Index: 0, Transcription: text, Transcribed: true},
		},
		Done: true,
	}
}

// runManager starts m and waits for cond, failing the test on timeout.
func runManager(t *testing.T, m *dialog.Manager, p *phrase.Phrase, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if !m.Submit(p) {
		t.Fatal("submit rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHistoryTrimsToWindow(t *testing.T) {
	t.Parallel()
	h := dialog.NewHistory("be brief", 2)
	for i := 0; i < 5; i++ {
		h.AppendUser("question")
		h.AppendAssistant("answer")
	}
	msgs := h.Messages()
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5 (system + 4)", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("first message = %+v, want system prompt", msgs[0])
	}
	for i, want := range []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant} {
		if msgs[i+1].Role != want {
			t.Errorf("message %d role = %s, want %s", i+1, msgs[i+1].Role, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"list markers", "- first thing\n- second thing", "first thing second thing"},
		{"numbered list", "1. do this\n2. do that", "do this do that"},
		{"markup symbols", "that is **very** `important`", "that is very important"},
		{
			"hyphens become spaces",
			"The well-known rule - keep it short.",
			"The well known rule keep it short.",
		},
		{"abbreviation", "try fruit, e.g. apples.", "try fruit, for example apples."},
		{"whitespace collapse", "too   many\n\nspaces", "too many spaces"},
		{
			"sentence cap",
			"One. Two! Three? Four. Five.",
			"One. Two! Three?",
		},
		{"decimal not a boundary", "pi is 3.14 roughly", "pi is 3.14 roughly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := dialog.Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := dialog.Normalize(got); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestTurnStreamsNormalizedReply(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Reply: "* Sure!  I can help. Anything else?"}
	voice := &voiceRecorder{}
	log := transcript.NewLog()
	h := dialog.NewHistory("sys", 2)
	m := dialog.NewManager(h, provider, voice, prompts.New(t.TempDir(), ""), dialog.Config{Streaming: true},
		dialog.WithTranscript(log),
	)

	runManager(t, m, callerPhrase("can you help me"), func() bool {
		_, streams := voice.calls()
		return len(streams) > 0
	})

	_, streams := voice.calls()
	want := "Sure! I can help. Anything else?"
	if streams[0].value != want || streams[0].transcriptText != want {
		t.Errorf("streamed = %+v, want %q", streams[0], want)
	}
	msgs := h.Messages()
	if len(msgs) != 3 || msgs[1].Content != "can you help me" || msgs[2].Content != want {
		t.Errorf("history = %+v", msgs)
	}
	lines := log.Lines()
	if len(lines) != 1 || lines[0].Role != transcript.RoleCaller || lines[0].Text != "can you help me" {
		t.Errorf("transcript = %+v, want one caller line", lines)
	}
}

func TestCompletionFailureRecordsPlaceholderWithoutPlayback(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Err: errors.New("upstream down")}
	voice := &voiceRecorder{}
	h := dialog.NewHistory("sys", 2)
	m := dialog.NewManager(h, provider, voice, prompts.New(t.TempDir(), ""), dialog.Config{Streaming: true})

	runManager(t, m, callerPhrase("hello"), func() bool {
		return h.Len() == 2
	})

	msgs := h.Messages()
	if msgs[2].Content != dialog.ErrorPlaceholder || msgs[2].Role != llm.RoleAssistant {
		t.Errorf("last history message = %+v, want placeholder", msgs[2])
	}
	files, streams := voice.calls()
	if len(files)+len(streams) != 0 {
		t.Error("placeholder must never be played")
	}
}

func TestFarewellShortCircuitsToGoodbye(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Reply: "should not be called"}
	voice := &voiceRecorder{}
	cache := prompts.New(t.TempDir(), "")
	var farewellFired atomic.Bool
	h := dialog.NewHistory("sys", 2)
	m := dialog.NewManager(h, provider, voice, cache, dialog.Config{Streaming: true},
		dialog.WithOnFarewell(func() { farewellFired.Store(true) }),
	)

	runManager(t, m, callerPhrase("okay goodbye now"), farewellFired.Load)

	files, streams := voice.calls()
	if len(streams) != 0 {
		t.Error("farewell must not reach the model")
	}
	if files[0].value != cache.Path(prompts.KindGoodbye) || files[0].transcriptText != prompts.GoodbyeText {
		t.Errorf("goodbye playback = %+v", files[0])
	}
	if provider.CallCount() != 0 {
		t.Error("completion must be skipped on farewell")
	}
	if h.Len() != 0 {
		t.Error("farewell must not enter the history")
	}
}

func TestFileModeRendersReplyToDisk(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Reply: "Here you go."}
	voice := &voiceRecorder{}
	synth := &ttsmock.Synthesizer{MP3: []byte("fake-mp3")}
	audioDir := t.TempDir()
	h := dialog.NewHistory("sys", 2)
	m := dialog.NewManager(h, provider, voice, prompts.New(t.TempDir(), ""),
		dialog.Config{Streaming: false, AudioDir: audioDir},
		dialog.WithSynthesizer(synth),
	)

	runManager(t, m, callerPhrase("give me something"), func() bool {
		files, _ := voice.calls()
		return len(files) > 0
	})

	files, _ := voice.calls()
	if files[0].transcriptText != "Here you go." {
		t.Errorf("transcript text = %q", files[0].transcriptText)
	}
	raw, err := os.ReadFile(files[0].value)
	if err != nil {
		t.Fatalf("reply file unreadable: %v", err)
	}
	if string(raw) != "fake-mp3" {
		t.Errorf("reply file contents = %q", raw)
	}
}
