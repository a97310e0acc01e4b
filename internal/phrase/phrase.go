// Package phrase assembles transcribed utterance chunks back into ordered
// caller phrases.
//
// The segmenter cuts caller speech into chunks that are transcribed
// concurrently by a worker pool, so results arrive out of order. The
// Assembler tracks which chunks of a phrase have been transcribed and hands
// the completed phrase off exactly once, in chunk order, when the phrase has
// been marked done and every chunk carries a result.
package phrase

import (
	"sort"
	"strings"
	"sync"
)

// Chunk is one segment of caller speech awaiting or carrying transcription.
type Chunk struct {
	// PhraseID groups chunks belonging to the same phrase.
	PhraseID string

	// Index is the position of this chunk within its phrase, starting at 0.
	Index int

	// PCM is the chunk audio as little-endian 16-bit mono PCM at 8 kHz.
	PCM []byte

	// RMS is the amplitude of the frame that closed this chunk.
	RMS float64

	// Timestamp is the stream position of the chunk start, in seconds.
	Timestamp float64

	// Duration is the chunk length in seconds.
	Duration float64

	// Transcription is the recognized text, set once by the worker pool.
	// Empty when recognition failed or heard nothing.
	Transcription string

	// Transcribed latches to true when recognition for this chunk has
	// finished, regardless of outcome. It never resets.
	Transcribed bool
}

// Phrase is an ordered collection of chunks forming one caller utterance.
type Phrase struct {
	// ID is the phrase identifier shared by all its chunks.
	ID string

	// Chunks holds the phrase chunks in arrival order.
	Chunks []*Chunk

	// Done is set when the segmenter has closed the phrase. A phrase may
	// be done before all its chunks are transcribed.
	Done bool

	handedOff bool
}

// Complete reports whether every chunk of the phrase is transcribed.
func (p *Phrase) Complete() bool {
	for _, c := range p.Chunks {
		if !c.Transcribed {
			return false
		}
	}
	return len(p.Chunks) > 0
}

// Text joins the non-empty chunk transcriptions in chunk index order,
// separated by single spaces.
func (p *Phrase) Text() string {
	ordered := make([]*Chunk, len(p.Chunks))
	copy(ordered, p.Chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var parts []string
	for _, c := range ordered {
		if t := strings.TrimSpace(c.Transcription); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Assembler tracks in-flight phrases and detects completion.
// It is safe for concurrent use.
type Assembler struct {
	mu      sync.Mutex
	phrases map[string]*Phrase
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{phrases: make(map[string]*Phrase)}
}

// Add registers a chunk with its phrase, creating the phrase on first sight.
func (a *Assembler) Add(c *Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.phrases[c.PhraseID]
	if !ok {
		p = &Phrase{ID: c.PhraseID}
		a.phrases[c.PhraseID] = p
	}
	p.Chunks = append(p.Chunks, c)
}

// MarkDone closes the phrase: no more chunks will arrive. If every chunk is
// already transcribed the completed phrase is returned, exactly once.
func (a *Assembler) MarkDone(phraseID string) (*Phrase, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.phrases[phraseID]
	if !ok {
		return nil, false
	}
	p.Done = true
	return a.tryHandOffLocked(p)
}

// ChunkTranscribed records a finished transcription for c. The Transcribed
// latch is set exactly once; repeated calls for the same chunk are ignored.
// If this was the last missing chunk of a done phrase, the completed phrase
// is returned, exactly once.
func (a *Assembler) ChunkTranscribed(c *Chunk, text string) (*Phrase, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c.Transcribed {
		return nil, false
	}
	c.Transcription = text
	c.Transcribed = true

	p, ok := a.phrases[c.PhraseID]
	if !ok {
		return nil, false
	}
	return a.tryHandOffLocked(p)
}

// Pending reports the number of phrases not yet handed off.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.phrases)
}

func (a *Assembler) tryHandOffLocked(p *Phrase) (*Phrase, bool) {
	if !p.Done || p.handedOff || !p.Complete() {
		return nil, false
	}
	p.handedOff = true
	delete(a.phrases, p.ID)
	return p, true
}
