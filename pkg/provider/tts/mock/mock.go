// Package mock provides an in-memory mock implementation of
// [tts.Synthesizer] for use in unit tests.
//
// The mock records every call and allows the test to configure behavior via
// exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock implementation of [tts.Synthesizer].
type Synthesizer struct {
	mu sync.Mutex

	// SynthesizeFunc, when set, is invoked for every Synthesize call.
	SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStreamFunc, when set, is invoked for every
	// SynthesizeStream call.
	SynthesizeStreamFunc func(ctx context.Context, text string) (<-chan []byte, error)

	// MP3 is returned by Synthesize when SynthesizeFunc is nil.
	MP3 []byte

	// StreamChunks are emitted (then the channel closed) by
	// SynthesizeStream when SynthesizeStreamFunc is nil.
	StreamChunks [][]byte

	// Err is returned by either method when the corresponding func
	// field is nil.
	Err error

	// SynthesizeCalls records the texts of all Synthesize invocations.
	SynthesizeCalls []string

	// StreamCalls records the texts of all SynthesizeStream invocations.
	StreamCalls []string
}

// Synthesize implements [tts.Synthesizer].
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, text)
	fn := s.SynthesizeFunc
	mp3, err := s.MP3, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return mp3, err
}

// SynthesizeStream implements [tts.Synthesizer].
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	s.mu.Lock()
	s.StreamCalls = append(s.StreamCalls, text)
	fn := s.SynthesizeStreamFunc
	chunks, err := s.StreamChunks, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}
