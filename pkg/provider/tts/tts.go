// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Two synthesis paths serve different latency needs. Synthesize returns a
// complete MP3 for pre-rendered prompts that are conditioned and cached on
// disk before a call starts. SynthesizeStream returns carrier-ready μ-law
// audio incrementally, so playback can begin before synthesis finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text to a complete MP3 (44.1 kHz source quality,
	// suitable for the telephony conditioning chain).
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStream renders text to raw 8 kHz μ-law bytes, delivered
	// incrementally on the returned channel. The channel is closed when
	// synthesis completes, fails, or ctx is cancelled. Chunk boundaries
	// carry no meaning; callers must reframe the byte stream themselves.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}
