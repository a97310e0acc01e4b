// Package asr defines the Transcriber interface for speech recognition
// backends.
//
// A transcriber receives one buffered utterance chunk of telephony audio
// (little-endian 16-bit mono PCM at 8 kHz) and returns its text. Chunks are
// independent: implementations must not carry recognition state between
// calls, because chunks of the same phrase may be transcribed concurrently
// and out of order.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Timings breaks down where a transcription request spent its time.
// All values are wall-clock milliseconds.
type Timings struct {
	// BuildMS is the time spent preparing the request audio: container
	// packaging for cloud backends, upsampling for local inference.
	BuildMS float64

	// InferMS is the time spent in the recognition call itself.
	InferMS float64

	// TotalMS is the end-to-end time of the Transcribe call.
	TotalMS float64
}

// Result is the outcome of transcribing one utterance chunk.
type Result struct {
	// Text is the recognized text, whitespace-trimmed. Empty when the
	// backend heard nothing intelligible.
	Text string

	// Timings reports the latency breakdown of this request.
	Timings Timings
}

// Transcriber converts one chunk of 8 kHz 16-bit mono PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (Result, error)
}
