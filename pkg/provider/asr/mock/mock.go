// Package mock provides an in-memory mock implementation of
// [asr.Transcriber] for use in unit tests.
//
// The mock records every call and allows the test to configure behavior via
// exported fields. It is safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/asr"
)

// Compile-time interface assertion.
var _ asr.Transcriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of [asr.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// TranscribeFunc, when set, is invoked for every Transcribe call and
	// its return values are used directly.
	TranscribeFunc func(ctx context.Context, pcm []byte) (asr.Result, error)

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result asr.Result

	// Err is the error returned by Transcribe when TranscribeFunc is nil.
	Err error

	// Calls records the PCM buffers of all Transcribe invocations.
	Calls [][]byte
}

// Transcribe implements [asr.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, pcm)
	fn := t.TranscribeFunc
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm)
	}
	return res, err
}

// CallCount returns the number of Transcribe invocations so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
