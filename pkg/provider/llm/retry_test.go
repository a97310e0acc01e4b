package llm_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ringline-ai/ringline/pkg/provider/llm"
)

type scriptedProvider struct {
	calls   atomic.Int32
	replies []string
	errs    []error
}

func (s *scriptedProvider) Complete(_ context.Context, _ []llm.Message) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	return s.replies[i], s.errs[i]
}

func TestRetryingSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{replies: []string{"hello"}, errs: []error{nil}}
	r := llm.NewRetrying(p, llm.WithSleep(func(time.Duration) {}))

	reply, err := r.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello" {
		t.Errorf("reply = %q, want %q", reply, "hello")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRetryingRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	var waits []time.Duration
	p := &scriptedProvider{
		replies: []string{"", "", "recovered"},
		errs:    []error{&llm.StatusError{Code: 502}, &llm.StatusError{Code: 503}, nil},
	}
	r := llm.NewRetrying(p, llm.WithSleep(func(d time.Duration) { waits = append(waits, d) }))

	reply, err := r.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("reply = %q, want %q", reply, "recovered")
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	want := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("backoffs = %v, want %v", waits, want)
	}
}

func TestRetryingGivesUpAfterBackoffsExhausted(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		replies: []string{"", "", ""},
		errs:    []error{&llm.StatusError{Code: 500}, &llm.StatusError{Code: 500}, &llm.StatusError{Code: 500}},
	}
	r := llm.NewRetrying(p, llm.WithSleep(func(time.Duration) {}))

	_, err := r.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries, got nil")
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryingDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		replies: []string{""},
		errs:    []error{&llm.StatusError{Code: 429}},
	}
	r := llm.NewRetrying(p, llm.WithSleep(func(time.Duration) {}))

	_, err := r.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRetryingDoesNotRetryPlainErrors(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		replies: []string{""},
		errs:    []error{errors.New("connection refused")},
	}
	r := llm.NewRetrying(p, llm.WithSleep(func(time.Duration) {}))

	_, err := r.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &llm.StatusError{Code: 500}, true},
		{"503", &llm.StatusError{Code: 503}, true},
		{"429", &llm.StatusError{Code: 429}, false},
		{"400", &llm.StatusError{Code: 400}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := llm.IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
