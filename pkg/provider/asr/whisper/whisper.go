// Package whisper provides an asr.Transcriber backed by the whisper.cpp CGO
// bindings, running inference in-process with no network hop. The whisper.cpp
// static library (libwhisper.a) and headers (whisper.h) must be available at
// link time via LIBRARY_PATH and C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/asr"
)

// Compile-time assertion that Provider satisfies asr.Transcriber.
var _ asr.Transcriber = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultBeamSize = 5

	// Whisper models are trained on 16 kHz audio; telephony input arrives
	// at 8 kHz and is upsampled before inference.
	whisperSampleRate = 16000
)

// Provider implements asr.Transcriber using whisper.cpp Go bindings (CGO).
// The model is loaded once at startup and shared across all transcription
// calls; each call gets its own whisper context, so concurrent calls from a
// worker pool do not interfere.
type Provider struct {
	model    whisperlib.Model
	language string
	beamSize int
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the recognition language code (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBeamSize sets the beam search width. Defaults to 5.
func WithBeamSize(n int) Option {
	return func(p *Provider) { p.beamSize = n }
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
		beamSize: defaultBeamSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe upsamples the 8 kHz chunk to 16 kHz float32, runs whisper.cpp
// inference with a fresh context, and returns the concatenated segment text.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	start := time.Now()
	samples := audio.UpsampleDoubleFloat32(pcm)
	buildDone := time.Now()

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}
	wctx.SetBeamSize(p.beamSize)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	end := time.Now()

	return asr.Result{
		Text: strings.Join(parts, " "),
		Timings: asr.Timings{
			BuildMS: float64(buildDone.Sub(start).Microseconds()) / 1000,
			InferMS: float64(end.Sub(buildDone).Microseconds()) / 1000,
			TotalMS: float64(end.Sub(start).Microseconds()) / 1000,
		},
	}, nil
}
