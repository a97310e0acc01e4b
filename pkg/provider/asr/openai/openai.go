// Package openai provides an asr.Transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/asr"
)

// Compile-time assertion that Provider satisfies asr.Transcriber.
var _ asr.Transcriber = (*Provider)(nil)

// Provider implements asr.Transcriber using the OpenAI API. Each chunk is
// packaged as an 8 kHz mono WAV and submitted as one transcription request.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI transcription Provider. model selects the
// transcription model, e.g. "whisper-1" or "gpt-4o-mini-transcribe".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai asr: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements asr.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	start := time.Now()
	wav := audio.BuildWAV(pcm, audio.SampleRate)
	buildDone := time.Now()

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai asr: transcribe: %w", err)
	}
	end := time.Now()

	return asr.Result{
		Text: strings.TrimSpace(resp.Text),
		Timings: asr.Timings{
			BuildMS: float64(buildDone.Sub(start).Microseconds()) / 1000,
			InferMS: float64(end.Sub(buildDone).Microseconds()) / 1000,
			TotalMS: float64(end.Sub(start).Microseconds()) / 1000,
		},
	}, nil
}
