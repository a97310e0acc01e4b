package phrase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/metric"

	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/asr"
)

// Worker drains the chunk queue, transcribes each chunk, and reports results
// to the [Assembler]. Run several workers on the same queue to transcribe
// chunks of a long phrase concurrently.
type Worker struct {
	chunks     <-chan *Chunk
	transcribe asr.Transcriber
	assembler  *Assembler
	handoff    func(*Phrase)
	metrics    *observe.Metrics

	// captureDir, when non-empty, receives one WAV file per chunk for
	// offline recognition debugging.
	captureDir string
}

// WorkerOption is a functional option for [NewWorker].
type WorkerOption func(*Worker)

// WithCaptureDir enables per-chunk WAV capture into dir.
func WithCaptureDir(dir string) WorkerOption {
	return func(w *Worker) { w.captureDir = dir }
}

// NewWorker creates a worker that reads chunks, transcribes them with t, and
// calls handoff for every phrase the assembler reports complete.
func NewWorker(chunks <-chan *Chunk, t asr.Transcriber, a *Assembler, handoff func(*Phrase), opts ...WorkerOption) *Worker {
	w := &Worker{
		chunks:     chunks,
		transcribe: t,
		assembler:  a,
		handoff:    handoff,
		metrics:    observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run processes chunks until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-w.chunks:
			if !ok {
				return nil
			}
			w.process(ctx, c)
		}
	}
}

func (w *Worker) process(ctx context.Context, c *Chunk) {
	if w.captureDir != "" {
		w.capture(c)
	}

	res, err := w.transcribe.Transcribe(ctx, c.PCM)
	if err != nil {
		// A failed chunk still latches as transcribed (empty) so the
		// phrase can complete without it.
		slog.Error("chunk transcription failed",
			"phrase", c.PhraseID,
			"chunk", c.Index,
			"error", err,
		)
		w.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			observe.Attr("provider", "asr"),
		))
	}

	w.metrics.ASRDuration.Record(ctx, res.Timings.TotalMS/1000)
	slog.Debug("chunk transcribed",
		"phrase", c.PhraseID,
		"chunk", c.Index,
		"chars", len(res.Text),
		"build_ms", res.Timings.BuildMS,
		"infer_ms", res.Timings.InferMS,
		"total_ms", res.Timings.TotalMS,
	)

	if p, done := w.assembler.ChunkTranscribed(c, res.Text); done {
		w.handoff(p)
	}
}

func (w *Worker) capture(c *Chunk) {
	id := c.PhraseID
	if len(id) > 8 {
		id = id[:8]
	}
	path := filepath.Join(w.captureDir, fmt.Sprintf("chunk_%s_%03d.wav", id, c.Index))
	if err := audio.WriteWAV(path, c.PCM, audio.SampleRate); err != nil {
		slog.Warn("chunk capture failed", "path", path, "error", err)
	}
}
