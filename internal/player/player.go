// Package player owns the assistant's voice on the wire: it plays queued
// speech jobs to the carrier at the real-time frame rate, and implements
// interruption.
//
// Exactly one Run loop services the job queue per call, so at most one
// playback is in flight. Each job carries the generation current at enqueue
// time; bumping the generation invalidates every queued and in-flight job,
// which is how barge-in cancels the assistant mid-sentence without tearing
// down the call.
//
// The player sends at most one buffer clear to the carrier per finished
// playback: always on interruption, and on completion unless
// [Config.DisableClearAfterEnd] is set.
package player

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// frameInterval is the carrier pacing interval (one 160-byte μ-law frame).
const frameInterval = 20 * time.Millisecond

// Sender delivers outbound audio to the carrier connection.
type Sender interface {
	// SendMedia sends one base64 μ-law frame payload.
	SendMedia(ctx context.Context, payload string) error

	// SendClear asks the carrier to drop its buffered outbound audio.
	SendClear(ctx context.Context) error
}

// Listener observes playback boundaries. The silence clock uses it to
// exclude assistant speech from caller-silence accounting.
type Listener interface {
	PlaybackStarted()
	PlaybackStopped()
}

// Kind selects the audio source of a [Job].
type Kind int

// Job kinds.
const (
	// KindFile plays a conditioned MP3 from disk (static prompts,
	// pre-rendered replies).
	KindFile Kind = iota

	// KindStream synthesizes the job text via streaming TTS and plays
	// it as it arrives.
	KindStream
)

// Job is one queued playback.
type Job struct {
	// Kind selects the audio source.
	Kind Kind

	// Value is the file path (KindFile) or the text to synthesize
	// (KindStream).
	Value string

	// Generation is the cancellation token captured at enqueue time.
	Generation uint64

	// TranscriptText, when non-empty, is appended as an Assistant
	// transcript line once at least one frame of this job reached the
	// caller.
	TranscriptText string
}

// Config tunes playback behavior.
type Config struct {
	// ClearMargin is the settle delay between the last frame of a
	// completed playback and the buffer clear sent after it.
	ClearMargin time.Duration

	// ClearAtStart, when set, sends one extra buffer clear immediately
	// before the first frame of every playback. Some carrier gateways
	// hold stale audio across playbacks.
	ClearAtStart bool

	// DisableClearAfterEnd suppresses the buffer clear after a completed
	// playback. The barge-in clear is always sent.
	DisableClearAfterEnd bool
}

// Player services the playback job queue for one call.
type Player struct {
	cfg      Config
	sender   Sender
	synth    tts.Synthesizer
	listener Listener
	log      *transcript.Log
	metrics  *observe.Metrics

	// decodeFile turns an MP3 path into carrier frames. Replaced in
	// tests to avoid real audio fixtures.
	decodeFile func(path string) ([]string, error)

	// drainUpstream, when set, is invoked on barge-in so the session can
	// empty its own queues feeding this player.
	drainUpstream func()

	jobs       chan Job
	generation atomic.Uint64
	bargeIn    atomic.Bool
	active     atomic.Bool
}

// Option is a functional option for [New].
type Option func(*Player)

// WithListener attaches a playback boundary listener.
func WithListener(l Listener) Option {
	return func(p *Player) { p.listener = l }
}

// WithTranscript attaches the call transcript for assistant lines.
func WithTranscript(log *transcript.Log) Option {
	return func(p *Player) { p.log = log }
}

// WithDecodeFile replaces the MP3 frame decoder.
func WithDecodeFile(fn func(path string) ([]string, error)) Option {
	return func(p *Player) { p.decodeFile = fn }
}

// WithDrainUpstream registers a hook invoked on barge-in, after the job
// queue is drained.
func WithDrainUpstream(fn func()) Option {
	return func(p *Player) { p.drainUpstream = fn }
}

// New creates a Player writing to sender. synth is only required when
// stream jobs are enqueued.
func New(sender Sender, synth tts.Synthesizer, cfg Config, opts ...Option) *Player {
	p := &Player{
		cfg:        cfg,
		sender:     sender,
		synth:      synth,
		metrics:    observe.DefaultMetrics(),
		decodeFile: audio.FramesFromMP3File,
		jobs:       make(chan Job, 64),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enqueue queues a playback job stamped with the current generation.
// Returns false when the queue is full; the job is dropped, not blocked on.
func (p *Player) Enqueue(kind Kind, value, transcriptText string) bool {
	job := Job{
		Kind:           kind,
		Value:          value,
		Generation:     p.generation.Load(),
		TranscriptText: transcriptText,
	}
	select {
	case p.jobs <- job:
		return true
	default:
		slog.Warn("playback queue full, dropping job", "kind", kind, "value", value)
		return false
	}
}

// PlayFile queues playback of a pre-rendered MP3.
func (p *Player) PlayFile(path, transcriptText string) bool {
	return p.Enqueue(KindFile, path, transcriptText)
}

// PlayStream queues streaming synthesis and playback of text.
func (p *Player) PlayStream(text, transcriptText string) bool {
	return p.Enqueue(KindStream, text, transcriptText)
}

// Active reports whether a playback is currently sending frames.
func (p *Player) Active() bool { return p.active.Load() }

// Idle reports whether nothing is playing and nothing is queued.
func (p *Player) Idle() bool { return !p.active.Load() && len(p.jobs) == 0 }

// WaitIdle blocks until the player is idle, ctx is cancelled, or timeout
// elapses. Reports whether idle was reached.
func (p *Player) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.Idle() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// SignalBargeIn requests interruption of the current playback. It is
// single-shot per playback: the first call during an active playback wins,
// later calls and calls while idle report false.
func (p *Player) SignalBargeIn() bool {
	if !p.active.Load() {
		return false
	}
	return p.bargeIn.CompareAndSwap(false, true)
}

// Generation returns the current cancellation generation.
func (p *Player) Generation() uint64 { return p.generation.Load() }

// Run services the job queue until ctx is cancelled.
func (p *Player) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-p.jobs:
			p.play(ctx, job)
		}
	}
}

func (p *Player) play(ctx context.Context, job Job) {
	if job.Generation != p.generation.Load() {
		slog.Debug("skipping stale playback job", "job_generation", job.Generation)
		return
	}

	p.bargeIn.Store(false)
	p.active.Store(true)
	if p.listener != nil {
		p.listener.PlaybackStarted()
	}
	p.metrics.ActivePlayback.Add(ctx, 1)
	defer func() {
		p.active.Store(false)
		if p.listener != nil {
			p.listener.PlaybackStopped()
		}
		p.metrics.ActivePlayback.Add(ctx, -1)
	}()

	// Each job runs under its own context: when an interruption stops the
	// frame loop, cancelling it winds down the synthesis stream and the
	// reframer right away instead of at call end.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	frames, err := p.frameSource(jobCtx, job)
	if err != nil {
		slog.Error("playback source failed", "kind", job.Kind, "error", err)
		return
	}

	sent, completed := p.sendFrames(jobCtx, job, frames)
	cancelJob()

	switch {
	case completed:
		if !p.cfg.DisableClearAfterEnd {
			p.settle(ctx)
			_ = p.sender.SendClear(ctx)
		}
		if sent > 0 && job.TranscriptText != "" && p.log != nil {
			p.log.Append(transcript.RoleAssistant, job.TranscriptText)
		}
		slog.Debug("playback completed", "frames", sent)

	case p.bargeIn.Load():
		p.generation.Add(1)
		p.drainJobs()
		if p.drainUpstream != nil {
			p.drainUpstream()
		}
		_ = p.sender.SendClear(ctx)
		p.metrics.BargeIns.Add(ctx, 1)
		if sent > 0 && job.TranscriptText != "" && p.log != nil {
			p.log.Append(transcript.RoleAssistant, job.TranscriptText+" [interrupted]")
		}
		slog.Info("playback interrupted by caller", "frames_sent", sent)

	default:
		// Cancelled or send failure: the connection owner handles
		// cleanup, nothing to clear here.
	}
}

// sendFrames paces frames onto the wire at 20 ms intervals against a fixed
// schedule. Returns the number of frames sent and whether the source was
// exhausted without interruption.
func (p *Player) sendFrames(ctx context.Context, job Job, frames <-chan string) (int, bool) {
	base := time.Now()
	sent := 0
	clearedAtStart := false

	for frame := range frames {
		if ctx.Err() != nil || p.bargeIn.Load() || job.Generation != p.generation.Load() {
			return sent, false
		}
		if p.cfg.ClearAtStart && !clearedAtStart {
			clearedAtStart = true
			_ = p.sender.SendClear(ctx)
		}
		if err := p.sender.SendMedia(ctx, frame); err != nil {
			slog.Warn("media send failed, stopping playback", "error", err)
			return sent, false
		}
		sent++
		p.metrics.FramesSent.Add(ctx, 1)

		// Schedule against the playback start, not the previous frame,
		// so per-frame jitter does not accumulate.
		target := base.Add(time.Duration(sent) * frameInterval)
		if wait := time.Until(target); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return sent, false
			}
		} else {
			p.metrics.PacingDrift.Record(ctx, (-wait).Seconds(), metric.WithAttributes(
				observe.Attr("kind", kindName(job.Kind)),
			))
		}
	}
	return sent, true
}

// frameSource resolves the job into a frame channel.
func (p *Player) frameSource(ctx context.Context, job Job) (<-chan string, error) {
	switch job.Kind {
	case KindStream:
		raw, err := p.synth.SynthesizeStream(ctx, job.Value)
		if err != nil {
			return nil, err
		}
		return p.reframe(ctx, raw), nil

	default:
		frames, err := p.decodeFile(job.Value)
		if err != nil {
			// A missing or broken file completes with zero frames
			// rather than wedging the queue.
			slog.Warn("playback file unavailable", "path", job.Value, "error", err)
			frames = nil
		}
		out := make(chan string, len(frames))
		for _, f := range frames {
			out <- f
		}
		close(out)
		return out, nil
	}
}

func (p *Player) settle(ctx context.Context) {
	if p.cfg.ClearMargin <= 0 {
		return
	}
	timer := time.NewTimer(p.cfg.ClearMargin)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (p *Player) drainJobs() {
	for {
		select {
		case <-p.jobs:
		default:
			return
		}
	}
}

func kindName(k Kind) string {
	if k == KindStream {
		return "stream"
	}
	return "file"
}
