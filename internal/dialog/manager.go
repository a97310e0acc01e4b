package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ringline-ai/ringline/internal/intent"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/phrase"
	"github.com/ringline-ai/ringline/internal/prompts"
	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/provider/llm"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// ErrorPlaceholder is recorded in the history when a completion fails, so
// the model sees that its previous turn produced nothing. It is never
// played to the caller.
const ErrorPlaceholder = "[Error generating response]"

const defaultLLMTimeout = 15 * time.Second

// Voice is the playback surface the manager speaks through. *player.Player
// satisfies it.
type Voice interface {
	// PlayFile queues a pre-rendered MP3.
	PlayFile(path, transcriptText string) bool

	// PlayStream queues streaming synthesis of text.
	PlayStream(text, transcriptText string) bool
}

// Config selects how replies are rendered.
type Config struct {
	// Streaming plays replies via streaming TTS. When false, replies are
	// synthesized to MP3 files under AudioDir and played from disk.
	Streaming bool

	// AudioDir receives per-reply MP3 files in non-streaming mode.
	AudioDir string
}

// Manager consumes finished caller phrases and produces spoken replies. It
// is the sole writer of the conversation history.
type Manager struct {
	cfg      Config
	history  *History
	provider llm.Provider
	voice    Voice
	cache    *prompts.Cache
	synth    tts.Synthesizer
	log      *transcript.Log
	farewell *intent.Detector
	metrics  *observe.Metrics

	onFarewell func()
	llmTimeout time.Duration

	phrases chan *phrase.Phrase
}

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithTranscript attaches the call transcript for caller lines.
func WithTranscript(log *transcript.Log) Option {
	return func(m *Manager) { m.log = log }
}

// WithSynthesizer provides the synthesizer used for file-mode replies.
func WithSynthesizer(synth tts.Synthesizer) Option {
	return func(m *Manager) { m.synth = synth }
}

// WithFarewellDetector replaces the default farewell detector. Passing nil
// disables farewell handling.
func WithFarewellDetector(d *intent.Detector) Option {
	return func(m *Manager) { m.farewell = d }
}

// WithOnFarewell registers a hook invoked after the goodbye prompt is
// queued in response to a caller farewell.
func WithOnFarewell(fn func()) Option {
	return func(m *Manager) { m.onFarewell = fn }
}

// WithLLMTimeout bounds each completion call.
func WithLLMTimeout(d time.Duration) Option {
	return func(m *Manager) { m.llmTimeout = d }
}

// NewManager wires a dialog manager. cache provides the goodbye prompt
// played on caller farewell.
func NewManager(history *History, provider llm.Provider, voice Voice, cache *prompts.Cache, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		history:    history,
		provider:   provider,
		voice:      voice,
		cache:      cache,
		farewell:   intent.NewDetector(),
		metrics:    observe.DefaultMetrics(),
		llmTimeout: defaultLLMTimeout,
		phrases:    make(chan *phrase.Phrase, 16),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit hands a finished phrase to the manager without blocking. Returns
// false when the queue is full and the phrase was dropped.
func (m *Manager) Submit(p *phrase.Phrase) bool {
	select {
	case m.phrases <- p:
		return true
	default:
		slog.Warn("dialog queue full, dropping phrase", "phrase_id", p.ID)
		return false
	}
}

// Run consumes phrases until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-m.phrases:
			m.handle(ctx, p)
		}
	}
}

func (m *Manager) handle(ctx context.Context, p *phrase.Phrase) {
	text := p.Text()
	if text == "" {
		slog.Debug("phrase produced no text, skipping turn", "phrase_id", p.ID)
		return
	}
	if m.log != nil {
		m.log.Append(transcript.RoleCaller, text)
	}
	slog.Info("caller said", "phrase_id", p.ID, "text", text)

	if m.farewell != nil && m.farewell.IsFarewell(text) {
		slog.Info("farewell detected, queueing goodbye")
		m.voice.PlayFile(m.cache.Path(prompts.KindGoodbye), prompts.GoodbyeText)
		if m.onFarewell != nil {
			m.onFarewell()
		}
		return
	}

	m.history.AppendUser(text)

	turnStart := time.Now()
	reply, err := m.complete(ctx)
	if err != nil {
		slog.Error("completion failed", "error", err)
		m.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("provider", "llm")))
		// The placeholder keeps the history shape intact but the
		// caller hears nothing; the silence watchdog covers recovery.
		m.history.AppendAssistant(ErrorPlaceholder)
		return
	}

	reply = Normalize(reply)
	if reply == "" {
		slog.Warn("model returned empty reply, skipping turn")
		return
	}
	m.history.AppendAssistant(reply)

	if m.cfg.Streaming || m.synth == nil {
		m.voice.PlayStream(reply, reply)
	} else {
		path, err := m.renderReply(ctx, reply)
		if err != nil {
			slog.Error("reply synthesis failed", "error", err)
			m.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("provider", "tts")))
			return
		}
		m.voice.PlayFile(path, reply)
	}
	m.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
}

func (m *Manager) complete(ctx context.Context) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.llmTimeout)
	defer cancel()

	start := time.Now()
	reply, err := m.provider.Complete(cctx, m.history.Messages())
	m.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	return reply, err
}

// renderReply synthesizes reply to a fresh MP3 under AudioDir.
func (m *Manager) renderReply(ctx context.Context, reply string) (string, error) {
	start := time.Now()
	mp3, err := m.synth.Synthesize(ctx, reply)
	m.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(m.cfg.AudioDir, "reply_"+uuid.NewString()+".mp3")
	if err := os.WriteFile(path, mp3, 0o644); err != nil {
		return "", fmt.Errorf("write reply audio: %w", err)
	}
	return path, nil
}
