// Package app wires all Ringline subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithCaller,
// WithStreamHandler). When an option is not provided, New creates real
// implementations from the config and secrets.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ringline-ai/ringline/internal/callstore"
	"github.com/ringline-ai/ringline/internal/carrier"
	"github.com/ringline-ai/ringline/internal/config"
	"github.com/ringline-ai/ringline/internal/health"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/prompts"
	"github.com/ringline-ai/ringline/internal/session"
	openaiembed "github.com/ringline-ai/ringline/pkg/provider/embeddings/openai"
)

// shutdownTimeout bounds the graceful drain when Run's context is cancelled.
const shutdownTimeout = 10 * time.Second

// embeddingModel indexes transcript lines when store.embeddings is enabled.
const embeddingModel = "text-embedding-3-small"

// App owns all subsystem lifetimes and serves the Ringline HTTP surface.
type App struct {
	cfg     *config.Config
	secrets config.Secrets
	metrics *observe.Metrics

	cache  *prompts.Cache
	store  callstore.Store
	caller *carrier.Caller
	stream http.Handler

	srv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a call store instead of creating one from config.
func WithStore(s callstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCaller injects an outbound caller instead of creating one from the
// carrier secrets.
func WithCaller(c *carrier.Caller) Option {
	return func(a *App) { a.caller = c }
}

// WithStreamHandler injects the media stream handler instead of creating a
// session handler from config.
func WithStreamHandler(h http.Handler) Option {
	return func(a *App) { a.stream = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main (constructed per the config strategy fields); secrets come from
// the environment.
//
// New performs all initialisation synchronously: prompt cache warm-up, call
// store connection, outbound caller setup, and route assembly.
func New(ctx context.Context, cfg *config.Config, secrets config.Secrets, providers session.Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		secrets: secrets,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Static prompt cache ───────────────────────────────────────────
	a.initPrompts(ctx, providers)

	// ── 2. Call store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Outbound caller ───────────────────────────────────────────────
	a.initCaller()

	// ── 4. Media stream handler ──────────────────────────────────────────
	if a.stream == nil {
		a.stream = session.NewHandler(sessionConfig(cfg), providers, a.cache,
			session.WithStore(a.store))
	}

	// ── 5. Routes + server ───────────────────────────────────────────────
	handler, err := a.routes(providers)
	if err != nil {
		return nil, err
	}
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPrompts warms the static prompt cache. Synthesis failure is logged and
// non-fatal; sessions skip prompts whose files are absent.
func (a *App) initPrompts(ctx context.Context, providers session.Providers) {
	a.cache = prompts.New(a.cfg.Call.PromptDir, a.cfg.Call.Greeting)
	if providers.TTS == nil {
		slog.Warn("no TTS provider, static prompts will not be synthesized")
		return
	}
	if err := a.cache.Ensure(ctx, providers.TTS); err != nil {
		slog.Warn("static prompt synthesis incomplete", "error", err)
	}
}

// initStore connects the PostgreSQL call store, or falls back to the no-op
// store when persistence is disabled or the DSN is unset.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}
	if !a.cfg.Store.Enabled {
		a.store = callstore.Noop{}
		return nil
	}
	if a.secrets.PostgresDSN == "" {
		slog.Warn("store enabled but POSTGRES_DSN unset, call persistence disabled")
		a.store = callstore.Noop{}
		return nil
	}

	var storeOpts []callstore.PostgresOption
	if a.cfg.Store.Embeddings {
		if a.secrets.OpenAIAPIKey == "" {
			slog.Warn("store embeddings enabled but OPENAI_API_KEY unset, skipping semantic index")
		} else {
			emb, err := openaiembed.New(a.secrets.OpenAIAPIKey, embeddingModel)
			if err != nil {
				slog.Warn("embedder setup failed, skipping semantic index", "error", err)
			} else {
				storeOpts = append(storeOpts, callstore.WithEmbedder(emb))
			}
		}
	}

	store, err := callstore.NewPostgres(ctx, a.secrets.PostgresDSN, storeOpts...)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("call store connected")
	return nil
}

// initCaller sets up the outbound caller when the carrier credentials are
// present.
func (a *App) initCaller() {
	if a.caller != nil {
		return
	}
	if a.secrets.TwilioAccountSID == "" || a.secrets.TwilioAuthToken == "" || a.secrets.TwilioFrom == "" {
		slog.Info("carrier credentials not set, outbound calling disabled")
		return
	}
	a.caller = carrier.NewCaller(a.secrets.TwilioAccountSID, a.secrets.TwilioAuthToken, a.secrets.TwilioFrom)
}

// ─── Routes ──────────────────────────────────────────────────────────────────

// routes assembles the HTTP mux: the voice webhook, the outbound trigger,
// the media stream, health probes, and Prometheus metrics, all wrapped by
// the observe middleware.
func (a *App) routes(providers session.Providers) (http.Handler, error) {
	mux := http.NewServeMux()

	mux.Handle("/stream", a.stream)

	if a.cfg.Server.PublicBaseURL == "" {
		slog.Warn("public_base_url not set, /voice and /call_mom disabled")
	} else {
		streamURL, err := carrier.StreamURL(a.cfg.Server.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: build stream url: %w", err)
		}
		mux.Handle("POST /voice", carrier.VoiceHandler(streamURL))

		switch {
		case a.caller == nil:
			slog.Info("outbound caller not configured, /call_mom disabled")
		case a.secrets.CalleeNumber == "":
			slog.Warn("MOM_PHONE_NUMBER unset, /call_mom disabled")
		default:
			twimlURL := strings.TrimSuffix(a.cfg.Server.PublicBaseURL, "/") + "/voice"
			mux.Handle("/call_mom", carrier.TriggerHandler(a.caller, a.secrets.TriggerToken, a.secrets.CalleeNumber, twimlURL))
		}
	}

	health.New(a.checkers(providers)...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux), nil
}

// checkers builds the readiness probes: providers constructed, prompt
// directory writable, and a database ping when the store is backed by
// PostgreSQL.
func (a *App) checkers(providers session.Providers) []health.Checker {
	cs := []health.Checker{
		{Name: "providers", Check: func(context.Context) error {
			switch {
			case providers.ASR == nil:
				return errors.New("no ASR provider")
			case providers.LLM == nil:
				return errors.New("no LLM provider")
			case providers.TTS == nil:
				return errors.New("no TTS provider")
			}
			return nil
		}},
		{Name: "prompts", Check: func(context.Context) error {
			return dirWritable(a.cfg.Call.PromptDir)
		}},
	}
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		cs = append(cs, health.PingChecker("store", pinger.Ping))
	}
	return cs
}

// dirWritable probes dir by creating and removing a marker file.
func dirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".ready")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// sessionConfig maps the application config onto a session config.
func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.SystemPrompt = cfg.Call.SystemPrompt
	sc.MaxTurns = cfg.Call.MaxTurns
	sc.Streaming = cfg.TTS.Streaming
	sc.AudioDir = cfg.Call.AudioDir
	sc.TranscriptPath = cfg.Call.TranscriptPath
	sc.CaptureDir = cfg.Call.CaptureDir
	sc.Segmenter = cfg.Segmenter.Params()
	sc.ReminderInterval = cfg.Call.ReminderInterval.Std()
	sc.MaxSilence = cfg.Call.MaxSilence.Std()
	sc.HangupOnFarewell = cfg.Call.HangupOnFarewell
	sc.ClearMargin = cfg.Call.ClearMargin.Std()
	sc.ClearAfterEnd = cfg.Call.ClearAfterEnd
	sc.ClearAtStart = cfg.Call.ClearAtStart
	return sc
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the assembled HTTP handler. Useful in tests.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// Run serves HTTP until ctx is cancelled or the listener fails, then drains
// connections and runs the closers.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()
	slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.closeAll()
			return fmt.Errorf("app: serve: %w", err)
		}
		a.closeAll()
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains in-flight requests and tears down all subsystems in
// reverse-init order. It respects the context deadline: a live call that
// outlasts it is cut off when the server closes.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("server drain incomplete, closing", "error", err)
			_ = a.srv.Close()
			shutdownErr = err
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers outside the Shutdown path, when the listener
// itself already stopped.
func (a *App) closeAll() {
	a.stopOnce.Do(a.runClosers)
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "error", err)
		}
	}
}
