// Command ringline is the main entry point for the Ringline voice agent
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/ringline-ai/ringline/internal/app"
	"github.com/ringline-ai/ringline/internal/config"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/session"
	asropenai "github.com/ringline-ai/ringline/pkg/provider/asr/openai"
	"github.com/ringline-ai/ringline/pkg/provider/asr/whisper"
	"github.com/ringline-ai/ringline/pkg/provider/llm"
	"github.com/ringline-ai/ringline/pkg/provider/llm/anyllm"
	llmopenai "github.com/ringline-ai/ringline/pkg/provider/llm/openai"
	"github.com/ringline-ai/ringline/pkg/provider/tts/elevenlabs"
)

// version is stamped by the build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "ringline.yml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	// A .env file is a development convenience; deployments use the real
	// process environment.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringline: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("ringline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	secrets := config.SecretsFromEnv()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "ringline",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics provider shutdown error", "error", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, secrets)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("provider close error", "error", err)
			}
		}
	}()

	printStartupSummary(cfg, secrets)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, secrets, providers)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the ASR, LLM, and TTS backends selected by the
// config strategy fields. Returned closers release native resources (the
// local whisper model) and run after the application stops.
func buildProviders(cfg *config.Config, secrets config.Secrets) (session.Providers, []func() error, error) {
	var ps session.Providers
	var closers []func() error

	// ── ASR ───────────────────────────────────────────────────────────────────
	switch cfg.ASR.Strategy {
	case config.ASRLocalModel:
		var opts []whisper.Option
		if cfg.ASR.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.ASR.Language))
		}
		if cfg.ASR.BeamSize > 0 {
			opts = append(opts, whisper.WithBeamSize(cfg.ASR.BeamSize))
		}
		p, err := whisper.New(cfg.ASR.Model, opts...)
		if err != nil {
			return ps, closers, fmt.Errorf("create local whisper transcriber: %w", err)
		}
		closers = append(closers, p.Close)
		ps.ASR = p
		slog.Info("provider created", "kind", "asr", "name", "whisper", "model", cfg.ASR.Model)

	default: // cloud_api
		p, err := asropenai.New(secrets.OpenAIAPIKey, cfg.ASR.Model)
		if err != nil {
			return ps, closers, fmt.Errorf("create cloud transcriber: %w", err)
		}
		ps.ASR = p
		slog.Info("provider created", "kind", "asr", "name", "openai", "model", cfg.ASR.Model)
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	var base llm.Provider
	switch cfg.LLM.Backend {
	case config.BackendAnyLLM:
		var tune []anyllm.Option
		if cfg.LLM.Temperature > 0 {
			tune = append(tune, anyllm.WithTemperature(cfg.LLM.Temperature))
		}
		if cfg.LLM.MaxTokens > 0 {
			tune = append(tune, anyllm.WithMaxTokens(cfg.LLM.MaxTokens))
		}
		var backendOpts []anyllmlib.Option
		if cfg.LLM.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
		}
		p, err := anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, tune, backendOpts...)
		if err != nil {
			return ps, closers, fmt.Errorf("create anyllm provider %q: %w", cfg.LLM.Provider, err)
		}
		base = p
		slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	default: // openai
		var opts []llmopenai.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.Temperature > 0 {
			opts = append(opts, llmopenai.WithTemperature(cfg.LLM.Temperature))
		}
		if cfg.LLM.MaxTokens > 0 {
			opts = append(opts, llmopenai.WithMaxTokens(cfg.LLM.MaxTokens))
		}
		p, err := llmopenai.New(secrets.OpenAIAPIKey, cfg.LLM.Model, opts...)
		if err != nil {
			return ps, closers, fmt.Errorf("create openai provider: %w", err)
		}
		base = p
		slog.Info("provider created", "kind", "llm", "name", "openai", "model", cfg.LLM.Model)
	}
	ps.LLM = llm.NewRetrying(base)

	// ── TTS ───────────────────────────────────────────────────────────────────
	ttsOpts := []elevenlabs.Option{
		elevenlabs.WithVoiceSettings(cfg.TTS.Stability, cfg.TTS.SimilarityBoost, cfg.TTS.Speed),
	}
	if cfg.TTS.Model != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithModel(cfg.TTS.Model))
	}
	synth, err := elevenlabs.New(secrets.ElevenLabsAPIKey, secrets.ElevenLabsVoice, ttsOpts...)
	if err != nil {
		return ps, closers, fmt.Errorf("create elevenlabs synthesizer: %w", err)
	}
	ps.TTS = synth
	slog.Info("provider created", "kind", "tts", "name", "elevenlabs", "model", cfg.TTS.Model)

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, secrets config.Secrets) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Ringline — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("ASR", string(cfg.ASR.Strategy)+" / "+cfg.ASR.Model)
	printEntry("LLM", string(cfg.LLM.Backend)+" / "+cfg.LLM.Model)
	printEntry("TTS", "elevenlabs / "+cfg.TTS.Model)
	printEntry("Store", onOff(cfg.Store.Enabled && secrets.PostgresDSN != ""))
	printEntry("Outbound", onOff(secrets.TwilioAccountSID != "" && secrets.CalleeNumber != ""))
	printEntry("Listen", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s : %-19s  ║\n", kind, value)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
