// Package config provides the configuration schema and loader for the
// Ringline voice agent.
//
// Configuration comes from a YAML file plus RINGLINE_* environment
// overrides. Secrets (API keys, tokens, the database DSN) are never part of
// the file schema; they are read exclusively from the environment via
// [SecretsFromEnv].
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ringline-ai/ringline/internal/segment"
)

// LogLevel controls log verbosity for the Ringline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ASRStrategy selects how caller speech is transcribed.
type ASRStrategy string

const (
	// ASRCloudAPI sends chunks to a hosted transcription API.
	ASRCloudAPI ASRStrategy = "cloud_api"

	// ASRLocalModel runs whisper.cpp in-process.
	ASRLocalModel ASRStrategy = "local_model"
)

// IsValid reports whether s is a recognised ASR strategy.
func (s ASRStrategy) IsValid() bool {
	return s == ASRCloudAPI || s == ASRLocalModel
}

// LLMBackend selects the completion client implementation.
type LLMBackend string

const (
	// BackendAnyLLM routes through the multi-provider any-llm client.
	BackendAnyLLM LLMBackend = "anyllm"

	// BackendOpenAI uses the native OpenAI client.
	BackendOpenAI LLMBackend = "openai"
)

// IsValid reports whether b is a recognised LLM backend.
func (b LLMBackend) IsValid() bool {
	return b == BackendAnyLLM || b == BackendOpenAI
}

// Duration is a [time.Duration] that decodes from YAML strings like "550ms".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"550ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Ringline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ASR       ASRConfig       `yaml:"asr"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Call      CallConfig      `yaml:"call"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Store     StoreConfig     `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicBaseURL is the externally reachable base URL of this service,
	// used to build the TwiML stream URL the carrier connects back to.
	PublicBaseURL string `yaml:"public_base_url"`
}

// ASRConfig selects and tunes the transcription provider.
type ASRConfig struct {
	// Strategy picks cloud_api or local_model.
	Strategy ASRStrategy `yaml:"strategy"`

	// Model is the API model name (cloud_api) or the GGML model file path
	// (local_model).
	Model string `yaml:"model"`

	// Language is the expected speech language for the local model.
	Language string `yaml:"language"`

	// BeamSize tunes local decoding. Zero keeps the provider default.
	BeamSize int `yaml:"beam_size"`
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	// Backend picks the client implementation.
	Backend LLMBackend `yaml:"backend"`

	// Provider names the upstream for the anyllm backend (openai,
	// ollama, anthropic, ...).
	Provider string `yaml:"provider"`

	// Model is the model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature, when non-zero, overrides the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens bounds the reply length. Zero keeps the provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// TTSConfig tunes speech synthesis.
type TTSConfig struct {
	// Model is the synthesis model identifier.
	Model string `yaml:"model"`

	// Stability, SimilarityBoost and Speed are the voice settings sent
	// with every request.
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	Speed           float64 `yaml:"speed"`

	// Streaming plays replies via the streaming synthesis endpoint; when
	// false, replies are pre-rendered to MP3 files before playback.
	Streaming bool `yaml:"streaming"`
}

// CallConfig shapes the conversation itself.
type CallConfig struct {
	// Greeting is the opening line spoken when the callee answers.
	Greeting string `yaml:"greeting"`

	// SystemPrompt is the model's standing instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTurns bounds the conversation window sent to the model.
	MaxTurns int `yaml:"max_turns"`

	// ReminderInterval is the effective caller silence between reminder
	// prompts.
	ReminderInterval Duration `yaml:"reminder_interval"`

	// MaxSilence is the effective caller silence that ends the call.
	MaxSilence Duration `yaml:"max_silence"`

	// HangupOnFarewell ends the call with the goodbye prompt when the
	// caller's phrase matches the farewell lexicon.
	HangupOnFarewell bool `yaml:"hangup_on_farewell"`

	// ClearMargin is the settle delay before the post-playback buffer
	// clear.
	ClearMargin Duration `yaml:"clear_margin"`

	// ClearAfterEnd sends a buffer clear after each completed playback.
	ClearAfterEnd bool `yaml:"clear_after_end"`

	// ClearAtStart sends an extra buffer clear before each playback.
	ClearAtStart bool `yaml:"clear_at_start"`

	// PromptDir caches the static prompt MP3s.
	PromptDir string `yaml:"prompt_dir"`

	// AudioDir receives per-reply MP3s in non-streaming mode.
	AudioDir string `yaml:"audio_dir"`

	// TranscriptPath, when non-empty, receives the call transcript.
	TranscriptPath string `yaml:"transcript_path"`

	// CaptureDir, when non-empty, receives per-chunk WAV captures for
	// recognition debugging.
	CaptureDir string `yaml:"capture_dir"`
}

// SegmenterConfig tunes speech detection. Zero values keep the defaults
// from [segment.DefaultParams].
type SegmenterConfig struct {
	MinRMS            float64  `yaml:"min_rms"`
	ChunkSilence      Duration `yaml:"chunk_silence"`
	DoneSpeaking      Duration `yaml:"done_speaking"`
	MinChunk          Duration `yaml:"min_chunk"`
	MaxChunk          Duration `yaml:"max_chunk"`
	LeadIn            Duration `yaml:"lead_in"`
	BargeInMultiplier float64  `yaml:"barge_in_multiplier"`
	BargeInFrames     int      `yaml:"barge_in_frames"`
}

// Params merges the configured overrides onto [segment.DefaultParams].
func (s SegmenterConfig) Params() segment.Params {
	p := segment.DefaultParams()
	if s.MinRMS > 0 {
		p.MinRMS = s.MinRMS
	}
	if s.ChunkSilence > 0 {
		p.ChunkSilence = s.ChunkSilence.Std()
	}
	if s.DoneSpeaking > 0 {
		p.DoneSpeaking = s.DoneSpeaking.Std()
	}
	if s.MinChunk > 0 {
		p.MinChunk = s.MinChunk.Std()
	}
	if s.MaxChunk > 0 {
		p.MaxChunk = s.MaxChunk.Std()
	}
	if s.LeadIn > 0 {
		p.LeadIn = s.LeadIn.Std()
	}
	if s.BargeInMultiplier > 0 {
		p.BargeInMultiplier = s.BargeInMultiplier
	}
	if s.BargeInFrames > 0 {
		p.BargeInFrames = s.BargeInFrames
	}
	return p
}

// StoreConfig enables call persistence. The DSN itself is a secret and
// comes from the environment.
type StoreConfig struct {
	// Enabled turns on the PostgreSQL call store. Requires POSTGRES_DSN.
	Enabled bool `yaml:"enabled"`

	// Embeddings enables semantic indexing of transcript lines. Requires
	// an OpenAI API key.
	Embeddings bool `yaml:"embeddings"`
}

// Default returns the production defaults. A config file only needs to
// state what differs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		ASR: ASRConfig{
			Strategy: ASRCloudAPI,
			Model:    "whisper-1",
			Language: "en",
			BeamSize: 5,
		},
		LLM: LLMConfig{
			Backend:     BackendOpenAI,
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   150,
		},
		TTS: TTSConfig{
			Model:           "eleven_flash_v2_5",
			Stability:       0.55,
			SimilarityBoost: 0.70,
			Speed:           0.90,
			Streaming:       false,
		},
		Call: CallConfig{
			Greeting:         "Hello! How are you doing today?",
			SystemPrompt:     "You are a friendly voice assistant on a phone call. Keep replies short and conversational.",
			MaxTurns:         2,
			ReminderInterval: Duration(10 * time.Second),
			MaxSilence:       Duration(30 * time.Second),
			ClearMargin:      Duration(250 * time.Millisecond),
			ClearAfterEnd:    true,
			PromptDir:        "data/prompts",
			AudioDir:         "data/audio",
			TranscriptPath:   "data/transcript.log",
		},
	}
}
