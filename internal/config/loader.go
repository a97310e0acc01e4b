package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies RINGLINE_*
// environment overrides, and returns a validated [Config]. A missing file
// is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults,
// applies environment overrides, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides select fields from the environment. RINGLINE_*
// variables cover deployment plumbing; the bare tuning names
// (MAX_TURNS, MIN_SPEECH_RMS_THRESHOLD, ...) adjust call behavior
// without a config file edit.
func applyEnv(cfg *Config) {
	set := func(target *string, key string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	set(&cfg.Server.ListenAddr, "RINGLINE_LISTEN_ADDR")
	set(&cfg.Server.PublicBaseURL, "RINGLINE_PUBLIC_BASE_URL")
	if v := os.Getenv("RINGLINE_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("RINGLINE_ASR_STRATEGY"); v != "" {
		cfg.ASR.Strategy = ASRStrategy(v)
	}
	set(&cfg.ASR.Model, "RINGLINE_ASR_MODEL")
	if v := os.Getenv("RINGLINE_LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = LLMBackend(v)
	}
	set(&cfg.LLM.Provider, "RINGLINE_LLM_PROVIDER")
	set(&cfg.LLM.Model, "RINGLINE_LLM_MODEL")
	set(&cfg.LLM.BaseURL, "RINGLINE_LLM_BASE_URL")

	envInt("MAX_TURNS", &cfg.Call.MaxTurns)
	envFloat("MIN_SPEECH_RMS_THRESHOLD", &cfg.Segmenter.MinRMS)
	envSeconds("CHUNK_SILENCE_DURATION_SECONDS", &cfg.Segmenter.ChunkSilence)
	envSeconds("DONE_SPEAKING_SILENCE_DURATION_SECONDS", &cfg.Segmenter.DoneSpeaking)
	envSeconds("MINCHUNK_DURATION_SECONDS", &cfg.Segmenter.MinChunk)
	envSeconds("MAXCHUNK_DURATION_SECONDS", &cfg.Segmenter.MaxChunk)
	envSeconds("LEAD_IN_DURATION_SECONDS", &cfg.Segmenter.LeadIn)
	envFloat("BARGE_IN_MULTIPLIER", &cfg.Segmenter.BargeInMultiplier)
	envInt("BARGE_IN_CONSEC_FRAMES", &cfg.Segmenter.BargeInFrames)
	envSeconds("PLAYBACK_CLEAR_MARGIN", &cfg.Call.ClearMargin)
	envBool("PLAYBACK_CLEAR_AFTER_END", &cfg.Call.ClearAfterEnd)
	envBool("ELEVEN_STREAMING", &cfg.TTS.Streaming)

	// A non-positive MAX_SILENCE_SECONDS disables the silence watchdog.
	if v := os.Getenv("MAX_SILENCE_SECONDS"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			if secs <= 0 {
				cfg.Call.MaxSilence = 0
			} else {
				cfg.Call.MaxSilence = Duration(time.Duration(secs * float64(time.Second)))
			}
		}
	}

	if v := os.Getenv("STORE_ALL_RESPONSE_AUDIO"); v == "true" || v == "1" {
		if cfg.Call.CaptureDir == "" {
			cfg.Call.CaptureDir = "data/capture"
		}
	}
}

// envInt, envFloat, envBool and envSeconds assign the parsed value of an
// environment variable, leaving the target untouched when the variable is
// unset or malformed.

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envSeconds(key string, target *Duration) {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			*target = Duration(time.Duration(secs * float64(time.Second)))
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.ASR.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("asr.strategy %q is invalid; valid values: cloud_api, local_model", cfg.ASR.Strategy))
	}
	if cfg.ASR.Strategy == ASRLocalModel && cfg.ASR.Model == "" {
		errs = append(errs, errors.New("asr.model (GGML model path) is required when asr.strategy is local_model"))
	}

	if !cfg.LLM.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("llm.backend %q is invalid; valid values: anyllm, openai", cfg.LLM.Backend))
	}
	if cfg.LLM.Backend == BackendAnyLLM && cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required when llm.backend is anyllm"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}

	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		errs = append(errs, fmt.Errorf("tts.stability %.2f is out of range [0, 1]", cfg.TTS.Stability))
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("tts.similarity_boost %.2f is out of range [0, 1]", cfg.TTS.SimilarityBoost))
	}
	if cfg.TTS.Speed != 0 && (cfg.TTS.Speed < 0.7 || cfg.TTS.Speed > 1.2) {
		errs = append(errs, fmt.Errorf("tts.speed %.2f is out of range [0.7, 1.2]", cfg.TTS.Speed))
	}

	if cfg.Call.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("call.max_turns %d must be at least 1", cfg.Call.MaxTurns))
	}
	if cfg.Call.Greeting == "" {
		errs = append(errs, errors.New("call.greeting is required"))
	}
	if cfg.Call.SystemPrompt == "" {
		errs = append(errs, errors.New("call.system_prompt is required"))
	}
	if cfg.Call.MaxSilence > 0 && cfg.Call.ReminderInterval > 0 &&
		cfg.Call.MaxSilence.Std() < cfg.Call.ReminderInterval.Std() {
		errs = append(errs, errors.New("call.max_silence must not be shorter than call.reminder_interval"))
	}

	if cfg.Segmenter.BargeInMultiplier != 0 && cfg.Segmenter.BargeInMultiplier < 1 {
		errs = append(errs, fmt.Errorf("segmenter.barge_in_multiplier %.2f must be at least 1", cfg.Segmenter.BargeInMultiplier))
	}
	if cfg.Segmenter.MinChunk > 0 && cfg.Segmenter.MaxChunk > 0 &&
		cfg.Segmenter.MaxChunk.Std() < cfg.Segmenter.MinChunk.Std() {
		errs = append(errs, errors.New("segmenter.max_chunk must not be shorter than segmenter.min_chunk"))
	}

	return errors.Join(errs...)
}

// Secrets are credentials read exclusively from the environment. None of
// them ever appears in the YAML schema.
type Secrets struct {
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	OpenAIAPIKey     string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	CalleeNumber     string
	TriggerToken     string
	PostgresDSN      string
}

// SecretsFromEnv reads all secrets from the environment. Missing values are
// empty strings; callers decide which ones their configuration requires.
func SecretsFromEnv() Secrets {
	return Secrets{
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoice:  os.Getenv("ELEVENLABS_VOICE_ID"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		CalleeNumber:     os.Getenv("MOM_PHONE_NUMBER"),
		TriggerToken:     os.Getenv("CALL_TRIGGER_TOKEN"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
	}
}
