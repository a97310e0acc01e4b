// Package elevenlabs provides an ElevenLabs-backed TTS provider. It
// implements the tts.Synthesizer interface: complete MP3 renders go through
// the HTTP API, low-latency μ-law streams through the streaming WebSocket
// API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Provider)(nil)

const (
	httpEndpointFmt = "https://api.elevenlabs.io/v1/text-to-speech/%s?output_format=%s"
	wsEndpointFmt   = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"

	defaultModel = "eleven_flash_v2_5"

	// fileOutputFmt is the format for complete renders, fed through the
	// telephony conditioning chain before playback.
	fileOutputFmt = "mp3_44100_128"

	// streamOutputFmt is carrier-native μ-law, played without further
	// conversion.
	streamOutputFmt = "ulaw_8000"
)

// Default voice tuning for a phone conversation register.
const (
	defaultStability  = 0.55
	defaultSimilarity = 0.70
	defaultSpeed      = 0.90
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoiceSettings overrides the stability, similarity boost and speed
// tuning sent with every synthesis request.
func WithVoiceSettings(stability, similarity, speed float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{
			Stability:       stability,
			SimilarityBoost: similarity,
			Speed:           speed,
		}
	}
}

// WithHTTPClient replaces the HTTP client used for complete renders.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Synthesizer backed by the ElevenLabs API.
type Provider struct {
	apiKey     string
	voiceID    string
	model      string
	settings   voiceSettings
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultModel,
		settings: voiceSettings{
			Stability:       defaultStability,
			SimilarityBoost: defaultSimilarity,
			Speed:           defaultSpeed,
		},
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ─── message types ───────────────────────────────────────────────────────────

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// synthesisRequest is the JSON body of a complete-render HTTP request.
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// textMessage is the JSON payload sent over the WebSocket for each text
// fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio bytes
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// ─── complete render ─────────────────────────────────────────────────────────

// Synthesize renders text to a complete MP3 via the HTTP API.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       p.model,
		VoiceSettings: p.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	url := fmt.Sprintf(httpEndpointFmt, p.voiceID, fileOutputFmt)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesis HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: synthesis status %d: %s", resp.StatusCode, detail)
	}

	mp3, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(mp3) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return mp3, nil
}

// ─── streaming render ────────────────────────────────────────────────────────

// SynthesizeStream opens a WebSocket to ElevenLabs, sends the full text, and
// returns a channel emitting raw μ-law 8 kHz audio chunks as they arrive.
//
// The returned channel is closed when synthesis completes or ctx is
// cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, p.voiceID, p.model, streamOutputFmt)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// BOI message authenticates and configures the stream. ElevenLabs
	// requires a non-empty first text value.
	settings := p.settings
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &settings,
		XiAPIKey:      p.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Send the text followed by the end-of-sequence flush.
	msgBytes, _ := json.Marshal(textMessage{Text: text + " "})
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send text")
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	eosBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, eosBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send EOS")
		return nil, fmt.Errorf("elevenlabs: send EOS: %w", err)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				ulaw, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(ulaw) > 0 {
					select {
					case audioCh <- ulaw:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}
