package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ringline-ai/ringline/internal/app"
	"github.com/ringline-ai/ringline/internal/config"
	"github.com/ringline-ai/ringline/internal/session"
	asrmock "github.com/ringline-ai/ringline/pkg/provider/asr/mock"
	llmmock "github.com/ringline-ai/ringline/pkg/provider/llm/mock"
	ttsmock "github.com/ringline-ai/ringline/pkg/provider/tts/mock"
)

func testProviders() session.Providers {
	return session.Providers{
		ASR: &asrmock.Transcriber{},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Synthesizer{MP3: []byte("mp3")},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.PublicBaseURL = "https://ringline.example.com"
	cfg.Call.PromptDir = t.TempDir()
	cfg.Call.AudioDir = t.TempDir()
	cfg.Call.TranscriptPath = ""
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, secrets config.Secrets) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, secrets, testProviders())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), config.Secrets{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, body := get(t, srv, "/healthz")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, srv, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d %q", resp.StatusCode, body)
	}

	resp, _ = get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestReadyzFailsWithoutProviders(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), config.Secrets{}, session.Providers{})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, body := get(t, srv, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d %q, want 503", resp.StatusCode, body)
	}
	if !strings.Contains(body, "providers") {
		t.Errorf("readyz body %q does not name the failing check", body)
	}
}

func TestVoiceWebhookServesTwiML(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), config.Secrets{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/voice", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /voice: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("voice = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "wss://ringline.example.com/stream") {
		t.Errorf("twiml missing stream url: %s", body)
	}
}

func TestVoiceWebhookDisabledWithoutPublicBaseURL(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.PublicBaseURL = ""
	a := newApp(t, cfg, config.Secrets{})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/voice", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /voice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("voice without base url = %d, want 404", resp.StatusCode)
	}
}

func TestCallTriggerRequiresToken(t *testing.T) {
	t.Parallel()
	secrets := config.Secrets{
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "token",
		TwilioFrom:       "+15550001111",
		CalleeNumber:     "+15550002222",
		TriggerToken:     "secret",
	}
	a := newApp(t, testConfig(t), secrets)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/call_mom", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /call_mom: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated trigger = %d, want 401", resp.StatusCode)
	}
}

func TestCallTriggerDisabledWithoutCallee(t *testing.T) {
	t.Parallel()
	secrets := config.Secrets{
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "token",
		TwilioFrom:       "+15550001111",
	}
	a := newApp(t, testConfig(t), secrets)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/call_mom", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /call_mom: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("trigger without callee = %d, want 404", resp.StatusCode)
	}
}

func TestPromptCacheWarmsOnStartup(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	tts := &ttsmock.Synthesizer{MP3: []byte("mp3")}
	providers := testProviders()
	providers.TTS = tts

	if _, err := app.New(context.Background(), cfg, config.Secrets{}, providers); err != nil {
		t.Fatalf("new app: %v", err)
	}

	// Greeting, reminder, and goodbye are synthesized once each.
	if got := len(tts.SynthesizeCalls); got != 3 {
		t.Errorf("synthesize calls = %d, want 3", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newApp(t, cfg, config.Secrets{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
