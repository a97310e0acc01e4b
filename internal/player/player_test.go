package player_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ringline-ai/ringline/internal/player"
	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/audio"
	ttsmock "github.com/ringline-ai/ringline/pkg/provider/tts/mock"
)

// fakeSender records outbound traffic and can trigger callbacks per frame.
type fakeSender struct {
	mu      sync.Mutex
	media   []string
	times   []time.Time
	clears  int
	onMedia func(sent int)
}

func (s *fakeSender) SendMedia(_ context.Context, payload string) error {
	s.mu.Lock()
	s.media = append(s.media, payload)
	s.times = append(s.times, time.Now())
	n := len(s.media)
	cb := s.onMedia
	s.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (s *fakeSender) SendClear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

func (s *fakeSender) mediaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.media)
}

func (s *fakeSender) sendTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

func (s *fakeSender) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

func stubFrames(n int) func(string) ([]string, error) {
	return func(string) ([]string, error) {
		frames := make([]string, n)
		for i := range frames {
			frames[i] = fmt.Sprintf("frame-%03d", i)
		}
		return frames, nil
	}
}

func runPlayer(t *testing.T, p *player.Player) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestFileJobPlaysAllFramesAndClearsOnce(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	log := transcript.NewLog()
	p := player.New(sender, nil, player.Config{},
		player.WithDecodeFile(stubFrames(5)),
		player.WithTranscript(log),
	)
	runPlayer(t, p)

	if !p.Enqueue(player.KindFile, "/tmp/greeting.mp3", "Hello there.") {
		t.Fatal("enqueue rejected")
	}
	if !p.WaitIdle(context.Background(), 2*time.Second) {
		t.Fatal("player never went idle")
	}

	if got := sender.mediaCount(); got != 5 {
		t.Errorf("media frames = %d, want 5", got)
	}
	if got := sender.clearCount(); got != 1 {
		t.Errorf("clears = %d, want 1", got)
	}
	lines := log.Lines()
	if len(lines) != 1 || lines[0].Text != "Hello there." || lines[0].Role != transcript.RoleAssistant {
		t.Errorf("transcript = %+v, want one assistant line", lines)
	}
}

func TestFramesPacedAtFrameInterval(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	p := player.New(sender, nil, player.Config{},
		player.WithDecodeFile(stubFrames(8)),
	)
	runPlayer(t, p)

	p.Enqueue(player.KindFile, "a.mp3", "")
	if !p.WaitIdle(context.Background(), 3*time.Second) {
		t.Fatal("player never went idle")
	}

	times := sender.sendTimes()
	if len(times) != 8 {
		t.Fatalf("frames = %d, want 8", len(times))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			t.Fatalf("send time %d (%v) not after %d (%v)", i, times[i], i-1, times[i-1])
		}
	}
	// Timers never fire early, so the mean interval is at least the frame
	// interval. The upper bound is loose to survive scheduler jitter.
	mean := times[len(times)-1].Sub(times[0]) / time.Duration(len(times)-1)
	if mean < 19*time.Millisecond || mean > 60*time.Millisecond {
		t.Errorf("mean inter-frame interval = %v, want about 20ms", mean)
	}
}

func TestCompletedJobSkipsClearWhenDisabled(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	p := player.New(sender, nil, player.Config{DisableClearAfterEnd: true},
		player.WithDecodeFile(stubFrames(3)),
	)
	runPlayer(t, p)

	if !p.Enqueue(player.KindFile, "/tmp/greeting.mp3", "") {
		t.Fatal("enqueue rejected")
	}
	if !p.WaitIdle(context.Background(), 2*time.Second) {
		t.Fatal("player never went idle")
	}

	if got := sender.mediaCount(); got != 3 {
		t.Errorf("media frames = %d, want 3", got)
	}
	if got := sender.clearCount(); got != 0 {
		t.Errorf("clears = %d, want 0 when post-completion clear is disabled", got)
	}
}

func TestStreamJobReframesToFrameBoundaries(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	synth := &ttsmock.Synthesizer{
		StreamChunks: [][]byte{make([]byte, 200), make([]byte, 100)},
	}
	p := player.New(sender, synth, player.Config{})
	runPlayer(t, p)

	p.Enqueue(player.KindStream, "some reply", "")
	if !p.WaitIdle(context.Background(), 2*time.Second) {
		t.Fatal("player never went idle")
	}

	// 300 bytes of μ-law is one full frame plus one padded frame.
	if got := sender.mediaCount(); got != 2 {
		t.Fatalf("media frames = %d, want 2", got)
	}
	for i, payload := range sender.media {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			t.Fatalf("frame %d not base64: %v", i, err)
		}
		if len(raw) != audio.FrameBytes {
			t.Errorf("frame %d length = %d, want %d", i, len(raw), audio.FrameBytes)
		}
	}
	// The tail of the last frame is μ-law silence padding.
	last, _ := base64.StdEncoding.DecodeString(sender.media[1])
	if last[audio.FrameBytes-1] != audio.ULawSilence {
		t.Errorf("padded tail byte = %#x, want %#x", last[audio.FrameBytes-1], audio.ULawSilence)
	}
}

func TestBargeInStopsPlaybackAndInvalidatesQueue(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	log := transcript.NewLog()
	drained := false
	p := player.New(sender, nil, player.Config{},
		player.WithDecodeFile(stubFrames(50)),
		player.WithTranscript(log),
		player.WithDrainUpstream(func() { drained = true }),
	)

	var first, second bool
	var once sync.Once
	sender.onMedia = func(sent int) {
		if sent == 3 {
			once.Do(func() {
				first = p.SignalBargeIn()
				second = p.SignalBargeIn()
			})
		}
	}

	runPlayer(t, p)
	p.Enqueue(player.KindFile, "a.mp3", "first reply")
	p.Enqueue(player.KindFile, "b.mp3", "second reply")

	if !p.WaitIdle(context.Background(), 3*time.Second) {
		t.Fatal("player never went idle")
	}

	if got := sender.mediaCount(); got >= 50 {
		t.Errorf("playback not interrupted, %d frames sent", got)
	}
	if got := sender.clearCount(); got != 1 {
		t.Errorf("clears = %d, want exactly 1", got)
	}
	if !first || second {
		t.Errorf("SignalBargeIn single-shot violated: first=%v second=%v", first, second)
	}
	if !drained {
		t.Error("drain hook not invoked on barge-in")
	}

	lines := log.Lines()
	if len(lines) != 1 {
		t.Fatalf("transcript lines = %d, want 1 (queued job must be dropped)", len(lines))
	}
	if !strings.HasSuffix(lines[0].Text, " [interrupted]") {
		t.Errorf("interrupted line = %q, want [interrupted] suffix", lines[0].Text)
	}
}

func TestBargeInCancelsStreamSynthesis(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	synthDone := make(chan struct{})
	synth := &ttsmock.Synthesizer{
		// Endless synthesis, one frame every few milliseconds, that only
		// stops when its context is cancelled.
		SynthesizeStreamFunc: func(ctx context.Context, _ string) (<-chan []byte, error) {
			out := make(chan []byte)
			go func() {
				defer close(out)
				defer close(synthDone)
				ticker := time.NewTicker(5 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
					select {
					case out <- make([]byte, audio.FrameBytes):
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, nil
		},
	}
	p := player.New(sender, synth, player.Config{})
	sender.onMedia = func(sent int) {
		if sent == 3 {
			p.SignalBargeIn()
		}
	}
	runPlayer(t, p)

	p.Enqueue(player.KindStream, "a long reply", "")
	if !p.WaitIdle(context.Background(), 3*time.Second) {
		t.Fatal("player never went idle")
	}

	// The synthesis context must be cancelled by the barge-in itself, not
	// by the call ending.
	select {
	case <-synthDone:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis still running after barge-in")
	}
}

func TestSignalBargeInWhileIdle(t *testing.T) {
	t.Parallel()
	p := player.New(&fakeSender{}, nil, player.Config{})
	if p.SignalBargeIn() {
		t.Error("barge-in while idle must report false")
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	p := player.New(&fakeSender{}, nil, player.Config{})
	for i := 0; i < 64; i++ {
		if !p.Enqueue(player.KindFile, "x.mp3", "") {
			t.Fatalf("enqueue %d rejected before queue full", i)
		}
	}
	if p.Enqueue(player.KindFile, "overflow.mp3", "") {
		t.Error("enqueue into full queue must report false")
	}
}

func TestMissingFileCompletesWithoutTranscript(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	log := transcript.NewLog()
	p := player.New(sender, nil, player.Config{},
		player.WithDecodeFile(func(string) ([]string, error) {
			return nil, errors.New("no such file")
		}),
		player.WithTranscript(log),
	)
	runPlayer(t, p)

	p.Enqueue(player.KindFile, "gone.mp3", "never played")
	if !p.WaitIdle(context.Background(), 2*time.Second) {
		t.Fatal("player never went idle")
	}

	if got := sender.mediaCount(); got != 0 {
		t.Errorf("media frames = %d, want 0", got)
	}
	if got := len(log.Lines()); got != 0 {
		t.Errorf("transcript lines = %d, want 0 when nothing was heard", got)
	}
}
