package session

import (
	"testing"
	"time"
)

// fakeNow is a manually advanced time source.
type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time { return f.t }

func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestClockRawSilence(t *testing.T) {
	t.Parallel()
	fn := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClockWithNow(fn.now)

	fn.advance(3 * time.Second)
	if got := c.RawSilence(); got != 3*time.Second {
		t.Errorf("raw silence = %v, want 3s", got)
	}

	c.MarkSpeech()
	if got := c.RawSilence(); got != 0 {
		t.Errorf("raw silence after speech = %v, want 0", got)
	}
}

func TestClockEffectiveSilenceExcludesPlayback(t *testing.T) {
	t.Parallel()
	fn := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClockWithNow(fn.now)

	// 2s quiet, then the assistant speaks for 5s, then 1s quiet.
	fn.advance(2 * time.Second)
	c.PlaybackStarted()
	fn.advance(5 * time.Second)
	c.PlaybackStopped()
	fn.advance(1 * time.Second)

	if got := c.RawSilence(); got != 8*time.Second {
		t.Errorf("raw silence = %v, want 8s", got)
	}
	if got := c.EffectiveSilence(); got != 3*time.Second {
		t.Errorf("effective silence = %v, want 3s", got)
	}
}

func TestClockEffectiveSilenceDuringPlayback(t *testing.T) {
	t.Parallel()
	fn := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClockWithNow(fn.now)

	fn.advance(1 * time.Second)
	c.PlaybackStarted()
	fn.advance(10 * time.Second)

	// Playback still running: only the first quiet second counts.
	if got := c.EffectiveSilence(); got != 1*time.Second {
		t.Errorf("effective silence = %v, want 1s", got)
	}
}

func TestClockMarkSpeechResetsAccumulator(t *testing.T) {
	t.Parallel()
	fn := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClockWithNow(fn.now)

	c.PlaybackStarted()
	fn.advance(4 * time.Second)
	// Caller talks over playback; silence restarts here and only
	// playback time after this instant is excluded.
	c.MarkSpeech()
	fn.advance(2 * time.Second)
	c.PlaybackStopped()
	fn.advance(3 * time.Second)

	if got := c.EffectiveSilence(); got != 3*time.Second {
		t.Errorf("effective silence = %v, want 3s", got)
	}
}

func TestClockEffectiveSilenceNeverNegative(t *testing.T) {
	t.Parallel()
	fn := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClockWithNow(fn.now)

	c.PlaybackStarted()
	fn.advance(500 * time.Millisecond)
	if got := c.EffectiveSilence(); got != 0 {
		t.Errorf("effective silence = %v, want 0", got)
	}
}
