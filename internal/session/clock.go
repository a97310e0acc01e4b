package session

import (
	"sync"
	"time"
)

// Clock tracks caller silence for the watchdog. Raw silence is the time
// since the caller last spoke; effective silence additionally excludes the
// time the assistant spent speaking, so a long assistant reply does not
// count against the caller.
//
// Clock satisfies [player.Listener] via PlaybackStarted/PlaybackStopped.
type Clock struct {
	mu         sync.Mutex
	now        func() time.Time
	lastSpeech time.Time
	playing    bool
	playStart  time.Time
	pauseAccum time.Duration
}

// NewClock creates a Clock; the caller counts as having just spoken.
func NewClock() *Clock { return NewClockWithNow(time.Now) }

// NewClockWithNow creates a Clock with an injectable time source.
func NewClockWithNow(now func() time.Time) *Clock {
	return &Clock{now: now, lastSpeech: now()}
}

// MarkSpeech records caller speech at the current instant and resets the
// playback exclusion window.
func (c *Clock) MarkSpeech() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	c.lastSpeech = t
	c.pauseAccum = 0
	if c.playing {
		c.playStart = t
	}
}

// PlaybackStarted marks the beginning of assistant speech.
func (c *Clock) PlaybackStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
	c.playStart = c.now()
}

// PlaybackStopped marks the end of assistant speech and accumulates its
// duration into the exclusion window.
func (c *Clock) PlaybackStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.pauseAccum += c.now().Sub(c.playStart)
	c.playing = false
}

// RawSilence is the wall-clock time since the caller last spoke.
func (c *Clock) RawSilence() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastSpeech)
}

// EffectiveSilence is the raw silence minus assistant speaking time since
// the caller last spoke. Never negative.
func (c *Clock) EffectiveSilence() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	d := t.Sub(c.lastSpeech) - c.pauseAccum
	if c.playing {
		d -= t.Sub(c.playStart)
	}
	if d < 0 {
		d = 0
	}
	return d
}
