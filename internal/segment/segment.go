// Package segment turns the inbound 20 ms carrier frame stream into caller
// speech chunks and barge-in signals.
//
// The segmenter is a per-call state machine driven from the websocket read
// loop, one frame at a time. Caller speech is grouped into phrases; long
// phrases are cut into chunks at natural pauses so transcription can start
// before the caller finishes. A pre-roll buffer preserves the soft onset of
// speech that precedes the first frame crossing the detection threshold.
//
// While assistant audio is playing the normal chunking path is suspended
// (the line carries echo) and the segmenter instead watches for barge-in:
// sustained caller energy well above the speech threshold.
//
// The segmenter is not safe for concurrent use; call ProcessFrame from a
// single goroutine.
package segment

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringline-ai/ringline/internal/phrase"
	"github.com/ringline-ai/ringline/pkg/audio"
)

// Params tunes the speech detection state machine.
type Params struct {
	// MinRMS is the speech detection threshold on frame RMS amplitude.
	MinRMS float64

	// ChunkSilence is the pause length that cuts a chunk inside a phrase.
	ChunkSilence time.Duration

	// DoneSpeaking is the pause length that closes the phrase.
	DoneSpeaking time.Duration

	// MinChunk is the minimum chunk length. Audio shorter than this when
	// the pause arrives is discarded, not emitted.
	MinChunk time.Duration

	// MaxChunk force-cuts a chunk that grows this long without a pause.
	MaxChunk time.Duration

	// LeadIn is the amount of pre-threshold audio prepended to a new
	// chunk from the rolling pre-roll buffer.
	LeadIn time.Duration

	// BargeInMultiplier scales MinRMS into the barge-in threshold.
	BargeInMultiplier float64

	// BargeInFrames is the number of consecutive frames that must cross
	// the barge-in threshold before the signal fires.
	BargeInFrames int
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		MinRMS:            750,
		ChunkSilence:      550 * time.Millisecond,
		DoneSpeaking:      1200 * time.Millisecond,
		MinChunk:          900 * time.Millisecond,
		MaxChunk:          10 * time.Second,
		LeadIn:            350 * time.Millisecond,
		BargeInMultiplier: 1.25,
		BargeInFrames:     2,
	}
}

// Callbacks receive segmentation events. All callbacks are invoked
// synchronously from ProcessFrame.
type Callbacks struct {
	// OnChunk is called with every completed chunk.
	OnChunk func(*phrase.Chunk)

	// OnPhraseDone is called when a phrase closes. At least one chunk
	// has been emitted for the phrase when this fires.
	OnPhraseDone func(phraseID string)

	// OnBargeIn is called at most once per assistant playback when the
	// caller talks over it.
	OnBargeIn func()
}

// Segmenter is the per-call speech segmentation state machine.
type Segmenter struct {
	params Params
	cb     Callbacks

	frameCount int

	phraseID    string
	chunkIndex  int
	inPhrase    bool
	inChunk     bool
	active      []byte
	chunkStart  float64
	silenceRun  int
	preRoll     []byte
	leadInBytes int

	bargeHits     int
	bargeSignaled bool
}

// New creates a Segmenter with the given tuning and callbacks.
func New(params Params, cb Callbacks) *Segmenter {
	// PCM bytes covering the lead-in window: 2 bytes per sample.
	leadInBytes := 2 * int(float64(audio.SampleRate)*params.LeadIn.Seconds())
	return &Segmenter{
		params:      params,
		cb:          cb,
		leadInBytes: leadInBytes,
	}
}

// ProcessFrame consumes one 20 ms μ-law frame and returns its RMS amplitude.
// playbackActive reports whether assistant audio is currently being sent;
// it switches the segmenter between chunking and barge-in detection.
func (s *Segmenter) ProcessFrame(ulaw []byte, playbackActive bool) float64 {
	pcm := audio.ULawToPCM16(ulaw)
	rms := audio.RMS(pcm)
	s.frameCount++

	if playbackActive {
		s.detectBargeIn(rms)
	} else {
		s.bargeSignaled = false
		s.bargeHits = 0
		s.advance(pcm, rms)
	}

	s.pushPreRoll(pcm)
	return rms
}

// detectBargeIn fires the barge-in callback after BargeInFrames consecutive
// frames above the raised threshold, at most once per playback.
func (s *Segmenter) detectBargeIn(rms float64) {
	if rms >= s.params.MinRMS*s.params.BargeInMultiplier {
		s.bargeHits++
	} else {
		s.bargeHits = 0
	}
	if s.bargeHits < s.params.BargeInFrames || s.bargeSignaled {
		return
	}
	s.bargeSignaled = true
	s.bargeHits = 0

	// Abandon any phrase that was open before playback started; the
	// caller's interruption begins a fresh phrase.
	if s.inPhrase && s.chunkIndex > 0 && s.cb.OnPhraseDone != nil {
		s.cb.OnPhraseDone(s.phraseID)
	}
	s.inPhrase = false
	s.inChunk = false
	s.active = nil
	s.silenceRun = 0

	if s.cb.OnBargeIn != nil {
		s.cb.OnBargeIn()
	}
}

// advance runs the chunking state machine for one frame of caller audio.
func (s *Segmenter) advance(pcm []byte, rms float64) {
	speech := rms >= s.params.MinRMS

	switch {
	case speech:
		if !s.inPhrase {
			s.inPhrase = true
			s.phraseID = uuid.NewString()
			s.chunkIndex = 0
		}
		if !s.inChunk {
			s.openChunk()
		}
		s.silenceRun = 0
		s.active = append(s.active, pcm...)
		if s.chunkDuration() >= s.params.MaxChunk {
			s.emitChunk(rms)
		}

	case s.inChunk:
		s.silenceRun++
		s.active = append(s.active, pcm...)
		// The chunk always closes at ChunkSilence; whether its audio is
		// emitted or discarded depends on the MinChunk gate. The silence
		// run keeps counting toward DoneSpeaking either way.
		if time.Duration(s.silenceRun)*20*time.Millisecond >= s.params.ChunkSilence {
			if s.chunkDuration() >= s.params.MinChunk {
				s.emitChunk(rms)
			} else {
				s.discardChunk()
			}
		}

	case s.inPhrase:
		s.silenceRun++
		if time.Duration(s.silenceRun)*20*time.Millisecond >= s.params.DoneSpeaking {
			s.closePhrase()
		}
	}
}

func (s *Segmenter) openChunk() {
	s.inChunk = true
	s.active = append([]byte(nil), s.preRoll...)
	start := float64(s.frameCount-1)*audio.FrameSeconds - float64(len(s.preRoll))/(2*audio.SampleRate)
	if start < 0 {
		start = 0
	}
	s.chunkStart = start
}

func (s *Segmenter) chunkDuration() time.Duration {
	samples := len(s.active) / 2
	return time.Duration(samples) * time.Second / audio.SampleRate
}

func (s *Segmenter) emitChunk(rms float64) {
	if len(s.active) == 0 {
		s.inChunk = false
		return
	}
	c := &phrase.Chunk{
		PhraseID:  s.phraseID,
		Index:     s.chunkIndex,
		PCM:       s.active,
		RMS:       rms,
		Timestamp: s.chunkStart,
		Duration:  s.chunkDuration().Seconds(),
	}
	s.chunkIndex++
	s.active = nil
	s.inChunk = false
	if s.cb.OnChunk != nil {
		s.cb.OnChunk(c)
	}
}

// discardChunk drops active audio that never reached MinChunk. The phrase
// stays open; if nothing else is spoken it closes without a done event.
func (s *Segmenter) discardChunk() {
	s.active = nil
	s.inChunk = false
}

func (s *Segmenter) closePhrase() {
	if s.chunkIndex > 0 && s.cb.OnPhraseDone != nil {
		s.cb.OnPhraseDone(s.phraseID)
	}
	s.inPhrase = false
	s.inChunk = false
	s.active = nil
	s.silenceRun = 0
}

// pushPreRoll appends pcm to the rolling pre-roll buffer, trimming it to the
// lead-in window.
func (s *Segmenter) pushPreRoll(pcm []byte) {
	if s.leadInBytes <= 0 {
		return
	}
	s.preRoll = append(s.preRoll, pcm...)
	if over := len(s.preRoll) - s.leadInBytes; over > 0 {
		s.preRoll = append([]byte(nil), s.preRoll[over:]...)
	}
}
