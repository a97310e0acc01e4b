// Package session runs one live call: it accepts the carrier's media
// WebSocket, fans inbound frames into the segmenter, and supervises the
// transcription workers, dialog manager, player, and silence watchdog for
// the duration of the call.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ringline-ai/ringline/internal/callstore"
	"github.com/ringline-ai/ringline/internal/carrier"
	"github.com/ringline-ai/ringline/internal/dialog"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/phrase"
	"github.com/ringline-ai/ringline/internal/player"
	"github.com/ringline-ai/ringline/internal/prompts"
	"github.com/ringline-ai/ringline/internal/segment"
	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/asr"
	"github.com/ringline-ai/ringline/pkg/provider/llm"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// Config tunes a call session.
type Config struct {
	// SystemPrompt is the model's standing instruction.
	SystemPrompt string

	// MaxTurns bounds the conversation window (see dialog.NewHistory).
	MaxTurns int

	// Streaming selects streaming TTS for replies; otherwise replies are
	// pre-rendered to MP3 under AudioDir.
	Streaming bool

	// AudioDir receives per-reply MP3 files in non-streaming mode.
	AudioDir string

	// TranscriptPath, when non-empty, receives the rendered transcript at
	// call end.
	TranscriptPath string

	// CaptureDir, when non-empty, receives per-chunk WAV captures.
	CaptureDir string

	// Segmenter tunes speech detection.
	Segmenter segment.Params

	// ReminderInterval is the effective silence between reminder prompts.
	ReminderInterval time.Duration

	// MaxSilence is the effective silence that ends the call.
	MaxSilence time.Duration

	// HangupOnFarewell ends the call with the goodbye prompt when the
	// caller's phrase matches the farewell lexicon.
	HangupOnFarewell bool

	// ClearMargin, ClearAfterEnd and ClearAtStart are passed to the
	// player.
	ClearMargin   time.Duration
	ClearAfterEnd bool
	ClearAtStart  bool

	// Workers is the transcription worker count. Default 2.
	Workers int

	// WatchdogTick overrides the silence watchdog polling interval.
	// Zero selects the default.
	WatchdogTick time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxTurns:         dialog.DefaultMaxTurns,
		Streaming:        true,
		Segmenter:        segment.DefaultParams(),
		ReminderInterval: 10 * time.Second,
		MaxSilence:       30 * time.Second,
		ClearMargin:      250 * time.Millisecond,
		ClearAfterEnd:    true,
		Workers:          2,
	}
}

// Providers bundles the AI backends a session needs.
type Providers struct {
	ASR asr.Transcriber
	LLM llm.Provider
	TTS tts.Synthesizer
}

// Handler accepts the carrier's media WebSocket. It serves one call at a
// time: a second connection while a call is live is rejected with 409.
type Handler struct {
	cfg       Config
	providers Providers
	cache     *prompts.Cache
	store     callstore.Store
	metrics   *observe.Metrics

	busy atomic.Bool
}

// HandlerOption is a functional option for [NewHandler].
type HandlerOption func(*Handler)

// WithStore attaches a call store. Default: [callstore.Noop].
func WithStore(s callstore.Store) HandlerOption {
	return func(h *Handler) { h.store = s }
}

// NewHandler creates the media stream handler.
func NewHandler(cfg Config, providers Providers, cache *prompts.Cache, opts ...HandlerOption) *Handler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	h := &Handler{
		cfg:       cfg,
		providers: providers,
		cache:     cache,
		store:     callstore.Noop{},
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.busy.CompareAndSwap(false, true) {
		slog.Warn("rejecting media stream, call already in progress", "remote", r.RemoteAddr)
		http.Error(w, "call in progress", http.StatusConflict)
		return
	}
	defer h.busy.Store(false)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	s := newSession(h, conn)
	if err := s.run(r.Context()); err != nil {
		slog.Error("session ended with error", "call_id", s.callID, "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "goodbye")
}

// session is the state of one live call.
type session struct {
	cfg       Config
	providers Providers
	cache     *prompts.Cache
	store     callstore.Store
	metrics   *observe.Metrics

	conn   *websocket.Conn
	callID string

	clock     *Clock
	log       *transcript.Log
	assembler *phrase.Assembler
	seg       *segment.Segmenter
	player    *player.Player
	manager   *dialog.Manager
	chunks    chan *phrase.Chunk

	writeMu   sync.Mutex
	streamSid atomic.Value // string
	cancel    context.CancelFunc

	goodbyeOnce sync.Once
}

func newSession(h *Handler, conn *websocket.Conn) *session {
	s := &session{
		cfg:       h.cfg,
		providers: h.providers,
		cache:     h.cache,
		store:     h.store,
		metrics:   h.metrics,
		conn:      conn,
		callID:    uuid.NewString(),
		clock:     NewClock(),
		log:       transcript.NewLog(),
		assembler: phrase.NewAssembler(),
		chunks:    make(chan *phrase.Chunk, 256),
	}
	s.streamSid.Store("")

	s.player = player.New(s, h.providers.TTS,
		player.Config{
			ClearMargin:          h.cfg.ClearMargin,
			ClearAtStart:         h.cfg.ClearAtStart,
			DisableClearAfterEnd: !h.cfg.ClearAfterEnd,
		},
		player.WithListener(s.clock),
		player.WithTranscript(s.log),
		player.WithDrainUpstream(s.drainPending),
	)

	history := dialog.NewHistory(h.cfg.SystemPrompt, h.cfg.MaxTurns)
	managerOpts := []dialog.Option{
		dialog.WithTranscript(s.log),
		dialog.WithSynthesizer(h.providers.TTS),
		dialog.WithOnFarewell(func() { go s.hangUpAfterGoodbye() }),
	}
	if !h.cfg.HangupOnFarewell {
		managerOpts = append(managerOpts, dialog.WithFarewellDetector(nil))
	}
	s.manager = dialog.NewManager(history, h.providers.LLM, s.player, h.cache,
		dialog.Config{Streaming: h.cfg.Streaming, AudioDir: h.cfg.AudioDir},
		managerOpts...,
	)

	s.seg = segment.New(h.cfg.Segmenter, segment.Callbacks{
		OnChunk:      s.onChunk,
		OnPhraseDone: s.onPhraseDone,
		OnBargeIn:    s.onBargeIn,
	})
	return s
}

func (s *session) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer cancel()

	slog.Info("call session starting", "call_id", s.callID)
	s.metrics.ActiveCalls.Add(ctx, 1)
	defer s.metrics.ActiveCalls.Add(ctx, -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error { return s.player.Run(gctx) })
	g.Go(func() error { return s.manager.Run(gctx) })
	g.Go(func() error { return s.watchdog(gctx) })
	for i := 0; i < s.cfg.Workers; i++ {
		w := phrase.NewWorker(s.chunks, s.providers.ASR, s.assembler, s.submitPhrase, s.workerOpts()...)
		g.Go(func() error { return w.Run(gctx) })
	}

	err := g.Wait()
	s.teardown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *session) workerOpts() []phrase.WorkerOption {
	if s.cfg.CaptureDir == "" {
		return nil
	}
	return []phrase.WorkerOption{phrase.WithCaptureDir(s.cfg.CaptureDir)}
}

// receive is the WebSocket read loop and the sole driver of the segmenter.
// The session lives exactly as long as this loop: when the socket drops or
// the carrier stops the stream, everything else is cancelled.
func (s *session) receive(ctx context.Context) error {
	defer s.cancel()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ctx.Err()
			}
			return err
		}

		ev, err := carrier.ParseEvent(data)
		if err != nil {
			slog.Warn("unparseable carrier event", "error", err)
			continue
		}

		switch ev.Event {
		case carrier.EventConnected:
			slog.Debug("carrier connected")

		case carrier.EventStart:
			s.handleStart(ctx, ev)

		case carrier.EventMedia:
			s.handleMedia(ev)

		case carrier.EventStop:
			slog.Info("carrier stopped stream", "call_id", s.callID)
			s.cancel()
			return nil

		default:
			slog.Debug("ignoring carrier event", "event", ev.Event)
		}
	}
}

func (s *session) handleStart(ctx context.Context, ev carrier.Event) {
	sid := ev.StreamSid
	callSid := ""
	if ev.Start != nil {
		if ev.Start.StreamSid != "" {
			sid = ev.Start.StreamSid
		}
		callSid = ev.Start.CallSid
	}
	s.streamSid.Store(sid)
	slog.Info("media stream started", "call_id", s.callID, "stream_sid", sid, "call_sid", callSid)

	if err := s.store.StartCall(ctx, s.callID, callSid); err != nil {
		slog.Warn("call record not stored", "error", err)
	}

	// The call starting counts as caller activity.
	s.clock.MarkSpeech()

	// Prime the outbound stream so the gateway locks onto our pacing.
	if err := s.SendMedia(ctx, audio.SilenceFrame()); err != nil {
		slog.Warn("priming frame failed", "error", err)
	}

	if s.cache.Has(prompts.KindGreeting) {
		s.player.PlayFile(s.cache.Path(prompts.KindGreeting), s.cache.Text(prompts.KindGreeting))
	} else {
		slog.Warn("greeting prompt missing, starting silent")
	}
}

func (s *session) handleMedia(ev carrier.Event) {
	if ev.Media == nil {
		return
	}
	ulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		slog.Warn("undecodable media payload", "error", err)
		return
	}
	rms := s.seg.ProcessFrame(ulaw, s.player.Active())
	if rms >= s.cfg.Segmenter.MinRMS {
		s.clock.MarkSpeech()
	}
}

// ─── segmenter callbacks (invoked from the receive loop) ───

func (s *session) onChunk(c *phrase.Chunk) {
	s.assembler.Add(c)
	select {
	case s.chunks <- c:
	default:
		// Latch the dropped chunk as empty so its phrase can still
		// complete from the remaining chunks.
		slog.Warn("chunk queue full, dropping chunk", "phrase", c.PhraseID, "chunk", c.Index)
		if p, done := s.assembler.ChunkTranscribed(c, ""); done {
			s.submitPhrase(p)
		}
	}
}

func (s *session) onPhraseDone(phraseID string) {
	if p, done := s.assembler.MarkDone(phraseID); done {
		s.submitPhrase(p)
	}
}

func (s *session) onBargeIn() {
	if s.player.SignalBargeIn() {
		slog.Info("caller barged in", "call_id", s.callID)
	}
}

func (s *session) submitPhrase(p *phrase.Phrase) {
	s.manager.Submit(p)
}

// drainPending empties the chunk queue after a barge-in. Drained chunks are
// latched as empty transcripts; a phrase that completes during the drain
// belongs to the interrupted exchange and is discarded, not answered.
func (s *session) drainPending() {
	for {
		select {
		case c := <-s.chunks:
			if _, done := s.assembler.ChunkTranscribed(c, ""); done {
				slog.Debug("discarding phrase drained on barge-in", "phrase", c.PhraseID)
			}
		default:
			return
		}
	}
}

// hangUpAfterGoodbye waits for queued playback (the goodbye prompt) to
// finish, then ends the call. Safe to trigger from multiple paths; only the
// first wins.
func (s *session) hangUpAfterGoodbye() {
	s.goodbyeOnce.Do(func() {
		wait := 10 * time.Second
		if d, err := s.cache.Duration(prompts.KindGoodbye); err == nil {
			wait = d + 500*time.Millisecond
		}
		s.player.WaitIdle(context.Background(), wait)
		slog.Info("hanging up", "call_id", s.callID)
		s.cancel()
	})
}

func (s *session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cfg.TranscriptPath != "" {
		if err := s.log.Flush(s.cfg.TranscriptPath); err != nil {
			slog.Error("transcript flush failed", "path", s.cfg.TranscriptPath, "error", err)
		}
	}
	if err := s.store.EndCall(ctx, s.callID, s.log.Lines()); err != nil {
		slog.Warn("call record not finalized", "error", err)
	}
	slog.Info("call session ended", "call_id", s.callID, "transcript_lines", len(s.log.Lines()))
}

// ─── player.Sender ───

// SendMedia sends one base64 μ-law frame to the carrier.
func (s *session) SendMedia(ctx context.Context, payload string) error {
	msg, err := carrier.MediaMessage(s.sid(), payload)
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

// SendClear asks the carrier to drop buffered outbound audio.
func (s *session) SendClear(ctx context.Context) error {
	msg, err := carrier.ClearMessage(s.sid())
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

func (s *session) write(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

func (s *session) sid() string {
	sid, _ := s.streamSid.Load().(string)
	return sid
}
