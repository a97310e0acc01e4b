package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ringline-ai/ringline/internal/prompts"
)

const defaultWatchdogTick = 500 * time.Millisecond

// watchdog enforces the silence policy: after ReminderInterval of effective
// caller silence it plays the reminder prompt, and repeats every further
// interval; at MaxSilence it plays the goodbye prompt and ends the call.
func (s *session) watchdog(ctx context.Context) error {
	tick := s.cfg.WatchdogTick
	if tick <= 0 {
		tick = defaultWatchdogTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// reminderMark is the effective silence at which the last reminder
	// fired; it rearms whenever the caller speaks.
	var reminderMark time.Duration

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.clock.RawSilence() < tick/2 {
			reminderMark = 0
			continue
		}

		eff := s.clock.EffectiveSilence()

		if s.cfg.MaxSilence > 0 && eff >= s.cfg.MaxSilence {
			slog.Info("max silence reached, ending call",
				"call_id", s.callID,
				"effective_silence", eff,
			)
			s.playPrompt(prompts.KindGoodbye)
			s.hangUpAfterGoodbye()
			return nil
		}

		if s.cfg.ReminderInterval > 0 && eff-reminderMark >= s.cfg.ReminderInterval {
			if s.player.Idle() {
				slog.Info("silence reminder", "call_id", s.callID, "effective_silence", eff)
				s.playPrompt(prompts.KindReminder)
			}
			reminderMark = eff
		}
	}
}

func (s *session) playPrompt(kind prompts.Kind) {
	if !s.cache.Has(kind) {
		slog.Warn("prompt missing, skipping playback", "kind", kind)
		return
	}
	s.player.PlayFile(s.cache.Path(kind), s.cache.Text(kind))
}
