// Package prompts manages the static prompt cache: short fixed utterances
// (greeting, silence reminder, goodbye) synthesized once at startup and
// played from disk during calls, so no synthesis latency lands on the hot
// path.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// Kind names a cached prompt.
type Kind string

// Cached prompt kinds.
const (
	KindGreeting Kind = "greeting"
	KindReminder Kind = "reminder"
	KindGoodbye  Kind = "goodbye"
)

// Fixed prompt texts. The greeting is configurable per deployment; these two
// are part of the conversation contract.
const (
	ReminderText = "Hello? Are you still there?"
	GoodbyeText  = "Goodbye."
)

// Cache locates and materializes the static prompt files under one
// directory. It is read-only after Ensure and safe for concurrent use.
type Cache struct {
	dir   string
	texts map[Kind]string
}

// New creates a Cache rooted at dir. greetingText is the deployment's
// opening line; the reminder and goodbye texts are fixed.
func New(dir, greetingText string) *Cache {
	return &Cache{
		dir: dir,
		texts: map[Kind]string{
			KindGreeting: greetingText,
			KindReminder: ReminderText,
			KindGoodbye:  GoodbyeText,
		},
	}
}

// Path returns the MP3 file path for kind.
func (c *Cache) Path(kind Kind) string {
	return filepath.Join(c.dir, string(kind)+".mp3")
}

// Text returns the spoken text for kind.
func (c *Cache) Text(kind Kind) string {
	return c.texts[kind]
}

// Has reports whether the prompt file for kind exists on disk.
func (c *Cache) Has(kind Kind) bool {
	_, err := os.Stat(c.Path(kind))
	return err == nil
}

// Duration reports the decoded playback length of the prompt file for kind.
func (c *Cache) Duration(kind Kind) (time.Duration, error) {
	return audio.MP3FileDuration(c.Path(kind))
}

// Ensure synthesizes every missing prompt file with synth. Prompts with
// empty text are skipped. Failures are joined so one broken prompt does not
// hide the others; prompts that already exist are never re-synthesized.
func (c *Cache) Ensure(ctx context.Context, synth tts.Synthesizer) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("prompts: create %s: %w", c.dir, err)
	}

	var errs []error
	for _, kind := range []Kind{KindGreeting, KindReminder, KindGoodbye} {
		text := c.texts[kind]
		if text == "" {
			continue
		}
		if c.Has(kind) {
			slog.Debug("static prompt present", "kind", kind, "path", c.Path(kind))
			continue
		}

		mp3, err := synth.Synthesize(ctx, text)
		if err != nil {
			errs = append(errs, fmt.Errorf("prompts: synthesize %s: %w", kind, err))
			continue
		}
		if err := os.WriteFile(c.Path(kind), mp3, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("prompts: write %s: %w", kind, err))
			continue
		}
		slog.Info("static prompt synthesized", "kind", kind, "path", c.Path(kind), "bytes", len(mp3))
	}
	return errors.Join(errs...)
}
