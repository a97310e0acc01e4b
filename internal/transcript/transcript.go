// Package transcript accumulates the conversation log of one call and
// flushes it to disk when the call ends.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Role identifies the speaker of a transcript line.
type Role string

// Transcript roles.
const (
	RoleCaller    Role = "Caller"
	RoleAssistant Role = "Assistant"
)

// Line is one timestamped transcript entry.
type Line struct {
	At   time.Time
	Role Role
	Text string
}

// Log collects the lines of one call. It is safe for concurrent use: the
// receive loop appends caller lines while the player appends assistant lines.
type Log struct {
	mu    sync.Mutex
	lines []Line
	now   func() time.Time
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// NewLogAt returns an empty Log that timestamps lines with now.
// Used by tests for deterministic output.
func NewLogAt(now func() time.Time) *Log {
	return &Log{now: now}
}

// Append records one line. Empty or whitespace-only text is dropped.
func (l *Log) Append(role Role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, Line{At: l.now(), Role: role, Text: text})
}

// Lines returns a copy of the recorded lines in append order.
func (l *Log) Lines() []Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// Render formats the log, one line per entry:
//
//	[2026-01-02 15:04:05] Caller: hello
func (l *Log) Render() string {
	var b strings.Builder
	for _, line := range l.Lines() {
		fmt.Fprintf(&b, "[%s] %s: %s\n", line.At.Format("2006-01-02 15:04:05"), line.Role, line.Text)
	}
	return b.String()
}

// Flush writes the rendered log to the file at path, replacing whatever a
// previous call left there, and creating parent directories as needed. An
// empty log writes nothing.
func (l *Log) Flush(path string) error {
	rendered := l.Render()
	if rendered == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("transcript: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(rendered); err != nil {
		return fmt.Errorf("transcript: write %s: %w", path, err)
	}
	return nil
}
