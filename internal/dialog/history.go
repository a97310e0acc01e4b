// Package dialog turns finished caller phrases into assistant replies: it
// owns the conversation history, calls the language model, normalizes the
// reply for speech, and hands it to the player.
package dialog

import (
	"sync"

	"github.com/ringline-ai/ringline/pkg/provider/llm"
)

// DefaultMaxTurns is the number of caller/assistant exchange pairs kept in
// the rolling window sent to the model.
const DefaultMaxTurns = 2

// History is the bounded conversation window: a fixed system prompt plus
// the most recent messages. The dialog manager is its sole writer; reads
// are safe from any goroutine.
type History struct {
	mu       sync.Mutex
	system   llm.Message
	msgs     []llm.Message
	maxTurns int
}

// NewHistory creates a History with the given system prompt. maxTurns <= 0
// falls back to [DefaultMaxTurns].
func NewHistory(systemPrompt string, maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{
		system:   llm.Message{Role: llm.RoleSystem, Content: systemPrompt},
		maxTurns: maxTurns,
	}
}

// AppendUser records a caller message.
func (h *History) AppendUser(text string) {
	h.append(llm.Message{Role: llm.RoleUser, Content: text})
}

// AppendAssistant records an assistant message.
func (h *History) AppendAssistant(text string) {
	h.append(llm.Message{Role: llm.RoleAssistant, Content: text})
}

func (h *History) append(msg llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	if keep := 2 * h.maxTurns; len(h.msgs) > keep {
		h.msgs = h.msgs[len(h.msgs)-keep:]
	}
}

// Messages returns the system prompt followed by the retained window, as a
// copy safe to hand to a provider.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, 0, 1+len(h.msgs))
	out = append(out, h.system)
	return append(out, h.msgs...)
}

// Len reports the number of retained non-system messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}
