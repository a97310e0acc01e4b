// Package llm defines the Provider interface for chat completion backends.
//
// A provider receives the full conversation history (system instructions
// plus alternating user and assistant turns) and returns the assistant's
// next reply as plain text. Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete returns the assistant reply for the given conversation.
	// The first message is expected to carry the system instructions.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// StatusError reports a non-success HTTP status from a completion backend.
// Wrapping vendor errors in StatusError lets callers apply uniform retry
// policy across backends.
type StatusError struct {
	// Code is the HTTP status code returned by the backend.
	Code int

	// Message is the backend's error description, if any.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm: backend returned status %d", e.Code)
	}
	return fmt.Sprintf("llm: backend returned status %d: %s", e.Code, e.Message)
}

// Transient reports whether the status indicates a server-side failure that
// may succeed on retry.
func (e *StatusError) Transient() bool {
	return e.Code >= http.StatusInternalServerError
}

// IsTransient reports whether err is a [StatusError] carrying a 5xx status.
func IsTransient(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}
