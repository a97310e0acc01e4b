// Package callstore persists call records and transcripts. The interesting
// implementation is [Postgres], which also embeds transcript lines for
// semantic search over past calls; [Noop] keeps the agent fully functional
// without a database.
package callstore

import (
	"context"
	"time"

	"github.com/ringline-ai/ringline/internal/transcript"
)

// SearchResult is one transcript line matched by [Store.Search].
type SearchResult struct {
	CallID string
	Role   string
	Text   string
	At     time.Time

	// Distance is the cosine distance to the query embedding. Lower is
	// more similar. Zero for keyword matches.
	Distance float64
}

// Store records calls and their transcripts.
type Store interface {
	// StartCall records that a call began. callSid is the carrier's call
	// identifier and may be empty.
	StartCall(ctx context.Context, id, callSid string) error

	// EndCall marks the call finished and persists its transcript.
	EndCall(ctx context.Context, id string, lines []transcript.Line) error

	// Search finds transcript lines relevant to query across all calls.
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)

	// Close releases underlying resources.
	Close()
}

// Noop is a Store that remembers nothing.
type Noop struct{}

var _ Store = Noop{}

func (Noop) StartCall(context.Context, string, string) error { return nil }

func (Noop) EndCall(context.Context, string, []transcript.Line) error { return nil }

func (Noop) Search(context.Context, string, int) ([]SearchResult, error) { return nil, nil }

func (Noop) Close() {}
