// Package memory holds short-term conversational context per subscriber.
// The buffer is append-only and FIFO-capped: once full, the oldest turns
// are evicted so the snapshot always preserves chronological order.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
)

// DefaultCap is the default maximum number of turns kept per subscriber.
const DefaultCap = 10

// Store is the conversation memory interface consumed by the dispatcher.
// AppendExchange persists a user turn and the assistant reply as one
// atomic unit so concurrent messages from one subscriber cannot interleave
// half-exchanges.
type Store interface {
	Append(ctx context.Context, subscriberID, role, content string) error
	AppendExchange(ctx context.Context, subscriberID, userText, assistantText string) error
	Snapshot(ctx context.Context, subscriberID string) ([]domain.Turn, error)
}

// Buffer is an in-memory Store suitable for a single process instance.
type Buffer struct {
	mu       sync.Mutex
	maxTurns int
	turns    map[string][]domain.Turn
	now      func() time.Time
}

// NewBuffer creates a Buffer keeping at most maxTurns turns per subscriber.
func NewBuffer(maxTurns int) *Buffer {
	if maxTurns <= 0 {
		maxTurns = DefaultCap
	}
	return &Buffer{
		maxTurns: maxTurns,
		turns:    make(map[string][]domain.Turn),
		now:      time.Now,
	}
}

func (b *Buffer) Append(_ context.Context, subscriberID, role, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(subscriberID, role, content)
	return nil
}

func (b *Buffer) AppendExchange(_ context.Context, subscriberID, userText, assistantText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(subscriberID, domain.RoleUser, userText)
	b.append(subscriberID, domain.RoleAssistant, assistantText)
	return nil
}

// append must be called with the lock held.
func (b *Buffer) append(subscriberID, role, content string) {
	turns := append(b.turns[subscriberID], domain.Turn{
		Role:      role,
		Content:   content,
		Timestamp: b.now(),
	})
	if len(turns) > b.maxTurns {
		turns = turns[len(turns)-b.maxTurns:]
	}
	b.turns[subscriberID] = turns
}

// Snapshot returns a copy of the subscriber's turns, oldest first.
func (b *Buffer) Snapshot(_ context.Context, subscriberID string) ([]domain.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	turns := b.turns[subscriberID]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}
