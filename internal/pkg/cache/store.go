// Package cache keeps the denormalized snapshot of the open lottery term
// (`lottery_term`) and the running pot (`lottery_pot`).
//
// The database stays authoritative. Increments only apply while the cached
// snapshot belongs to the same term, and Seed never replaces a newer term or
// a higher ticket count, so a reader that loaded the term before a draw or a
// purchase cannot put its stale copy back.
package cache

import (
	"context"

	"points-lottery/internal/model"
)

// Keys used by every store implementation.
const (
	KeyTerm = "lottery_term"
	KeyPot  = "lottery_pot"
)

// Store is the lottery cache.
type Store interface {
	// Term returns the cached snapshot; ok is false on a miss.
	Term(ctx context.Context) (snap model.TermSnapshot, ok bool, err error)
	// SetTerm replaces the snapshot.
	SetTerm(ctx context.Context, snap model.TermSnapshot) error
	// Seed writes snap and pot together unless the cache holds a newer term
	// or the same term with more tickets. Reports whether it wrote.
	Seed(ctx context.Context, snap model.TermSnapshot, pot int64) (bool, error)
	// IncrTicketCount adds delta to the cached ticket count if the cache holds termID.
	IncrTicketCount(ctx context.Context, termID, delta int64) error
	// Pot returns the cached pot; ok is false on a miss.
	Pot(ctx context.Context) (pot int64, ok bool, err error)
	// SetPot replaces the pot.
	SetPot(ctx context.Context, pot int64) error
	// IncrPot adds delta to the pot if the cache holds termID.
	IncrPot(ctx context.Context, termID, delta int64) error
	// Reset drops both entries.
	Reset(ctx context.Context) error
}

// newer reports whether cached supersedes snap. Term ids only grow and a
// term's ticket count only rises while it is open.
func newer(cached, snap model.TermSnapshot) bool {
	if cached.TermID != snap.TermID {
		return cached.TermID > snap.TermID
	}
	return cached.TicketCount > snap.TicketCount
}
