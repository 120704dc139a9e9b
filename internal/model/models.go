// Package model defines the data models for the points lottery.
package model

import "time"

// User is an account in the point ledger.
type User struct {
	UID       int64     `db:"uid"`
	Username  string    `db:"username"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Transaction is one audit log entry for a balance change.
// PrimaryRef and SecondaryRef correlate the entry with domain rows;
// for lottery entries they hold the ticket id and the term id.
type Transaction struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	Amount       int64     `db:"amount"`
	Type         string    `db:"type"`
	Category     string    `db:"category"`
	PrimaryRef   int64     `db:"primary_ref"`
	SecondaryRef int64     `db:"secondary_ref"`
	Description  *string   `db:"description"`
	CreatedAt    time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeInitial       = "initial"        // Initial balance on account creation
	TxTypeAdminAdd      = "admin_add"      // Admin added balance
	TxTypeLotteryTicket = "lottery_ticket" // Ticket purchase
	TxTypeLotteryWinner = "lottery_winner" // Draw payout
)

// Transaction categories.
const (
	CategoryIncome = "income"
	CategoryCharge = "charge"
)

// Term is one lottery round. EndTime == 0 means the term is still open.
// While open, Money accumulates the pot; once drawn it holds the payout.
// Times are unix seconds.
type Term struct {
	TermID             int64 `db:"term_id"`
	WinnerUID          int64 `db:"winner_uid"`
	WinnerTicketNumber int64 `db:"winner_ticket_number"`
	TicketCount        int64 `db:"ticket_count"`
	Money              int64 `db:"money"`
	StartTime          int64 `db:"start_time"`
	EndTime            int64 `db:"end_time"`
}

// IsOpen reports whether the term has not been drawn yet.
func (t *Term) IsOpen() bool {
	return t.EndTime == 0
}

// Snapshot returns the cached subset of the term.
func (t *Term) Snapshot() TermSnapshot {
	return TermSnapshot{
		TermID:      t.TermID,
		StartTime:   t.StartTime,
		TicketCount: t.TicketCount,
	}
}

// TermSnapshot is the denormalized view of the open term kept in the cache.
type TermSnapshot struct {
	TermID      int64 `json:"term_id"`
	StartTime   int64 `json:"start_time"`
	TicketCount int64 `json:"ticket_count"`
}

// Ticket is one purchased entry. Immutable once written.
type Ticket struct {
	TicketID int64 `db:"ticket_id"`
	TermID   int64 `db:"term_id"`
	UID      int64 `db:"uid"`
	Dateline int64 `db:"dateline"`
}

// WinnerEntry is a lottery_winner audit entry joined with the winner's account.
type WinnerEntry struct {
	UID       int64     `db:"user_id"`
	Username  string    `db:"username"`
	Amount    int64     `db:"amount"`
	TicketID  int64     `db:"primary_ref"`
	TermID    int64     `db:"secondary_ref"`
	CreatedAt time.Time `db:"created_at"`
}
