package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
)

// ErrTicketNotFound is returned when a term has no tickets to draw from.
var ErrTicketNotFound = errors.New("lottery ticket not found")

// TicketRepository handles lottery ticket persistence. Tickets are never updated.
type TicketRepository struct {
	db db.DBTX
}

// NewTicketRepository creates a new TicketRepository instance.
func NewTicketRepository(conn db.DBTX) *TicketRepository {
	return &TicketRepository{db: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *TicketRepository) WithTx(tx pgx.Tx) *TicketRepository {
	return &TicketRepository{db: tx}
}

// Create records a ticket bought by uid for termID at dateline (unix seconds).
func (r *TicketRepository) Create(ctx context.Context, termID, uid, dateline int64) (*model.Ticket, error) {
	const query = `
		INSERT INTO lottery_tickets (term_id, uid, dateline)
		VALUES ($1, $2, $3)
		RETURNING ticket_id, term_id, uid, dateline
	`

	var t model.Ticket
	err := r.db.QueryRow(ctx, query, termID, uid, dateline).Scan(&t.TicketID, &t.TermID, &t.UID, &t.Dateline)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	return &t, nil
}

// RandomForTerm picks one ticket of the term uniformly at random.
// Returns ErrTicketNotFound when the term has no tickets.
func (r *TicketRepository) RandomForTerm(ctx context.Context, termID int64) (*model.Ticket, error) {
	const query = `
		SELECT ticket_id, term_id, uid, dateline
		FROM lottery_tickets
		WHERE term_id = $1
		ORDER BY random()
		LIMIT 1
	`

	var t model.Ticket
	err := r.db.QueryRow(ctx, query, termID).Scan(&t.TicketID, &t.TermID, &t.UID, &t.Dateline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to pick ticket: %w", err)
	}

	return &t, nil
}

// ListByTermAndUser returns the tickets uid holds in termID, oldest first.
func (r *TicketRepository) ListByTermAndUser(ctx context.Context, termID, uid int64) ([]*model.Ticket, error) {
	const query = `
		SELECT ticket_id, term_id, uid, dateline
		FROM lottery_tickets
		WHERE term_id = $1 AND uid = $2
		ORDER BY ticket_id
	`

	rows, err := r.db.Query(ctx, query, termID, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.TicketID, &t.TermID, &t.UID, &t.Dateline); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	return tickets, nil
}

// CountByTerm counts the ticket rows of a term.
func (r *TicketRepository) CountByTerm(ctx context.Context, termID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM lottery_tickets WHERE term_id = $1`

	var n int64
	if err := r.db.QueryRow(ctx, query, termID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}
