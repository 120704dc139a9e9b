package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
)

// ErrTermNotFound is returned when no matching lottery term exists.
var ErrTermNotFound = errors.New("lottery term not found")

const termColumns = `term_id, winner_uid, winner_ticket_number, ticket_count, money, start_time, end_time`

// TermRepository handles lottery term persistence.
// At most one term has end_time = 0; the partial unique index enforces it.
type TermRepository struct {
	db db.DBTX
}

// NewTermRepository creates a new TermRepository instance.
func NewTermRepository(conn db.DBTX) *TermRepository {
	return &TermRepository{db: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *TermRepository) WithTx(tx pgx.Tx) *TermRepository {
	return &TermRepository{db: tx}
}

func scanTerm(row pgx.Row) (*model.Term, error) {
	var t model.Term
	err := row.Scan(
		&t.TermID,
		&t.WinnerUID,
		&t.WinnerTicketNumber,
		&t.TicketCount,
		&t.Money,
		&t.StartTime,
		&t.EndTime,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TermRepository) queryOne(ctx context.Context, op, query string, args ...any) (*model.Term, error) {
	t, err := scanTerm(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTermNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return t, nil
}

// GetOpen returns the open term.
func (r *TermRepository) GetOpen(ctx context.Context) (*model.Term, error) {
	const query = `
		SELECT ` + termColumns + `
		FROM lottery_terms
		WHERE end_time = 0
		ORDER BY term_id DESC
		LIMIT 1
	`
	return r.queryOne(ctx, "get open term", query)
}

// GetOpenForUpdate returns the open term and row-locks it until the
// surrounding transaction ends. Must be called on a repository bound to a tx.
func (r *TermRepository) GetOpenForUpdate(ctx context.Context) (*model.Term, error) {
	const query = `
		SELECT ` + termColumns + `
		FROM lottery_terms
		WHERE end_time = 0
		ORDER BY term_id DESC
		LIMIT 1
		FOR UPDATE
	`
	return r.queryOne(ctx, "lock open term", query)
}

// GetByID returns a term by id.
func (r *TermRepository) GetByID(ctx context.Context, termID int64) (*model.Term, error) {
	const query = `SELECT ` + termColumns + ` FROM lottery_terms WHERE term_id = $1`
	return r.queryOne(ctx, "get term", query, termID)
}

// CreateOpen inserts a new open term starting at startTime.
// Returns (nil, nil) when another open term already exists.
func (r *TermRepository) CreateOpen(ctx context.Context, startTime int64) (*model.Term, error) {
	const query = `
		INSERT INTO lottery_terms (start_time)
		VALUES ($1)
		ON CONFLICT DO NOTHING
		RETURNING ` + termColumns

	t, err := r.queryOne(ctx, "create term", query, startTime)
	if errors.Is(err, ErrTermNotFound) {
		return nil, nil
	}
	return t, err
}

// AddTicket counts one more ticket against an open term and adds potDelta to its pot.
func (r *TermRepository) AddTicket(ctx context.Context, termID int64, potDelta int64) (*model.Term, error) {
	const query = `
		UPDATE lottery_terms
		SET ticket_count = ticket_count + 1, money = money + $2
		WHERE term_id = $1 AND end_time = 0
		RETURNING ` + termColumns
	return r.queryOne(ctx, "add ticket to term", query, termID, potDelta)
}

// Close records the draw outcome and ends an open term.
// A term without winner is closed with winnerUID and winnerTicket set to 0.
func (r *TermRepository) Close(ctx context.Context, termID, winnerUID, winnerTicket, money, endTime int64) (*model.Term, error) {
	const query = `
		UPDATE lottery_terms
		SET winner_uid = $2, winner_ticket_number = $3, money = $4, end_time = $5
		WHERE term_id = $1 AND end_time = 0
		RETURNING ` + termColumns
	return r.queryOne(ctx, "close term", query, termID, winnerUID, winnerTicket, money, endTime)
}
