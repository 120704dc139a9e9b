package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
)

const transactionColumns = `id, user_id, amount, type, category, primary_ref, secondary_ref, description, created_at`

// TransactionRepository writes and reads the audit log.
type TransactionRepository struct {
	db db.DBTX
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(conn db.DBTX) *TransactionRepository {
	return &TransactionRepository{db: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var tx model.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.Category,
		&tx.PrimaryRef,
		&tx.SecondaryRef,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Create records an audit entry. ID and CreatedAt of entry are ignored.
func (r *TransactionRepository) Create(ctx context.Context, entry model.Transaction) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (user_id, amount, type, category, primary_ref, secondary_ref, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRow(ctx, query,
		entry.UserID,
		entry.Amount,
		entry.Type,
		entry.Category,
		entry.PrimaryRef,
		entry.SecondaryRef,
		entry.Description,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx, nil
}

// GetByUserID retrieves transactions for a user, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// RecentWinners lists lottery payouts newest first, joined with the winner's
// account. The audit log has no foreign key to users, so payouts of deleted
// users are still listed, with an empty username.
func (r *TransactionRepository) RecentWinners(ctx context.Context, limit int) ([]*model.WinnerEntry, error) {
	const query = `
		SELECT t.user_id, COALESCE(u.username, ''), t.amount, t.primary_ref, t.secondary_ref, t.created_at
		FROM transactions t
		LEFT JOIN users u ON t.user_id = u.uid
		WHERE t.type = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, model.TxTypeLotteryWinner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent winners: %w", err)
	}
	defer rows.Close()

	var winners []*model.WinnerEntry
	for rows.Next() {
		var w model.WinnerEntry
		err := rows.Scan(
			&w.UID,
			&w.Username,
			&w.Amount,
			&w.TicketID,
			&w.TermID,
			&w.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan winner: %w", err)
		}
		winners = append(winners, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating winners: %w", err)
	}

	return winners, nil
}

// LastWinner returns the most recent lottery payout, or nil when nobody has won yet.
func (r *TransactionRepository) LastWinner(ctx context.Context) (*model.WinnerEntry, error) {
	winners, err := r.RecentWinners(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		return nil, nil
	}
	return winners[0], nil
}

// SumByUser returns the net amount of all entries of a user, used to reconcile balances.
func (r *TransactionRepository) SumByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`

	var sum int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
