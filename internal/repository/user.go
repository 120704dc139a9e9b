// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const userColumns = `uid, username, balance, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	db db.DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{db: conn}
}

// WithTx returns a copy of the repository bound to tx.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.UID,
		&user.Username,
		&user.Balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user with the given starting balance.
// Returns (nil, nil) when the user already exists.
func (r *UserRepository) Create(ctx context.Context, uid int64, username string, balance int64) (*model.User, error) {
	const query = `
		INSERT INTO users (uid, username, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (uid) DO NOTHING
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, uid, username, balance))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by uid.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, uid int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE uid = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetOrCreate retrieves a user by uid, creating one with initialBalance if it doesn't exist.
// The bool result reports whether the user was created by this call.
func (r *UserRepository) GetOrCreate(ctx context.Context, uid int64, username string, initialBalance int64) (*model.User, bool, error) {
	user, err := r.GetByID(ctx, uid)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, uid, username, initialBalance)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		// Lost the race to a concurrent request
		user, err = r.GetByID(ctx, uid)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// Debit subtracts amount from the balance only if the balance covers it.
// Returns ErrInsufficientBalance when it does not and ErrUserNotFound for unknown users.
func (r *UserRepository) Debit(ctx context.Context, uid int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance - $2, updated_at = NOW()
		WHERE uid = $1 AND balance >= $2
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, uid, amount))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	exists, err := r.Exists(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	return nil, ErrInsufficientBalance
}

// Credit adds amount to the balance. A negative amount is rejected by the
// balance check constraint if it would overdraw the account.
func (r *UserRepository) Credit(ctx context.Context, uid int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE uid = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, uid, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	return user, nil
}

// UpdateUsername updates a user's username.
// This is useful when a user changes their Telegram username.
func (r *UserRepository) UpdateUsername(ctx context.Context, uid int64, username string) error {
	const query = `
		UPDATE users
		SET username = $2, updated_at = NOW()
		WHERE uid = $1
	`

	result, err := r.db.Exec(ctx, query, uid, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Exists checks if a user with the given uid exists.
func (r *UserRepository) Exists(ctx context.Context, uid int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE uid = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}
