// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/db"
	"points-lottery/internal/repository"
)

// ErrInvalidAmount is returned for a zero adjustment.
var ErrInvalidAmount = errors.New("amount must not be zero")

// AccountService handles user account operations on the point ledger.
type AccountService struct {
	pool           db.TxBeginner
	userRepo       *repository.UserRepository
	txRepo         *repository.TransactionRepository
	initialBalance int64
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	pool db.TxBeginner,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	initialBalance int64,
) *AccountService {
	return &AccountService{
		pool:           pool,
		userRepo:       userRepo,
		txRepo:         txRepo,
		initialBalance: initialBalance,
	}
}

// EnsureUser ensures a user exists, creating one with the initial balance if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, uid int64, username string) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		user, created, err = s.userRepo.WithTx(tx).GetOrCreate(ctx, uid, username, s.initialBalance)
		if err != nil || !created || s.initialBalance == 0 {
			return err
		}
		_, err = s.txRepo.WithTx(tx).Create(ctx, model.Transaction{
			UserID:   uid,
			Amount:   s.initialBalance,
			Type:     model.TxTypeInitial,
			Category: model.CategoryIncome,
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	// Update username if it changed
	if !created && user.Username != username && username != "" {
		if err := s.userRepo.UpdateUsername(ctx, uid, username); err != nil {
			log.Warn().Err(err).Int64("uid", uid).Msg("Failed to update username")
		} else {
			user.Username = username
		}
	}

	return user, created, nil
}

// GetBalance retrieves a user's current balance.
func (s *AccountService) GetBalance(ctx context.Context, uid int64) (int64, error) {
	user, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return user.Balance, nil
}

// GetUser retrieves a user by uid.
func (s *AccountService) GetUser(ctx context.Context, uid int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, uid)
}

// UpdateBalance adds amount (negative to subtract) to a user's balance and
// records the audit entry in the same transaction.
// A subtraction larger than the balance fails with repository.ErrInsufficientBalance.
func (s *AccountService) UpdateBalance(ctx context.Context, uid int64, amount int64, txType string, description *string) (*model.User, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	var user *model.User
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		users := s.userRepo.WithTx(tx)

		var err error
		category := model.CategoryIncome
		if amount > 0 {
			user, err = users.Credit(ctx, uid, amount)
		} else {
			category = model.CategoryCharge
			user, err = users.Debit(ctx, uid, -amount)
		}
		if err != nil {
			return err
		}

		_, err = s.txRepo.WithTx(tx).Create(ctx, model.Transaction{
			UserID:      uid,
			Amount:      amount,
			Type:        txType,
			Category:    category,
			Description: description,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	return user, nil
}
