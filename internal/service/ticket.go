package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/config"
	"points-lottery/internal/model"
	"points-lottery/internal/pkg/cache"
	"points-lottery/internal/pkg/db"
	"points-lottery/internal/pkg/lock"
	"points-lottery/internal/pkg/metrics"
	"points-lottery/internal/repository"
)

// purchaseLockTimeout bounds how long a second submit from the same user waits.
const purchaseLockTimeout = 5 * time.Second

// PurchaseResult describes a successful ticket purchase.
type PurchaseResult struct {
	Ticket  *model.Ticket
	Term    *model.Term
	Balance int64
}

// TicketSeller sells lottery tickets.
type TicketSeller struct {
	pool    db.TxBeginner
	users   *repository.UserRepository
	terms   *repository.TermRepository
	tickets *repository.TicketRepository
	txs     *repository.TransactionRepository
	cache   cache.Store
	locks   *lock.UserLock
	cfg     config.LotteryConfig
	now     func() time.Time
}

// NewTicketSeller creates a new TicketSeller instance.
func NewTicketSeller(
	pool db.TxBeginner,
	users *repository.UserRepository,
	terms *repository.TermRepository,
	tickets *repository.TicketRepository,
	txs *repository.TransactionRepository,
	store cache.Store,
	locks *lock.UserLock,
	cfg config.LotteryConfig,
) *TicketSeller {
	return &TicketSeller{
		pool:    pool,
		users:   users,
		terms:   terms,
		tickets: tickets,
		txs:     txs,
		cache:   store,
		locks:   locks,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Buy sells one ticket of the open term to uid.
// termID is the term the user saw; 0 accepts whatever term is open.
// Returns ErrRestTime outside the buying window, ErrNotEnoughMoney when the
// balance does not cover the price and ErrTermChanged when termID was drawn
// in the meantime. A refused purchase changes nothing.
func (s *TicketSeller) Buy(ctx context.Context, uid, termID int64) (*PurchaseResult, error) {
	var result *PurchaseResult
	err := s.locks.WithLockContext(ctx, uid, purchaseLockTimeout, func() error {
		var err error
		result, err = s.buy(ctx, uid, termID)
		return err
	})
	if err != nil {
		metrics.PurchaseRejected(rejectReason(err))
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, ErrBusy
		}
		return nil, err
	}

	// Cache increments only land while the cache still holds this term
	if err := s.cache.IncrTicketCount(ctx, result.Term.TermID, 1); err != nil {
		log.Warn().Err(err).Int64("term_id", result.Term.TermID).Msg("Failed to update cached ticket count")
	}
	if s.cfg.UsePot {
		if err := s.cache.IncrPot(ctx, result.Term.TermID, s.cfg.TicketPrice); err != nil {
			log.Warn().Err(err).Int64("term_id", result.Term.TermID).Msg("Failed to update cached pot")
		}
		metrics.SetPot(result.Term.Money)
	}
	metrics.TicketSold()

	log.Info().
		Int64("uid", uid).
		Int64("term_id", result.Term.TermID).
		Int64("ticket_id", result.Ticket.TicketID).
		Int64("balance", result.Balance).
		Msg("Lottery ticket sold")

	return result, nil
}

func (s *TicketSeller) buy(ctx context.Context, uid, termID int64) (*PurchaseResult, error) {
	now := s.now().Unix()
	price := s.cfg.TicketPrice

	var result PurchaseResult
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		terms := s.terms.WithTx(tx)

		// Row lock orders this purchase against a concurrent draw
		term, err := terms.GetOpenForUpdate(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrTermNotFound) {
				return ErrTermChanged
			}
			return err
		}
		if termID != 0 && term.TermID != termID {
			return ErrTermChanged
		}
		if phase, _ := PhaseAt(term.StartTime, s.cfg.DrawFrequency, now); phase != PhaseOpen {
			return ErrRestTime
		}

		user, err := s.users.WithTx(tx).Debit(ctx, uid, price)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return ErrNotEnoughMoney
			}
			return err
		}

		ticket, err := s.tickets.WithTx(tx).Create(ctx, term.TermID, uid, now)
		if err != nil {
			return err
		}

		var potDelta int64
		if s.cfg.UsePot {
			potDelta = price
		}
		term, err = terms.AddTicket(ctx, term.TermID, potDelta)
		if err != nil {
			return err
		}

		desc := fmt.Sprintf("Lottery ticket #%d", ticket.TicketID)
		_, err = s.txs.WithTx(tx).Create(ctx, model.Transaction{
			UserID:       uid,
			Amount:       -price,
			Type:         model.TxTypeLotteryTicket,
			Category:     model.CategoryCharge,
			PrimaryRef:   ticket.TicketID,
			SecondaryRef: term.TermID,
			Description:  &desc,
		})
		if err != nil {
			return err
		}

		result = PurchaseResult{Ticket: ticket, Term: term, Balance: user.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRestTime):
		return "rest_time"
	case errors.Is(err, ErrNotEnoughMoney):
		return "not_enough_money"
	case errors.Is(err, ErrTermChanged):
		return "term_changed"
	case errors.Is(err, repository.ErrUserNotFound):
		return "no_account"
	case errors.Is(err, lock.ErrLockTimeout):
		return "busy"
	default:
		return "error"
	}
}
