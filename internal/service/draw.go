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
	"points-lottery/internal/pkg/metrics"
	"points-lottery/internal/repository"
)

// drawLockKey is the advisory lock key shared by every draw run, across processes.
const drawLockKey int64 = 0x6c6f7474657279 // "lottery"

// DrawResult describes one run of the draw task.
type DrawResult struct {
	// Skipped is set when another run held the draw lock.
	Skipped bool
	// Due is set when the open term was drawn and closed.
	Due bool
	// Closed is the term this run closed.
	Closed *model.Term
	// Winner is the winning ticket, nil when the term had no tickets.
	Winner *model.Ticket
	Payout int64
	// Next is the open term after the run.
	Next *model.Term
}

// Outcome names the result for metrics and logs.
func (r *DrawResult) Outcome() string {
	switch {
	case r.Skipped:
		return metrics.DrawSkipped
	case !r.Due:
		return metrics.DrawNotDue
	case r.Winner == nil:
		return metrics.DrawEmpty
	default:
		return metrics.DrawWinner
	}
}

// DrawTask closes due terms, pays the winner and opens the next term.
type DrawTask struct {
	pool    db.TxBeginner
	users   *repository.UserRepository
	terms   *repository.TermRepository
	tickets *repository.TicketRepository
	txs     *repository.TransactionRepository
	cache   cache.Store
	cfg     config.LotteryConfig
	now     func() time.Time
}

// NewDrawTask creates a new DrawTask instance.
func NewDrawTask(
	pool db.TxBeginner,
	users *repository.UserRepository,
	terms *repository.TermRepository,
	tickets *repository.TicketRepository,
	txs *repository.TransactionRepository,
	store cache.Store,
	cfg config.LotteryConfig,
) *DrawTask {
	return &DrawTask{
		pool:    pool,
		users:   users,
		terms:   terms,
		tickets: tickets,
		txs:     txs,
		cache:   store,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run draws the open term if its buying window has elapsed.
// The whole draw commits or nothing does; a run that finds the term not yet
// due, or another run in progress, changes nothing.
func (d *DrawTask) Run(ctx context.Context) (*DrawResult, error) {
	now := d.now().Unix()

	var result DrawResult
	err := db.InTx(ctx, d.pool, func(tx pgx.Tx) error {
		result = DrawResult{}

		acquired, err := db.TryAdvisoryXactLock(ctx, tx, drawLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			result.Skipped = true
			return nil
		}

		terms := d.terms.WithTx(tx)
		term, err := terms.GetOpenForUpdate(ctx)
		if errors.Is(err, repository.ErrTermNotFound) {
			result.Next, err = d.openNext(ctx, terms, now)
			return err
		}
		if err != nil {
			return err
		}

		if now < DrawTime(term.StartTime, d.cfg.DrawFrequency) {
			result.Next = term
			return nil
		}
		result.Due = true

		ticket, err := d.tickets.WithTx(tx).RandomForTerm(ctx, term.TermID)
		switch {
		case errors.Is(err, repository.ErrTicketNotFound):
			result.Closed, err = terms.Close(ctx, term.TermID, 0, 0, 0, now)
		case err != nil:
			return err
		default:
			result.Winner = ticket
			result.Payout = Payout(d.cfg.Prize, term.Money, d.cfg.UsePot)
			if err := d.pay(ctx, tx, term, ticket, result.Payout); err != nil {
				return err
			}
			result.Closed, err = terms.Close(ctx, term.TermID, ticket.UID, ticket.TicketID, result.Payout, now)
		}
		if err != nil {
			return err
		}

		result.Next, err = d.openNext(ctx, terms, now)
		return err
	})
	if err != nil {
		metrics.DrawRun(metrics.DrawFailed)
		return nil, fmt.Errorf("lottery draw failed: %w", err)
	}

	metrics.DrawRun(result.Outcome())
	if result.Due {
		d.resetCache(ctx, result.Next)
		d.logDraw(&result)
	}
	return &result, nil
}

func (d *DrawTask) pay(ctx context.Context, tx pgx.Tx, term *model.Term, ticket *model.Ticket, payout int64) error {
	if _, err := d.users.WithTx(tx).Credit(ctx, ticket.UID, payout); err != nil {
		return err
	}

	desc := fmt.Sprintf("Lottery term #%d prize", term.TermID)
	_, err := d.txs.WithTx(tx).Create(ctx, model.Transaction{
		UserID:       ticket.UID,
		Amount:       payout,
		Type:         model.TxTypeLotteryWinner,
		Category:     model.CategoryIncome,
		PrimaryRef:   ticket.TicketID,
		SecondaryRef: term.TermID,
		Description:  &desc,
	})
	return err
}

func (d *DrawTask) openNext(ctx context.Context, terms *repository.TermRepository, now int64) (*model.Term, error) {
	start := now + int64(d.cfg.Rest/time.Second)
	next, err := terms.CreateOpen(ctx, start)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, errors.New("an open term already exists")
	}
	return next, nil
}

func (d *DrawTask) resetCache(ctx context.Context, next *model.Term) {
	if err := d.cache.SetTerm(ctx, next.Snapshot()); err != nil {
		log.Warn().Err(err).Int64("term_id", next.TermID).Msg("Failed to reset lottery term cache")
		// A stale snapshot must not outlive the draw
		if err := d.cache.Reset(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to drop lottery cache")
		}
	}
	if err := d.cache.SetPot(ctx, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to reset lottery pot cache")
	}
	metrics.SetPot(0)
}

func (d *DrawTask) logDraw(r *DrawResult) {
	evt := log.Info().
		Int64("term_id", r.Closed.TermID).
		Int64("ticket_count", r.Closed.TicketCount).
		Int64("next_term_id", r.Next.TermID).
		Int64("next_start_time", r.Next.StartTime)
	if r.Winner == nil {
		evt.Msg("Lottery term closed without tickets")
		return
	}
	evt.Int64("uid", r.Winner.UID).
		Int64("ticket_id", r.Winner.TicketID).
		Int64("payout", r.Payout).
		Msg("Lottery term drawn")
}
