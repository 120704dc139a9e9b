package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"points-lottery/internal/config"
	"points-lottery/internal/repository"
)

// LotteryView is everything the lottery page shows to one user.
type LotteryView struct {
	TermID           int64      `json:"term_id"`
	Phase            Phase      `json:"phase"`
	CanBuy           bool       `json:"can_buy"`
	StartTime        int64      `json:"start_time"`
	DrawTime         int64      `json:"draw_time"`
	SecondsRemaining int64      `json:"seconds_remaining"`
	RemainingText    string     `json:"remaining_text"`
	Prize            int64      `json:"prize"`
	PrizeText        string     `json:"prize_text"`
	UsePot           bool       `json:"use_pot"`
	Pot              int64      `json:"pot"`
	TicketCount      int64      `json:"ticket_count"`
	TicketPrice      int64      `json:"ticket_price"`
	MyTickets        []int64    `json:"my_tickets"`
	Balance          int64      `json:"balance"`
	BalanceText      string     `json:"balance_text"`
	LastWinner       *WinnerRow `json:"last_winner,omitempty"`
}

// LotteryService is the entry point the transports use.
type LotteryService struct {
	accounts *AccountService
	terms    *TermManager
	seller   *TicketSeller
	draw     *DrawTask
	stats    *StatsRenderer
	tickets  *repository.TicketRepository
	txs      *repository.TransactionRepository
	cfg      config.LotteryConfig
	now      func() time.Time
}

// NewLotteryService creates a new LotteryService instance.
func NewLotteryService(
	accounts *AccountService,
	terms *TermManager,
	seller *TicketSeller,
	draw *DrawTask,
	stats *StatsRenderer,
	tickets *repository.TicketRepository,
	txs *repository.TransactionRepository,
	cfg config.LotteryConfig,
) *LotteryService {
	return &LotteryService{
		accounts: accounts,
		terms:    terms,
		seller:   seller,
		draw:     draw,
		stats:    stats,
		tickets:  tickets,
		txs:      txs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// View builds the lottery page for uid.
func (s *LotteryService) View(ctx context.Context, uid int64) (*LotteryView, error) {
	snap, err := s.terms.Current(ctx)
	if err != nil {
		return nil, err
	}
	phase, remaining := s.terms.Phase(snap, s.now())

	pot, err := s.terms.Pot(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.accounts.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	tickets, err := s.tickets.ListByTermAndUser(ctx, snap.TermID, uid)
	if err != nil {
		return nil, err
	}
	mine := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		mine = append(mine, t.TicketID)
	}

	prize := Payout(s.cfg.Prize, pot, s.cfg.UsePot)
	view := &LotteryView{
		TermID:           snap.TermID,
		Phase:            phase,
		CanBuy:           phase == PhaseOpen,
		StartTime:        snap.StartTime,
		DrawTime:         DrawTime(snap.StartTime, s.cfg.DrawFrequency),
		SecondsRemaining: remaining,
		RemainingText:    FormatDuration(remaining),
		Prize:            prize,
		PrizeText:        FormatPoints(prize),
		UsePot:           s.cfg.UsePot,
		Pot:              pot,
		TicketCount:      snap.TicketCount,
		TicketPrice:      s.cfg.TicketPrice,
		MyTickets:        mine,
		Balance:          user.Balance,
		BalanceText:      FormatPoints(user.Balance),
	}

	last, err := s.txs.LastWinner(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		row := winnerRow(last, s.cfg.DateFormat)
		// The previous winning number stays hidden while tickets are on sale
		if phase == PhaseOpen {
			row.TicketID = 0
		}
		view.LastWinner = &row
	}

	return view, nil
}

// Buy sells uid a ticket of the term currently shown.
func (s *LotteryService) Buy(ctx context.Context, uid int64) (*PurchaseResult, error) {
	snap, err := s.terms.Current(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.seller.Buy(ctx, uid, snap.TermID)
	if errors.Is(err, ErrTermChanged) {
		// The cached snapshot was stale; reseed it for the next request
		if _, rerr := s.terms.Refresh(ctx); rerr != nil {
			log.Warn().Err(rerr).Msg("Failed to refresh lottery term")
		}
	}
	return result, err
}

// Draw runs the draw task now.
func (s *LotteryService) Draw(ctx context.Context) (*DrawResult, error) {
	return s.draw.Run(ctx)
}

// Winners renders the recent winners list.
func (s *LotteryService) Winners(ctx context.Context) (*WinnersView, error) {
	return s.stats.LastWinners(ctx)
}

// Accounts exposes the ledger operations.
func (s *LotteryService) Accounts() *AccountService {
	return s.accounts
}
