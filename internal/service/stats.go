package service

import (
	"context"
	"fmt"

	"points-lottery/internal/config"
	"points-lottery/internal/model"
	"points-lottery/internal/repository"
)

// NoWinnersText is shown when nobody has won yet.
const NoWinnersText = "There are no winners yet."

// WinnerRow is one rendered line of the winners list.
type WinnerRow struct {
	UID        int64  `json:"uid"`
	Username   string `json:"username"`
	Amount     int64  `json:"amount"`
	AmountText string `json:"amount_text"`
	TicketID   int64  `json:"ticket_id,omitempty"`
	TermID     int64  `json:"term_id"`
	Date       string `json:"date"`
}

// WinnersView is the statistics fragment.
type WinnersView struct {
	Winners     []WinnerRow `json:"winners"`
	Empty       bool        `json:"empty"`
	Placeholder string      `json:"placeholder,omitempty"`
}

// StatsRenderer renders the recent winners list. Read-only.
type StatsRenderer struct {
	txs *repository.TransactionRepository
	cfg config.LotteryConfig
}

// NewStatsRenderer creates a new StatsRenderer instance.
func NewStatsRenderer(txs *repository.TransactionRepository, cfg config.LotteryConfig) *StatsRenderer {
	return &StatsRenderer{txs: txs, cfg: cfg}
}

// LastWinners lists the newest payouts, at most last_winners of them.
func (s *StatsRenderer) LastWinners(ctx context.Context) (*WinnersView, error) {
	entries, err := s.txs.RecentWinners(ctx, s.cfg.LastWinners)
	if err != nil {
		return nil, fmt.Errorf("failed to load winners: %w", err)
	}
	return renderWinners(entries, s.cfg.DateFormat), nil
}

func renderWinners(entries []*model.WinnerEntry, layout string) *WinnersView {
	view := &WinnersView{Winners: make([]WinnerRow, 0, len(entries))}
	for _, e := range entries {
		view.Winners = append(view.Winners, winnerRow(e, layout))
	}
	if len(view.Winners) == 0 {
		view.Empty = true
		view.Placeholder = NoWinnersText
	}
	return view
}

func winnerRow(e *model.WinnerEntry, layout string) WinnerRow {
	name := e.Username
	if name == "" {
		name = fmt.Sprintf("#%d", e.UID)
	}
	return WinnerRow{
		UID:        e.UID,
		Username:   name,
		Amount:     e.Amount,
		AmountText: FormatPoints(e.Amount),
		TicketID:   e.TicketID,
		TermID:     e.TermID,
		Date:       FormatDate(e.CreatedAt, layout),
	}
}
