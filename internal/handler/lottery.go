package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"points-lottery/internal/service"
)

// LotteryHandler handles the lottery commands. Telegram authenticates the
// sender, so purchases here need no post key.
type LotteryHandler struct {
	accountService *service.AccountService
	lotteryService *service.LotteryService
	dateFormat     string
}

// NewLotteryHandler creates a new LotteryHandler.
func NewLotteryHandler(accountService *service.AccountService, lotteryService *service.LotteryService, dateFormat string) *LotteryHandler {
	return &LotteryHandler{
		accountService: accountService,
		lotteryService: lotteryService,
		dateFormat:     dateFormat,
	}
}

// HandleLottery handles the /lottery command.
func (h *LotteryHandler) HandleLottery(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, _, err := ensureSender(ctx, h.accountService, sender); err != nil {
		return c.Reply("❌ Could not load the lottery, please try again later")
	}

	view, err := h.lotteryService.View(ctx, sender.ID)
	if err != nil {
		log.Error().Err(err).Int64("uid", sender.ID).Msg("Failed to load lottery view")
		return c.Reply("❌ Could not load the lottery, please try again later")
	}

	return c.Reply(formatLotteryView(view, h.dateFormat))
}

// HandleBuyTicket handles the /buyticket command.
func (h *LotteryHandler) HandleBuyTicket(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, _, err := ensureSender(ctx, h.accountService, sender); err != nil {
		return c.Reply("❌ Purchase failed, please try again later")
	}

	res, err := h.lotteryService.Buy(ctx, sender.ID)
	if err != nil {
		return c.Reply(purchaseErrorText(err))
	}

	return c.Reply(fmt.Sprintf(
		"🎟 You bought ticket #%d for term #%d\n"+
			"💰 Balance: %s points",
		res.Ticket.TicketID, res.Term.TermID, service.FormatPoints(res.Balance),
	))
}

// HandleWinners handles the /lottery_winners command.
func (h *LotteryHandler) HandleWinners(c tele.Context) error {
	view, err := h.lotteryService.Winners(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load lottery winners")
		return c.Reply("❌ Could not load the winners, please try again later")
	}
	return c.Reply(formatWinners(view))
}

func purchaseErrorText(err error) string {
	switch {
	case errors.Is(err, service.ErrRestTime):
		return "⏰ It is rest time now, tickets cannot be bought"
	case errors.Is(err, service.ErrNotEnoughMoney):
		return "❌ You do not have enough points to buy a ticket"
	case errors.Is(err, service.ErrTermChanged):
		return "🔄 The lottery has moved on to a new term, please try again"
	case errors.Is(err, service.ErrBusy):
		return "⏳ Your previous purchase is still being processed"
	default:
		log.Error().Err(err).Msg("Ticket purchase failed")
		return "❌ Purchase failed, please try again later"
	}
}

func formatLotteryView(v *service.LotteryView, dateFormat string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎰 Lottery term #%d\n", v.TermID)
	b.WriteString("━━━━━━━━━━━━━━━\n")
	switch v.Phase {
	case service.PhaseRest:
		fmt.Fprintf(&b, "😴 Rest time, sales open in %s\n", service.FormatDuration(v.SecondsRemaining))
	case service.PhaseOpen:
		fmt.Fprintf(&b, "🟢 On sale, draw in %s\n", service.FormatDuration(v.SecondsRemaining))
	default:
		b.WriteString("⏳ Waiting for the draw\n")
	}
	drawAt := time.Unix(v.DrawTime, 0)
	fmt.Fprintf(&b, "📅 Draw: %s %s\n", service.FormatDate(drawAt, dateFormat), drawAt.Format("15:04"))
	fmt.Fprintf(&b, "🏆 Prize: %s points\n", v.PrizeText)
	fmt.Fprintf(&b, "🎟 Tickets sold: %d (price %s)\n", v.TicketCount, service.FormatPoints(v.TicketPrice))

	if len(v.MyTickets) > 0 {
		ids := make([]string, len(v.MyTickets))
		for i, id := range v.MyTickets {
			ids[i] = fmt.Sprintf("#%d", id)
		}
		fmt.Fprintf(&b, "🧾 Your tickets: %s\n", strings.Join(ids, ", "))
	}
	fmt.Fprintf(&b, "💰 Balance: %s points\n", v.BalanceText)

	if w := v.LastWinner; w != nil {
		b.WriteString("━━━━━━━━━━━━━━━\n")
		if w.TicketID != 0 {
			fmt.Fprintf(&b, "🥇 Last winner: @%s with ticket #%d won %s points\n", w.Username, w.TicketID, w.AmountText)
		} else {
			fmt.Fprintf(&b, "🥇 Last winner: @%s won %s points\n", w.Username, w.AmountText)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatWinners(v *service.WinnersView) string {
	if v.Empty {
		return "📊 " + v.Placeholder
	}

	var b strings.Builder
	b.WriteString("🏆 Recent lottery winners\n")
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, w := range v.Winners {
		fmt.Fprintf(&b, "%s @%s: %s\n", w.Date, w.Username, w.AmountText)
	}
	b.WriteString("━━━━━━━━━━━━━━━")
	return b.String()
}
