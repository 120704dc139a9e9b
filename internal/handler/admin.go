package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/lock"
	"points-lottery/internal/repository"
	"points-lottery/internal/service"
)

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	accountService *service.AccountService
	lotteryService *service.LotteryService
	userLock       *lock.UserLock
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accountService *service.AccountService, lotteryService *service.LotteryService, userLock *lock.UserLock) *AdminHandler {
	return &AdminHandler{
		accountService: accountService,
		lotteryService: lotteryService,
		userLock:       userLock,
	}
}

// HandleAdminAdd handles the /admin_add command.
// Format: /admin_add <user_id> <amount>
func (h *AdminHandler) HandleAdminAdd(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}

	if amount <= 0 {
		return c.Reply("❌ Amount must be greater than 0")
	}

	// Serialized with the target's ticket purchases
	h.userLock.Lock(targetID)
	defer h.userLock.Unlock(targetID)

	desc := fmt.Sprintf("Added by admin %d", sender.ID)
	user, err := h.accountService.UpdateBalance(ctx, targetID, amount, model.TxTypeAdminAdd, &desc)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.Reply("❌ User not found")
		}
		log.Error().Err(err).Int64("target_id", targetID).Msg("Admin add failed")
		return c.Reply("❌ Operation failed, please try again later")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", targetID).
		Int64("amount", amount).
		Str("operation", "admin_add").
		Msg("Admin operation executed")

	name := user.Username
	if name == "" {
		name = strconv.FormatInt(targetID, 10)
	}

	return c.Reply(fmt.Sprintf(
		"✅ Done\n\n"+
			"👤 User: %s (ID: %d)\n"+
			"➕ Added: %s\n"+
			"💰 Balance: %s",
		name, targetID, service.FormatPoints(amount), service.FormatPoints(user.Balance),
	))
}

// HandleLotteryDraw handles the /lottery_draw command: runs the draw task now.
func (h *AdminHandler) HandleLotteryDraw(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.lotteryService.Draw(context.Background())
	if err != nil {
		log.Error().Err(err).Int64("admin_id", sender.ID).Msg("Manual lottery draw failed")
		return c.Reply("❌ Draw failed, please check the logs")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("outcome", res.Outcome()).
		Str("operation", "lottery_draw").
		Msg("Admin operation executed")

	return c.Reply(formatDrawResult(res))
}

func formatDrawResult(res *service.DrawResult) string {
	switch {
	case res.Skipped:
		return "⏳ Another draw is running, try again shortly"
	case !res.Due:
		return fmt.Sprintf("⏰ Term #%d is not due yet", res.Next.TermID)
	case res.Winner == nil:
		return fmt.Sprintf("📭 Term #%d closed without tickets, term #%d opened", res.Closed.TermID, res.Next.TermID)
	default:
		return fmt.Sprintf(
			"🎉 Term #%d drawn\n"+
				"🎟 Winning ticket #%d (user %d)\n"+
				"🏆 Payout: %s points\n"+
				"Next term: #%d",
			res.Closed.TermID, res.Winner.TicketID, res.Winner.UID, service.FormatPoints(res.Payout), res.Next.TermID,
		)
	}
}

// parseAdminArgs parses "<user_id> <amount>".
func parseAdminArgs(args []string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("❌ Usage: /admin_add <user_id> <amount>\nExample: /admin_add 123456789 100")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("❌ User ID must be a number")
	}

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("❌ Amount must be an integer")
	}

	return targetID, amount, nil
}
