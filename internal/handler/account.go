// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"points-lottery/internal/model"
	"points-lottery/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// displayName picks the Telegram handle, falling back to the first name.
func displayName(sender *tele.User) string {
	if sender.Username != "" {
		return sender.Username
	}
	return sender.FirstName
}

// ensureSender makes sure the sender has an account.
func ensureSender(ctx context.Context, accounts *service.AccountService, sender *tele.User) (*model.User, bool, error) {
	user, created, err := accounts.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		log.Error().Err(err).Int64("uid", sender.ID).Msg("Failed to ensure user")
	}
	return user, created, err
}

// HandleStart handles the /start command.
// Creates a new account with the initial balance if the user doesn't exist.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, created, err := ensureSender(ctx, h.accountService, sender)
	if err != nil {
		return c.Reply("❌ Could not create your account, please try again later")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome @%s!\n\n"+
				"Your account is ready, starting balance: %s points\n\n"+
				"Commands:\n"+
				"/balance - show your balance\n"+
				"/lottery - current lottery term\n"+
				"/buyticket - buy a lottery ticket\n"+
				"/lottery_winners - recent winners",
			displayName(sender), service.FormatPoints(user.Balance),
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 Welcome back @%s!\n\n"+
			"Balance: %s points",
		displayName(sender), service.FormatPoints(user.Balance),
	))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, _, err := ensureSender(ctx, h.accountService, sender)
	if err != nil {
		return c.Reply("❌ Could not load your balance, please try again later")
	}

	return c.Reply(fmt.Sprintf("💰 Balance: %s points", service.FormatPoints(user.Balance)))
}
