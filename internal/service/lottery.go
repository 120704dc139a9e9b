package service

import (
	"errors"
	"time"
)

// Lottery errors surfaced to users.
var (
	ErrRestTime       = errors.New("lottery is not selling tickets right now")
	ErrNotEnoughMoney = errors.New("not enough money to buy a ticket")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrTermChanged    = errors.New("lottery term changed")
	ErrBusy           = errors.New("another purchase is in progress")
)

// Phase is where a term is in its lifecycle.
type Phase string

const (
	// PhaseRest: the term exists but its buying window has not started.
	PhaseRest Phase = "rest"
	// PhaseOpen: tickets can be bought.
	PhaseOpen Phase = "open"
	// PhaseDrawPending: the window has elapsed and the draw task has not run yet.
	PhaseDrawPending Phase = "draw_pending"
)

// PhaseAt classifies a term starting at start (unix seconds) at time now.
// The buying window is [start, start+freq). remaining is the number of
// seconds until the next phase change, 0 while a draw is pending.
func PhaseAt(start int64, freq time.Duration, now int64) (Phase, int64) {
	end := start + int64(freq/time.Second)
	switch {
	case now < start:
		return PhaseRest, start - now
	case now < end:
		return PhaseOpen, end - now
	default:
		return PhaseDrawPending, 0
	}
}

// DrawTime is the unix time at which a term starting at start becomes drawable.
func DrawTime(start int64, freq time.Duration) int64 {
	return start + int64(freq/time.Second)
}

// Payout is what the winner of a term receives.
func Payout(prize, pot int64, usePot bool) int64 {
	if !usePot {
		return prize
	}
	return prize + pot
}
