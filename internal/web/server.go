// Package web is the HTTP front end of the lottery: the lottery page action,
// the winners fragment, health and metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/model"
	"points-lottery/internal/pkg/auth"
	"points-lottery/internal/pkg/metrics"
	"points-lottery/internal/service"
)

// User-facing messages.
const (
	msgNoPermission   = "You do not have permission to access this page."
	msgInternal       = "Something went wrong, please try again later."
	msgBadPostKey     = "Your session has expired, please reload the page and try again."
	msgBadRequest     = "The purchase form could not be read."
	msgRestTime       = "It is rest time now, tickets cannot be bought."
	msgNotEnoughMoney = "You do not have enough points to buy a ticket."
	msgTermChanged    = "The lottery has moved on to a new term, please reload the page."
	msgBusy           = "Your previous purchase is still being processed."
	msgBought         = "You bought ticket #%d."
)

// Lottery is the lottery functionality the HTTP surface needs.
type Lottery interface {
	View(ctx context.Context, uid int64) (*service.LotteryView, error)
	Buy(ctx context.Context, uid int64) (*service.PurchaseResult, error)
	Winners(ctx context.Context) (*service.WinnersView, error)
}

// Accounts makes sure an authenticated user has a ledger entry.
type Accounts interface {
	EnsureUser(ctx context.Context, uid int64, username string) (*model.User, bool, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	lottery  Lottery
	accounts Accounts
	auth     auth.JWT
	db       HealthChecker
}

// NewServer creates a new Server instance.
func NewServer(lottery Lottery, accounts Accounts, jwt auth.JWT, db HealthChecker) *Server {
	return &Server{
		lottery:  lottery,
		accounts: accounts,
		auth:     jwt,
		db:       db,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), accessLog(), recovery())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/stats/lottery", s.winners)

	user := r.Group("/", s.requireUser())
	user.GET("/lottery", s.showLottery)
	user.POST("/lottery", s.buyTicket)

	return r
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.db.HealthCheck(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// showLottery returns the lottery page data and a fresh post key for the buy form.
func (s *Server) showLottery(c *gin.Context) {
	uid := c.GetInt64(ctxUID)

	view, err := s.lottery.View(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}

	postKey, err := s.auth.PostKey(uid)
	if err != nil {
		s.fail(c, err)
		return
	}

	body := gin.H{
		"lottery":  view,
		"post_key": postKey,
	}
	if msg := c.Query("msg"); msg != "" {
		body["message"] = msg
	}
	c.JSON(http.StatusOK, body)
}

type buyRequest struct {
	PostKey string `form:"post_key" json:"post_key"`
}

// buyTicket sells one ticket and redirects back to the lottery page.
func (s *Server) buyTicket(c *gin.Context) {
	uid := c.GetInt64(ctxUID)

	var req buyRequest
	if err := c.ShouldBind(&req); err != nil {
		log.Debug().Err(err).Str("request_id", c.GetString(ctxRequestID)).Msg("Malformed buy request")
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(msgBadRequest))
		return
	}
	if err := s.auth.CheckPostKey(req.PostKey, uid); err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.lottery.Buy(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}

	msg := fmt.Sprintf(msgBought, res.Ticket.TicketID)
	c.Redirect(http.StatusSeeOther, "/lottery?msg="+url.QueryEscape(msg))
}

func (s *Server) winners(c *gin.Context) {
	view, err := s.lottery.Winners(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// fail maps an error to its status code and user-facing message.
func (s *Server) fail(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, msgInternal
	switch {
	case errors.Is(err, service.ErrNotLoggedIn):
		status, msg = http.StatusUnauthorized, msgNoPermission
	case errors.Is(err, auth.ErrInvalidPostKey):
		status, msg = http.StatusForbidden, msgBadPostKey
	case errors.Is(err, service.ErrRestTime):
		status, msg = http.StatusConflict, msgRestTime
	case errors.Is(err, service.ErrTermChanged):
		status, msg = http.StatusConflict, msgTermChanged
	case errors.Is(err, service.ErrNotEnoughMoney):
		status, msg = http.StatusPaymentRequired, msgNotEnoughMoney
	case errors.Is(err, service.ErrBusy):
		status, msg = http.StatusTooManyRequests, msgBusy
	default:
		log.Error().Err(err).Str("request_id", c.GetString(ctxRequestID)).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, errorBody(msg))
}
