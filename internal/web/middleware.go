package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/pkg/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	ctxRequestID    = "request_id"
	ctxUID          = "uid"
)

// requestID tags every request with an id, reusing the caller's when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog logs each request and records its duration.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, elapsed)

		evt := log.Info()
		switch {
		case status >= 500:
			evt = log.Error()
		case status >= 400:
			evt = log.Warn()
		}
		if uid, ok := c.Get(ctxUID); ok {
			evt = evt.Interface("uid", uid)
		}
		evt.Str("request_id", c.GetString(ctxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", elapsed).
			Msg("HTTP request")
	}
}

// recovery turns panics into a 500 and logs them.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error().
			Interface("panic", rec).
			Str("request_id", c.GetString(ctxRequestID)).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic in HTTP handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(msgInternal))
	})
}

// requireUser authenticates the bearer token and makes sure the user has an account.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgNoPermission))
			return
		}
		claims, err := s.auth.VerifySession(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgNoPermission))
			return
		}
		uid, err := claims.UID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgNoPermission))
			return
		}

		if _, _, err := s.accounts.EnsureUser(c.Request.Context(), uid, claims.Username); err != nil {
			log.Error().Err(err).Int64("uid", uid).Msg("Failed to ensure user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(msgInternal))
			return
		}

		c.Set(ctxUID, uid)
		c.Next()
	}
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
