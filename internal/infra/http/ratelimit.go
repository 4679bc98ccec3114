package http

import (
	"net/http"
	"strconv"

	"custodia/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	routeTransactionsSubmit = "transactions:submit"
	routeArtifactsRegister  = "artifacts:register"
	routeArtifactsCorrect   = "artifacts:correct"
	routeCustodyRecord      = "custody:record"
)

// enforceRateLimit throttles mutating routes per caller. Anonymous callers
// share one bucket per route.
func (s *Server) enforceRateLimit(c *gin.Context, routeID string, id domain.Identity) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	subject := id.UserID
	if subject == "" {
		subject = "anonymous"
	}
	key := "route:" + routeID + ":user:" + subject

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "route", routeID, "error", err)
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	s.writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func (s *Server) writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		retry := decision.RetryAfter(s.clock.Now())
		c.Header("Retry-After", strconv.FormatInt(int64(retry.Seconds()), 10))
	}
}
