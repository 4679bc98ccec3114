package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"custodia/internal/domain"

	"github.com/gin-gonic/gin"
)

const identityContextKey = "identity"

// authenticate reads the caller identity supplied by the fronting proxy. In
// header mode X-User-Id and X-User-Registration are mandatory; in none mode
// whatever headers are present are taken as given.
func (s *Server) authenticate(c *gin.Context) (domain.Identity, bool) {
	if s.authInitErr != nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Identity{}, false
	}
	id := identityFromHeaders(c)
	if s.cfg.AuthMode == AuthModeHeader && (id.UserID == "" || id.RegistrationNumber == "") {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "X-User-Id and X-User-Registration are required")
		return domain.Identity{}, false
	}
	c.Set(identityContextKey, id)
	return id, true
}

func identityFromHeaders(c *gin.Context) domain.Identity {
	id := domain.Identity{
		UserID:             strings.TrimSpace(c.GetHeader("X-User-Id")),
		RegistrationNumber: strings.TrimSpace(c.GetHeader("X-User-Registration")),
		BarNumber:          strings.TrimSpace(c.GetHeader("X-User-Bar")),
		Role:               strings.ToLower(strings.TrimSpace(c.GetHeader("X-User-Role"))),
	}
	if access := strings.TrimSpace(c.GetHeader("X-User-Case-Access")); access != "" {
		id.CaseAccess = splitCSV(access)
	}
	return id
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}
