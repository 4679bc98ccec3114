// Package http exposes the evidence ledger over a JSON API.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"custodia/internal/config"
	"custodia/internal/domain"
	"custodia/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	AuthModeNone   = "none"
	AuthModeHeader = "header"
)

type ServerDeps struct {
	Ledger      *usecase.EvidenceLedger
	RateLimiter domain.RateLimiter
	Clock       clockwork.Clock
	Logger      *slog.Logger
	// StoreMode is reported by /healthz ("db" or "memory").
	StoreMode string
}

type Server struct {
	cfg       config.Config
	r         *gin.Engine
	ledger    *usecase.EvidenceLedger
	clock     clockwork.Clock
	logger    *slog.Logger
	storeMode string

	adminAPIKey string
	authInitErr error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	s := &Server{
		cfg:                 cfg,
		r:                   gin.New(),
		ledger:              deps.Ledger,
		clock:               deps.Clock,
		logger:              deps.Logger,
		storeMode:           deps.StoreMode,
		adminAPIKey:         cfg.AdminAPIKey,
		rateLimiter:         deps.RateLimiter,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     cfg.RateLimitWindow(),
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.storeMode == "" {
		s.storeMode = "memory"
	}
	s.r.Use(gin.Recovery(), s.requestLogger())
	s.initAuth()
	s.routes()
	return s
}

func (s *Server) initAuth() {
	switch s.cfg.AuthMode {
	case AuthModeNone, AuthModeHeader:
	case "":
		s.authInitErr = errors.New("AUTH_MODE is required")
	default:
		s.authInitErr = errors.New("unsupported auth mode " + s.cfg.AuthMode)
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.POST("/transactions", s.handleSubmitTransaction)
		v1.GET("/transactions/:content_hash/proof", s.handleProof)

		v1.POST("/artifacts", s.handleRegisterArtifact)
		v1.GET("/artifacts/:artifact_id/chain", s.handleArtifactChain)
		v1.POST("/artifacts/:artifact_id/verify", s.handleVerifyArtifact)
		v1.POST("/artifacts/:artifact_id/corrections", s.handleCorrectBinding)
		v1.POST("/artifacts/:artifact_id/custody", s.handleRecordCustody)
		v1.GET("/artifacts/:artifact_id/custody/verify", s.handleVerifyCustody)

		v1.GET("/blocks/:ref", s.handleGetBlock)
		v1.GET("/ledger/validate", s.handleValidateLedger)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Serve listens on cfg.HTTPAddr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	if s.authInitErr != nil {
		return s.authInitErr
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clock.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", s.clock.Since(start).Milliseconds(),
			"request_id", requestID,
		)
	}
}
