// Package server exposes the authenticated run-check trigger over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"albion-price-alerts/internal/service"
)

// SecretHeader carries the shared trigger secret.
const SecretHeader = "X-Cron-Secret"

// Checker runs one check cycle.
type Checker interface {
	RunCheck(ctx context.Context) (service.CycleResult, error)
}

// Options configure the HTTP listener.
type Options struct {
	Addr            string
	CronSecret      string
	ShutdownTimeout time.Duration
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	opts    Options
	checker Checker
	engine  *gin.Engine
	logger  zerolog.Logger
}

// New builds the router. gin runs in release mode; tests switch to test mode themselves.
func New(opts Options, checker Checker, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		opts:    opts,
		checker: checker,
		engine:  gin.New(),
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.engine.Use(gin.Recovery(), requestID(), requestLogger(s.logger))
	s.engine.GET("/healthz", s.health)
	s.engine.POST("/alerts/run-check", s.requireSecret(), s.runCheck)
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireSecret rejects the request before any work is done.
func (s *Server) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.CronSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Trigger disabled"})
			return
		}
		given := c.GetHeader(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.opts.CronSecret)) != 1 {
			s.logger.Warn().Str("client_ip", c.ClientIP()).Msg("run-check rejected: invalid secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid secret"})
			return
		}
		c.Next()
	}
}

func (s *Server) runCheck(c *gin.Context) {
	res, err := s.checker.RunCheck(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"detail": "Check already running"})
	case err != nil:
		s.logger.Error().Err(err).Msg("run-check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Check failed"})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		} else if status >= http.StatusBadRequest {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Msg("http request")
	}
}
