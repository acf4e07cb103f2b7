// Package api exposes the acquisition engine, channel registry and history
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/mbscope/internal/acquisition"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/history"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Deps are the services the handlers call into.
type Deps struct {
	Registry *channel.Registry
	Engine   *acquisition.Engine
	History  *history.Engine
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	router *gin.Engine
	srv    *http.Server
	log    logger.Logger
}

func New(listen string, deps Deps, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("api")
	if deps.Now == nil {
		deps.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	SetupRoutes(router, deps, log)

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              listen,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		log: log,
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.srv.Addr).Msg("HTTP API listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.New().Wrap(ErrServe, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return errors.New().Wrap(ErrServe, err)
	}

	s.log.Debug().Msg("HTTP API stopped")
	return nil
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
