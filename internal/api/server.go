// Package api exposes pools over HTTP for dashboards.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mx-liquidity/internal/config"
	"mx-liquidity/internal/logging"
)

// Server wraps the Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	cfg    config.HTTPConfig
	logger zerolog.Logger
}

// NewServer wires middleware, the pool routes and, when gatherer is non-nil, /metrics.
func NewServer(cfg config.HTTPConfig, handler *Handler, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	logger = logging.Component(logger, "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(recoverer(logger))
	e.Use(requestLogger(logger))
	if cfg.CORS {
		e.Use(cors(http.MethodGet, http.MethodHead, http.MethodOptions))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{echo: e, cfg: cfg, logger: logger}
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.Addr()).Msg("http server listening")
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
