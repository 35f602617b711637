// Package server exposes the report service over REST and mounts the MCP endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/stockgen/internal/app"
	"github.com/bobmcallan/stockgen/internal/common"
)

// Server serves the stockgen HTTP API for one App.
type Server struct {
	app          *app.App
	server       *http.Server
	logger       *common.Logger
	validate     *validator.Validate
	shutdownChan chan struct{}
}

// NewServer builds the route table and middleware stack for a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:      a,
		logger:   a.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	cfg := a.Config.Server
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           applyMiddleware(mux, a.Logger, a.Config),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// SetShutdownChannel registers the channel signalled by POST /api/shutdown.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a graceful stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting REST API server")
	err = s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info().Msg("REST API server stopped")
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
