/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package pacerserver provides an HTTP server exposing the state of a pacing engine:
// stats, request records, wait estimates, and request cancellation.
// The server implements service.Unit and is typically composed with other units
// (a profiling server among them) into a service.Service.
package pacerserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-apipacer/log"
	"github.com/acronis/go-apipacer/pacer"
	"github.com/acronis/go-apipacer/service"
)

const networkTCP = "tcp"

// DefaultErrorDomain is a default domain for errors in RFC 7807-like responses.
const DefaultErrorDomain = "PacerServer"

// Opts represents options for creating Server.
type Opts struct {
	// ErrorDomain is used for error response formatting. DefaultErrorDomain is used if not set.
	ErrorDomain string

	// HealthCheck is a function that performs health check logic.
	// EngineHealthCheck for the served engine is used if not set.
	HealthCheck HealthCheck

	// MetricsHandler is a custom handler for the /metrics endpoint (e.g., Prometheus handler).
	MetricsHandler http.Handler
}

// Server represents a wrapper around http.Server serving the pacing engine API.
// chi.Router is used as a handler for the server.
// It also implements service.Unit interface.
type Server struct {
	URL             string
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener       net.Listener
	port           int32
	httpServerDone atomic.Value
}

var _ service.Unit = (*Server)(nil)

// New creates a new Server exposing the state of the passed engine over HTTP.
func New(cfg *Config, engine *pacer.Engine, logger log.FieldLogger, opts Opts) *Server {
	if opts.ErrorDomain == "" {
		opts.ErrorDomain = DefaultErrorDomain
	}
	if opts.HealthCheck == nil {
		opts.HealthCheck = EngineHealthCheck(engine)
	}

	router := chi.NewRouter()
	configureRouter(router, engine, logger, opts)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		WriteTimeout:      time.Duration(cfg.Timeouts.Write),
		ReadTimeout:       time.Duration(cfg.Timeouts.Read),
		ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
		IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		Handler:           router,
	}

	return &Server{
		URL:             "http://" + cfg.Address,
		HTTPServer:      httpServer,
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
	}
}

// Start starts the pacer HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *Server) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)

	logger.Info("starting pacer HTTP server...")

	var err error
	if s.listener, err = net.Listen(networkTCP, s.HTTPServer.Addr); err != nil {
		logger.Error("pacer HTTP server error", log.Error(err))
		fatalError <- err
		return
	}

	var portStr string
	if _, portStr, err = net.SplitHostPort(s.listener.Addr().String()); err != nil {
		logger.Error("unexpected format of TCP listener address: unable to split host and port", log.Error(err))
		fatalError <- err
		return
	}
	var port int64
	if port, err = strconv.ParseInt(portStr, 10, 32); err != nil {
		logger.Error("unexpected format of TCP listener address: no numeric port", log.Error(err))
		fatalError <- err
		return
	}
	atomic.StoreInt32(&s.port, int32(port))

	if err = s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("pacer HTTP server closed")
			return
		}
		logger.Error("pacer HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
}

// Stop stops the pacer HTTP server (gracefully or not).
func (s *Server) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing pacer HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("pacer HTTP server closing error", log.Error(err))
			return err
		}
		if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
			<-done // Wait for the listener to be closed.
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down pacer HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("pacer HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("pacer HTTP server shut down")

	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done // Wait for the listener to be closed.
	}

	return nil
}

// GetPort returns the TCP port the server is listening on.
// It returns 0 until Start binds the listener.
func (s *Server) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
