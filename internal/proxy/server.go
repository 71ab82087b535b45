// Package proxy accepts client connections and runs each one through the
// read, rewrite, connect and relay steps in its own goroutine.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"forward-proxy/internal/accesslog"
	"forward-proxy/internal/config"
	"forward-proxy/internal/frame"
	"forward-proxy/internal/metrics"
	"forward-proxy/internal/model"
	"forward-proxy/internal/stream"
)

// Pacing applied after consecutive accept errors.
const (
	acceptRetryInterval = 50 * time.Millisecond
	acceptRetryBurst    = 5
)

// Connector opens upstream connections. *upstream.Connector satisfies it.
type Connector interface {
	Connect(ctx context.Context, dest model.Destination) (net.Conn, error)
	Send(conn net.Conn, req []byte) error
}

// Server is the connection acceptor and dispatcher.
type Server struct {
	frames    *frame.Reader
	connector Connector
	streamer  *stream.Streamer
	access    *accesslog.Logger
	logger    *slog.Logger
	metrics   *metrics.Metrics

	wg     sync.WaitGroup
	active atomic.Int64
}

// NewServer creates a Server from config.
// The metrics parameter is optional; pass nil to disable connection metrics.
func NewServer(cfg *config.Config, c Connector, s *stream.Streamer, access *accesslog.Logger, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		frames:    frame.NewReader(cfg.Server.BufferSize, cfg.Server.ReadTimeout()),
		connector: c,
		streamer:  s,
		access:    access,
		logger:    logger.With("component", "proxy"),
		metrics:   m,
	}
}

// Serve accepts connections on ln until ctx is canceled or ln is closed.
// Canceling ctx closes ln immediately; connections already accepted keep
// running until they finish on their own. Serve returns nil on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	connCtx := context.WithoutCancel(ctx)
	limiter := rate.NewLimiter(rate.Every(acceptRetryInterval), acceptRetryBurst)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "err", err)
			if werr := limiter.Wait(ctx); werr != nil {
				return nil
			}
			continue
		}

		s.wg.Add(1)
		s.active.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)
			s.handle(connCtx, conn)
		}()
	}
}

// Wait blocks until every accepted connection has finished or ctx expires.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of connections currently being handled.
func (s *Server) Active() int64 {
	return s.active.Load()
}
