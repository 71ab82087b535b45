package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"forward-proxy/internal/accesslog"
	"forward-proxy/internal/rewrite"
	"forward-proxy/internal/upstream"
)

// Stages reported when a connection is aborted.
const (
	stageFrame   = "frame"
	stageRewrite = "rewrite"
	stageResolve = "resolve"
	stageConnect = "connect"
	stageSend    = "send"
	stageStream  = "stream"
	stagePanic   = "panic"
)

// session is the state of one client connection.
type session struct {
	id       string
	client   net.Conn
	upstream net.Conn
	access   *accesslog.Session
	logger   *slog.Logger
}

// handle owns conn until it returns. ctx carries no cancellation, so a
// proxy shutdown never interrupts an exchange already in progress.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	sess := &session{
		id:     uuid.New().String(),
		client: conn,
		access: s.access.Session(),
	}
	sess.logger = s.logger.With("conn_id", sess.id, "remote", conn.RemoteAddr().String())

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	defer sess.close()
	defer func() {
		if r := recover(); r != nil {
			sess.logger.Error("connection handler panicked", "panic", r)
			s.countError(stagePanic)
		}
	}()

	if stage, err := s.run(ctx, sess); err != nil {
		s.countError(stage)
		sess.access.Record(err.Error())
		sess.logger.Info("connection aborted", "stage", stage, "host", sess.access.Host(), "err", err)
	}
}

// run performs one request/response exchange, returning the failed stage.
func (s *Server) run(ctx context.Context, sess *session) (string, error) {
	raw, err := s.frames.ReadRequest(sess.client)
	if err != nil {
		if isTimeout(err) {
			return stageFrame, err
		}
		// Client connected and left without sending anything.
		sess.logger.Debug("abandoning connection", "err", err)
		return "", nil
	}

	dest, req, err := rewrite.Rewrite(raw)
	if err != nil {
		return stageRewrite, err
	}
	sess.access.SetHost(dest.Host)
	sess.logger.Debug("forwarding request", "dest", dest.Addr(), "bytes", len(req))

	up, err := s.connector.Connect(ctx, dest)
	if err != nil {
		return connectStage(err), err
	}
	sess.upstream = up

	if err := s.connector.Send(up, req); err != nil {
		return stageSend, err
	}

	res, err := s.streamer.Relay(sess.client, up, sess.access)
	if err != nil {
		return stageStream, err
	}
	sess.logger.Debug("response relayed",
		"dest", dest.Addr(),
		"status", res.StatusLine,
		"bytes_out", res.BytesOut,
		"chunks", res.Chunks,
	)
	return "", nil
}

func (sess *session) close() {
	if sess.upstream != nil {
		_ = sess.upstream.Close()
	}
	_ = sess.client.Close()
}

func (s *Server) countError(stage string) {
	if s.metrics != nil {
		s.metrics.ConnectionErrors.WithLabelValues(stage).Inc()
	}
}

func connectStage(err error) string {
	var ue *upstream.Error
	if errors.As(err, &ue) && ue.Op == upstream.OpResolve {
		return stageResolve
	}
	return stageConnect
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
