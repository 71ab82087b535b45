// Package accesslog writes the proxy's per-request access log.
//
// Each line has the form "<timestamp> <host> <message>", where message is a
// response status line or the reason a connection was aborted. Lines from
// concurrent connections may interleave but are never torn.
package accesslog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultTimeFormat is the timestamp layout used when none is configured.
const DefaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// unknownHost is logged before a connection's destination is known.
const unknownHost = "-"

// Logger serializes access log lines onto a single writer.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	layout string
	now    func() time.Time
}

// New returns a Logger writing to w. An empty layout selects DefaultTimeFormat.
func New(w io.Writer, layout string) *Logger {
	if layout == "" {
		layout = DefaultTimeFormat
	}
	return &Logger{w: w, layout: layout, now: time.Now}
}

// Open returns a Logger appending to the file at path, or writing to stdout
// when path is empty.
func Open(path, layout string) (*Logger, error) {
	if path == "" {
		return New(os.Stdout, layout), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access log %s: %w", path, err)
	}
	l := New(f, layout)
	l.closer = f
	return l, nil
}

// Close closes the underlying file if the Logger opened one.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) write(at time.Time, host, msg string) error {
	line := at.Format(l.layout) + " " + host + " " + msg + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, line)
	return err
}

// Session returns a per-connection handle whose timestamps never go backwards.
func (l *Logger) Session() *Session {
	return &Session{logger: l, host: unknownHost}
}

// Session records access log lines for one connection. It is not safe for
// concurrent use; each connection handler owns its own Session.
type Session struct {
	logger *Logger
	host   string
	last   time.Time
}

// SetHost sets the destination host written on subsequent lines.
func (s *Session) SetHost(host string) {
	if host == "" {
		host = unknownHost
	}
	s.host = host
}

// Host returns the host currently written on each line.
func (s *Session) Host() string {
	return s.host
}

// Record writes one line. Sink write failures are dropped so that logging
// never aborts a connection.
func (s *Session) Record(msg string) {
	at := s.logger.now()
	if at.Before(s.last) {
		at = s.last
	}
	s.last = at
	_ = s.logger.write(at, s.host, msg)
}
