// Package stream relays an upstream response to the client chunk by chunk
// while picking out the status line for the access log.
package stream

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"forward-proxy/internal/config"
	"forward-proxy/internal/metrics"
)

// Default limits used when none are configured.
const (
	DefaultChunkSize      = 8192
	DefaultMaxHeaderBytes = 16 * 1024
)

var (
	// ErrUpstreamRead wraps failures reading the upstream response.
	ErrUpstreamRead = errors.New("read upstream")
	// ErrClientWrite wraps failures writing to the client.
	ErrClientWrite = errors.New("write client")
)

// Recorder receives access log lines for one connection.
type Recorder interface {
	Record(msg string)
}

// Result summarizes one relayed response.
type Result struct {
	BytesOut       int64
	Chunks         int
	StatusLine     string
	HeaderComplete bool
	PerChunk       bool
}

// Streamer copies upstream responses to clients.
type Streamer struct {
	chunkSize      int
	maxHeaderBytes int
	perChunkTypes  []string
	metrics        *metrics.Metrics
}

// NewStreamer creates a Streamer from config.
// The metrics parameter is optional; pass nil to disable response metrics.
func NewStreamer(cfg *config.Config, m *metrics.Metrics) *Streamer {
	return New(cfg.Server.BufferSize, cfg.Stream.MaxHeaderBytes, cfg.Stream.PerChunkContentTypes, m)
}

// New creates a Streamer. Responses whose Content-Type contains any of
// perChunkTypes (case-insensitive) are logged once per chunk.
func New(chunkSize, maxHeaderBytes int, perChunkTypes []string, m *metrics.Metrics) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	types := make([]string, 0, len(perChunkTypes))
	for _, t := range perChunkTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	return &Streamer{
		chunkSize:      chunkSize,
		maxHeaderBytes: maxHeaderBytes,
		perChunkTypes:  types,
		metrics:        m,
	}
}

// Relay reads src until EOF, writing every chunk to dst before inspecting it.
// The status line is recorded once when the header block completes, and again
// for every later chunk when the content type calls for per-chunk logging.
// Bytes already written are never taken back on error.
func (s *Streamer) Relay(dst io.Writer, src io.Reader, rec Recorder) (Result, error) {
	var res Result
	buf := make([]byte, s.chunkSize)
	scan := newHeaderScanner(s.maxHeaderBytes)

	defer s.observe(&res)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				return res, fmt.Errorf("%w: %w", ErrClientWrite, err)
			}
			res.BytesOut += int64(n)
			res.Chunks++

			switch {
			case !res.HeaderComplete:
				if header, ok := scan.feed(chunk); ok {
					s.completeHeader(&res, header)
					rec.Record(res.StatusLine)
				}
			case res.PerChunk:
				rec.Record(res.StatusLine)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return res, fmt.Errorf("%w: %w", ErrUpstreamRead, readErr)
		}
		if n == 0 {
			break
		}
	}

	// Upstream closed before ending its header block.
	if !res.HeaderComplete && len(scan.pending()) > 0 {
		res.StatusLine = statusLine(scan.pending())
		rec.Record(res.StatusLine)
	}
	return res, nil
}

func (s *Streamer) completeHeader(res *Result, header []byte) {
	res.HeaderComplete = true
	res.StatusLine = statusLine(header)
	if ct, ok := headerValue(header, "Content-Type"); ok {
		res.PerChunk = s.perChunk(ct)
	}
}

func (s *Streamer) perChunk(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, t := range s.perChunkTypes {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

func (s *Streamer) observe(res *Result) {
	if s.metrics == nil {
		return
	}
	mode := "single"
	switch {
	case !res.HeaderComplete:
		mode = "no_header"
	case res.PerChunk:
		mode = "per_chunk"
	}
	s.metrics.ResponsesTotal.WithLabelValues(mode).Inc()
	s.metrics.ResponseBytes.Add(float64(res.BytesOut))
}
