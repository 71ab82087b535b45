// Package frame reads a client's request off a byte stream without knowing
// its length in advance.
//
// HTTP carries no message boundary at this layer, so the Reader stops as soon
// as a read comes back and nothing further is queued on the socket, or when
// its buffer is full. A request larger than the buffer, or one whose segments
// arrive with gaps, is returned truncated. Callers forward whatever they get.
package frame

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"
)

// DefaultBufferSize is the request window used when none is configured.
const DefaultBufferSize = 8192

// ErrEmptyRequest is returned when the client sent nothing before EOF or error.
var ErrEmptyRequest = errors.New("empty request")

// availabler is implemented by streams that can report how many bytes are
// ready to read without blocking.
type availabler interface {
	Available() (int, error)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader accumulates one request burst per call.
type Reader struct {
	size    int
	timeout time.Duration
}

// NewReader returns a Reader with the given buffer capacity. A positive
// timeout bounds the whole read on streams that support read deadlines.
func NewReader(size int, timeout time.Duration) *Reader {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Reader{size: size, timeout: timeout}
}

// Size returns the buffer capacity.
func (r *Reader) Size() int {
	return r.size
}

// ReadRequest reads from src until the burst ends or the buffer fills.
// If some bytes arrived before an error, they are returned with a nil error.
// An error is returned only when nothing was read; it wraps ErrEmptyRequest.
func (r *Reader) ReadRequest(src io.Reader) ([]byte, error) {
	if d, ok := src.(deadliner); ok && r.timeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(r.timeout))
		defer func() { _ = d.SetReadDeadline(time.Time{}) }()
	}

	buf := make([]byte, r.size)
	total := 0
	var readErr error
	for total < len(buf) {
		n, err := src.Read(buf[total:])
		total += n
		if err != nil {
			readErr = err
			break
		}
		if available(src) <= 0 {
			break
		}
	}

	if total == 0 {
		if readErr == nil || errors.Is(readErr, io.EOF) {
			return nil, ErrEmptyRequest
		}
		return nil, fmt.Errorf("%w: %w", ErrEmptyRequest, readErr)
	}
	return buf[:total], nil
}

// available reports how many bytes src can deliver without blocking. Streams
// that cannot tell report zero.
func available(src io.Reader) int {
	if a, ok := src.(availabler); ok {
		n, err := a.Available()
		if err != nil {
			return 0
		}
		return n
	}
	if sc, ok := src.(syscall.Conn); ok {
		return socketAvailable(sc)
	}
	return 0
}
