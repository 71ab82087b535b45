package stream

import (
	"bytes"
	"strings"
)

var headerTerminator = []byte("\r\n\r\n")

// headerScanner accumulates response bytes until the header block ends.
// Searches resume just before the previous end so a terminator split across
// chunks is still found.
type headerScanner struct {
	buf      []byte
	searched int
	max      int
}

func newHeaderScanner(max int) *headerScanner {
	return &headerScanner{max: max}
}

// feed appends chunk and reports the header section (without the blank line)
// once it is complete. If max bytes accumulate without a terminator, the
// accumulated bytes are returned as the header instead.
func (h *headerScanner) feed(chunk []byte) ([]byte, bool) {
	h.buf = append(h.buf, chunk...)

	from := max(h.searched-len(headerTerminator)+1, 0)
	if i := bytes.Index(h.buf[from:], headerTerminator); i >= 0 {
		return h.take(from + i), true
	}
	h.searched = len(h.buf)

	if h.max > 0 && len(h.buf) >= h.max {
		return h.take(h.max), true
	}
	return nil, false
}

// pending returns whatever has been accumulated without a terminator.
func (h *headerScanner) pending() []byte {
	return h.buf
}

func (h *headerScanner) take(n int) []byte {
	header := h.buf[:n]
	h.buf = nil
	h.searched = 0
	return header
}

// statusLine returns the first line of a header section.
func statusLine(header []byte) string {
	line := header
	if i := bytes.IndexByte(header, '\n'); i >= 0 {
		line = header[:i]
	}
	return string(bytes.TrimRight(line, "\r"))
}

// headerValue returns the value of the first header named name
// (case-insensitive), skipping the status line.
func headerValue(header []byte, name string) (string, bool) {
	lines := bytes.Split(header, []byte("\n"))
	for _, line := range lines[1:] {
		k, v, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if strings.EqualFold(string(bytes.TrimSpace(k)), name) {
			return string(bytes.TrimSpace(v)), true
		}
	}
	return "", false
}
