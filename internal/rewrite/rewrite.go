// Package rewrite extracts the destination of a raw HTTP request and
// normalizes its request line to origin-form.
package rewrite

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"forward-proxy/internal/model"
)

// ErrNoHost is returned when the request carries no usable Host header.
var ErrNoHost = errors.New("no Host header")

const absoluteScheme = "http://"

// Rewrite returns the request's destination and the bytes to forward upstream.
// Nothing should be forwarded when err is non-nil.
func Rewrite(raw []byte) (model.Destination, []byte, error) {
	dest, err := ParseDestination(raw)
	if err != nil {
		return model.Destination{}, nil, err
	}
	return dest, RewriteRequestLine(raw), nil
}

// ParseDestination finds the Host header in the request's header section and
// splits it into host and port. The port defaults to 80 when it is missing or
// not a valid number.
func ParseDestination(raw []byte) (model.Destination, error) {
	for i, line := range headerLines(raw) {
		if i == 0 {
			continue // request line
		}
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if !strings.EqualFold(string(bytes.TrimSpace(name)), "host") {
			continue
		}
		return parseHost(string(bytes.TrimSpace(value)))
	}
	return model.Destination{}, ErrNoHost
}

// RewriteRequestLine turns an absolute-form target ("GET http://host/path")
// into origin-form ("GET /path"). Anything else, including the rest of the
// request, is returned unchanged. The result may alias raw.
func RewriteRequestLine(raw []byte) []byte {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}

	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return raw
	}
	start := sp + 1
	target := line[start:]
	if len(target) < len(absoluteScheme) || !bytes.EqualFold(target[:len(absoluteScheme)], []byte(absoluteScheme)) {
		return raw
	}

	authority := target[len(absoluteScheme):]
	authLen := bytes.IndexAny(authority, "/? \r")
	if authLen < 0 {
		authLen = len(authority)
	}
	end := start + len(absoluteScheme) + authLen

	out := make([]byte, 0, len(raw))
	out = append(out, raw[:start]...)
	if end >= len(line) || line[end] != '/' {
		out = append(out, '/')
	}
	return append(out, raw[end:]...)
}

// headerLines splits the header section (everything before the first blank
// line) into lines with their terminators removed.
func headerLines(raw []byte) [][]byte {
	section := raw
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		section = raw[:i]
	} else if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		section = raw[:i]
	}

	lines := bytes.Split(section, []byte("\n"))
	for i, l := range lines {
		lines[i] = bytes.TrimSuffix(l, []byte("\r"))
	}
	return lines
}

func parseHost(value string) (model.Destination, error) {
	if fields := strings.Fields(value); len(fields) > 0 {
		value = fields[0]
	}

	host, portStr := value, ""
	switch {
	case strings.HasPrefix(value, "["):
		if end := strings.IndexByte(value, ']'); end > 0 {
			host = value[1:end]
			portStr = strings.TrimPrefix(value[end+1:], ":")
		}
	case strings.Count(value, ":") == 1:
		host, portStr, _ = strings.Cut(value, ":")
	}

	if host == "" {
		return model.Destination{}, ErrNoHost
	}
	return model.Destination{Host: host, Port: parsePort(portStr)}, nil
}

func parsePort(s string) uint16 {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return model.DefaultPort
	}
	return uint16(p)
}
