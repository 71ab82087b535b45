// Package upstream opens outbound connections to origin servers.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"forward-proxy/internal/config"
	"forward-proxy/internal/metrics"
	"forward-proxy/internal/model"
)

// ErrNoAddress is returned when DNS has no record of the configured family.
var ErrNoAddress = errors.New("no address of the expected family")

// Operations reported in Error.Op.
const (
	OpResolve = "resolve"
	OpConnect = "connect"
	OpSend    = "send"
)

// Error records which step of reaching the upstream failed.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Connector resolves destinations and dials a fresh TCP connection per request.
type Connector struct {
	resolver Resolver
	dialer   *net.Dialer
	family   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewConnector creates a Connector using the system resolver.
// The metrics parameter is optional; pass nil to disable dial metrics.
func NewConnector(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Connector {
	return New(net.DefaultResolver, cfg.Upstream.AddressFamily, cfg.Upstream.DialTimeout(), logger, m)
}

// New creates a Connector with an explicit resolver. family is "ip4", "ip6"
// or "any"; a zero timeout leaves dialing bounded only by ctx.
func New(r Resolver, family string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Connector {
	if family == "" {
		family = "ip4"
	}
	return &Connector{
		resolver: r,
		dialer:   &net.Dialer{Timeout: timeout},
		family:   family,
		logger:   logger.With("component", "upstream"),
		metrics:  m,
	}
}

// Connect resolves dest and opens a TCP connection to the first address of
// the configured family. There is no retry.
func (c *Connector) Connect(ctx context.Context, dest model.Destination) (net.Conn, error) {
	start := time.Now()

	ip, err := c.resolve(ctx, dest.Host)
	if err != nil {
		c.observe("resolve_error", start)
		return nil, &Error{Op: OpResolve, Addr: dest.Host, Err: err}
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(dest.Port)))
	c.logger.Debug("dialing upstream", "host", dest.Host, "addr", addr)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.observe("connect_error", start)
		return nil, &Error{Op: OpConnect, Addr: addr, Err: err}
	}

	c.observe("ok", start)
	return conn, nil
}

// Send writes the whole request to the upstream connection in one call.
func (c *Connector) Send(conn net.Conn, req []byte) error {
	if _, err := conn.Write(req); err != nil {
		return &Error{Op: OpSend, Addr: conn.RemoteAddr().String(), Err: err}
	}
	return nil
}

func (c *Connector) resolve(ctx context.Context, host string) (net.IP, error) {
	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if c.matchesFamily(a.IP) {
			return a.IP, nil
		}
	}
	return nil, fmt.Errorf("%w (%s)", ErrNoAddress, c.family)
}

func (c *Connector) matchesFamily(ip net.IP) bool {
	switch c.family {
	case "ip4":
		return ip.To4() != nil
	case "ip6":
		return ip.To4() == nil && ip.To16() != nil
	default:
		return ip != nil
	}
}

func (c *Connector) observe(result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDialDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
