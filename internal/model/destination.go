// Package model defines shared types for the proxy.
package model

import (
	"net"
	"strconv"
)

// DefaultPort is used when the Host header carries no usable port.
const DefaultPort uint16 = 80

// Destination is the origin server a client request is addressed to.
type Destination struct {
	Host string
	Port uint16
}

// Addr returns the destination as host:port, bracketing IPv6 literals.
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

func (d Destination) String() string {
	return d.Addr()
}
