// Package probe decides whether the supervised service is reachable.
package probe

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 500 * time.Millisecond

// ErrInvalidAddress is returned when a prober is configured with an unusable endpoint.
var ErrInvalidAddress = errors.New("invalid probe address")

// Prober is a strategy that reports whether a service accepts connections.
// It must be safe for concurrent use and must return quickly.
type Prober interface {
	// Reachable reports whether the endpoint answered.
	Reachable() bool
	// Describe returns a human-readable description of the probed endpoint.
	Describe() string
}

// IsReachable opens a TCP connection to host:port and closes it straight away.
// Refused connections, timeouts and unreachable networks all yield false;
// there is no retry.
func IsReachable(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// TCP probes a fixed host and port.
type TCP struct {
	host    string
	port    int
	timeout time.Duration
}

// NewTCP validates the endpoint once so that per-tick probes never have to.
func NewTCP(host string, port int, timeout time.Duration) (*TCP, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCP{host: host, port: port, timeout: timeout}, nil
}

func (t *TCP) Reachable() bool { return IsReachable(t.host, t.port, t.timeout) }

func (t *TCP) Describe() string { return "tcp:" + net.JoinHostPort(t.host, strconv.Itoa(t.port)) }

// Func adapts a plain function to Prober.
type Func func() bool

func (f Func) Reachable() bool  { return f() }
func (f Func) Describe() string { return "func" }
