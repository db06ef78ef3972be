// Package portalloc finds a free loopback TCP port for the proxy client to bind.
//
// The probe is connect-based: a port is considered free when nothing accepts a
// connection on it. Nothing is reserved, so another process may claim the port
// between the probe and the proxy client binding it. Callers see that as a
// spawn failure; the allocator never retries on their behalf.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/treykane/proxypal/internal/util"
)

// ErrNoFreePort is returned when every port in [start, 65535) accepted a connection.
var ErrNoFreePort = errors.New("no free ports found on localhost")

// Allocator scans for free ports using Probe.
type Allocator struct {
	// Probe reports whether something is listening on the loopback port.
	Probe func(port uint16) bool
}

// New returns an allocator that probes with a real TCP connect.
func New() *Allocator {
	return &Allocator{Probe: dialProbe(util.PortProbeTimeout)}
}

// Allocate is a convenience wrapper around New().Allocate.
func Allocate(start uint16) (uint16, error) {
	return New().Allocate(start)
}

// Allocate returns the first port >= start on which nothing is listening.
func (a *Allocator) Allocate(start uint16) (uint16, error) {
	if start < util.MinPort {
		start = util.MinPort
	}
	probe := a.Probe
	if probe == nil {
		probe = dialProbe(util.PortProbeTimeout)
	}
	for port := int(start); port < util.MaxPort; port++ {
		if !probe(uint16(port)) {
			return uint16(port), nil
		}
	}
	return 0, fmt.Errorf("scan from %d: %w", start, ErrNoFreePort)
}

func dialProbe(timeout time.Duration) func(uint16) bool {
	return func(port uint16) bool {
		addr := net.JoinHostPort(util.LoopbackHost, strconv.Itoa(int(port)))
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}
