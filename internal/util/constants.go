// Package util provides common utility functions and constants used across
// proxypal. This package is intentionally kept dependency-free (no imports from
// other internal/* packages) so every layer can share it without cycles.
package util

import "time"

const (
	// LoopbackHost is the address the proxy client binds and every local probe dials.
	LoopbackHost = "127.0.0.1"

	// DefaultStartPort is where the port allocator begins scanning. 1080 is the
	// conventional SOCKS port, so most sessions end up there.
	DefaultStartPort = 1080

	// PortProbeTimeout bounds a single connect attempt made by the port allocator.
	// Loopback connects are refused immediately when nothing is listening; the
	// timeout only matters for firewalled or wedged listeners.
	PortProbeTimeout = 250 * time.Millisecond

	// SettleDelay is how long a freshly spawned proxy client must survive before
	// the session trusts it. Bad credentials, unreachable hosts and bind
	// conflicts usually make ss-local exit well inside this window.
	SettleDelay = 750 * time.Millisecond

	// HealthConnectTimeout bounds the connect phase of the proxied HEAD request.
	HealthConnectTimeout = 5 * time.Second

	// StopTimeout is the grace period between SIGTERM and SIGKILL when a
	// session stops its own process.
	StopTimeout = 2 * time.Second

	// SweepTimeout is the per-process grace period used by the orphan sweep.
	SweepTimeout = 1 * time.Second

	// DefaultHealthURL is the endpoint fetched through the tunnel.
	DefaultHealthURL = "https://www.google.com"

	// DefaultRefreshSeconds is the fallback interval (in seconds) for the
	// dashboard's periodic status refresh.
	DefaultRefreshSeconds = 3
)
