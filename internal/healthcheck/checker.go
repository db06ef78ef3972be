// Package healthcheck confirms that a local SOCKS endpoint actually forwards
// traffic by issuing one HTTP HEAD request through it.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/treykane/proxypal/internal/util"
)

// HealthError carries the transport error seen while probing through the tunnel.
type HealthError struct {
	Port uint16
	URL  string
	Err  error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("health check via %s:%d failed: %v", util.LoopbackHost, e.Port, e.Err)
}

func (e *HealthError) Unwrap() error { return e.Err }

// Checker probes URL through a local SOCKS5 port. The zero value uses the
// package defaults.
type Checker struct {
	URL            string
	ConnectTimeout time.Duration
	// Timeout bounds the whole request. Zero means ConnectTimeout plus ten seconds.
	Timeout time.Duration
}

// New returns a checker for url with the given connect timeout.
func New(url string, connectTimeout time.Duration) *Checker {
	return &Checker{URL: url, ConnectTimeout: connectTimeout}
}

// Verify performs a single HEAD request to c.URL through 127.0.0.1:localPort.
// Any HTTP response counts as success; only transport failures are errors.
// There is no retry.
func (c *Checker) Verify(ctx context.Context, localPort uint16) error {
	target := util.DefaultString(c.URL, util.DefaultHealthURL)
	connectTimeout := c.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = util.HealthConnectTimeout
	}
	total := c.Timeout
	if total <= 0 {
		total = connectTimeout + 10*time.Second
	}
	wrap := func(err error) error {
		return &HealthError{Port: localPort, URL: target, Err: err}
	}

	socksAddr := net.JoinHostPort(util.LoopbackHost, strconv.Itoa(int(localPort)))
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return wrap(err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return wrap(errors.New("socks dialer does not support contexts"))
	}

	// Hostnames are resolved by the proxy (socks5h), matching curl --socks5-hostname.
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return cd.DialContext(dctx, network, addr)
		},
		TLSHandshakeTimeout: connectTimeout,
		DisableKeepAlives:   true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: total}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return wrap(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return wrap(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}
