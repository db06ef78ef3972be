// Package sysproxy points the operating system's SOCKS proxy setting at the
// local tunnel.
package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/treykane/proxypal/internal/util"
)

// ErrUnsupported is returned on platforms without a known proxy setting tool.
var ErrUnsupported = errors.New("system proxy toggle not supported on this platform")

const networksetup = "/usr/sbin/networksetup"

// Runner executes one command without a shell and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Toggler enables and disables the system SOCKS proxy.
type Toggler struct {
	goos    string
	service string
	runner  Runner
}

// New returns a toggler for the current platform. service names the macOS
// network service (e.g. "Wi-Fi"); it is ignored elsewhere.
func New(service string) *Toggler {
	return NewWithRunner(runtime.GOOS, service, ExecRunner{})
}

// NewWithRunner returns a toggler for goos that runs commands through r.
func NewWithRunner(goos, service string, r Runner) *Toggler {
	return &Toggler{goos: goos, service: util.DefaultString(service, "Wi-Fi"), runner: r}
}

// Supported reports whether this platform has a proxy setting tool.
func (t *Toggler) Supported() bool {
	return t.goos == "darwin" || t.goos == "linux"
}

// Enable routes system traffic through 127.0.0.1:port.
func (t *Toggler) Enable(ctx context.Context, port uint16) error {
	if err := util.ValidatePort(int(port)); err != nil {
		return err
	}
	p := strconv.Itoa(int(port))
	switch t.goos {
	case "darwin":
		if err := t.run(ctx, networksetup, "-setsocksfirewallproxy", t.service, util.LoopbackHost, p); err != nil {
			return err
		}
		return t.run(ctx, networksetup, "-setsocksfirewallproxystate", t.service, "on")
	case "linux":
		steps := [][]string{
			{"set", "org.gnome.system.proxy.socks", "host", util.LoopbackHost},
			{"set", "org.gnome.system.proxy.socks", "port", p},
			{"set", "org.gnome.system.proxy", "mode", "manual"},
		}
		for _, args := range steps {
			if err := t.run(ctx, "gsettings", args...); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrUnsupported
	}
}

// Disable turns the system SOCKS proxy off.
func (t *Toggler) Disable(ctx context.Context) error {
	switch t.goos {
	case "darwin":
		return t.run(ctx, networksetup, "-setsocksfirewallproxystate", t.service, "off")
	case "linux":
		return t.run(ctx, "gsettings", "set", "org.gnome.system.proxy", "mode", "none")
	default:
		return ErrUnsupported
	}
}

func (t *Toggler) run(ctx context.Context, name string, args ...string) error {
	out, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", name, args[0], err, detail)
		}
		return fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return nil
}
