package doctor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/treykane/proxypal/internal/accesskey"
	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/connection"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/portalloc"
	"github.com/treykane/proxypal/internal/reaper"
	"github.com/treykane/proxypal/internal/security"
	"github.com/treykane/proxypal/internal/sslocal"
	"github.com/treykane/proxypal/internal/store"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local diagnostics for proxypal operations.
func Run() (Report, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return Report{}, err
	}
	var issues []Issue

	client := sslocal.New(cfg.ProxyClient.Binary)
	if err := client.EnsureBinary(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "proxy-client-binary",
			Target:         "PATH",
			Message:        err.Error(),
			Recommendation: "install shadowsocks-libev (ss-local) or set proxy_client.binary in config.yaml",
		})
	}

	status, err := connection.LoadRuntime()
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "runtime-unreadable",
			Target:         "runtime.json",
			Message:        err.Error(),
			Recommendation: "run `proxypal disconnect` to rewrite runtime state",
		})
	} else if status.Session != nil && status.Session.State == model.SessionStopped {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "runtime-stale",
			Target:         status.Session.ServerName,
			Message:        "runtime state refers to a proxy client that is no longer running",
			Recommendation: "run `proxypal disconnect` to clear it",
		})
	}

	issues = append(issues, strayProcessIssues(cfg, status)...)

	if !status.Connected {
		start := uint16(cfg.Connection.StartPort)
		if port, err := portalloc.Allocate(start); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "local-port",
				Target:         fmt.Sprintf("%d", start),
				Message:        err.Error(),
				Recommendation: "lower connection.start_port or free local ports",
			})
		} else if port != start {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "local-port",
				Target:         fmt.Sprintf("%d", start),
				Message:        fmt.Sprintf("start port is in use; the next tunnel will listen on %d", port),
				Recommendation: "point applications at the port shown by `proxypal status`",
			})
		}
	}

	if servers, err := store.Load(); err == nil {
		issues = append(issues, serverIssues(servers)...)
	}

	if audit, err := security.RunLocalAudit(); err == nil {
		for _, f := range audit.Findings {
			sev := SeverityLow
			if f.Severity == security.SeverityMedium {
				sev = SeverityMedium
			}
			if f.Severity == security.SeverityHigh {
				sev = SeverityHigh
			}
			issues = append(issues, Issue{
				Severity:       sev,
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func strayProcessIssues(cfg appconfig.Config, status model.ConnectionStatus) []Issue {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	matches, err := reaper.New(cfg.ProxyClient.ProcessName, cfg.Connection.SweepTimeout()).Find(ctx)
	if err != nil {
		return []Issue{{
			Severity:       SeverityLow,
			Check:          "stray-process",
			Target:         cfg.ProxyClient.ProcessName,
			Message:        fmt.Sprintf("unable to list processes: %v", err),
			Recommendation: "check for leftover proxy clients manually",
		}}
	}
	tracked := 0
	if status.Connected && status.Session != nil {
		tracked = status.Session.PID
	}
	var issues []Issue
	for _, m := range matches {
		if int(m.PID) == tracked {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Check:          "stray-process",
			Target:         fmt.Sprintf("pid %d", m.PID),
			Message:        fmt.Sprintf("%s is running but no proxypal session tracks it", m.Name),
			Recommendation: "run `proxypal disconnect` to sweep orphaned proxy clients",
		})
	}
	return issues
}

func serverIssues(servers []model.ServerConfig) []Issue {
	var issues []Issue
	endpoints := map[string][]string{}
	for _, s := range servers {
		if err := accesskey.ValidateCipher(s.Method, s.Password); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "server-cipher",
				Target:         s.DisplayName(),
				Message:        fmt.Sprintf("cipher %q is not an AEAD cipher supported by Outline servers", s.Method),
				Recommendation: "ask the server operator for a chacha20-ietf-poly1305 or aes-gcm access key",
			})
		}
		endpoints[s.Endpoint()] = append(endpoints[s.Endpoint()], s.DisplayName())
	}
	for endpoint, names := range endpoints {
		if len(names) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "duplicate-server",
			Target:         endpoint,
			Message:        fmt.Sprintf("endpoint is saved %d times (%s)", len(names), strings.Join(names, ", ")),
			Recommendation: "remove outdated keys with `proxypal servers rm`",
		})
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
