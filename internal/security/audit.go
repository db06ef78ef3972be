package security

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects proxypal's configuration and the permissions of the
// files it writes. servers.json holds proxy passwords, so loose permissions on
// it are a high severity finding.
func RunLocalAudit() (AuditReport, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return AuditReport{}, err
	}

	var findings []Finding
	if !cfg.Security.RedactErrors {
		findings = append(findings, Finding{
			Severity:       SeverityLow,
			Target:         "config.yaml",
			Message:        "error redaction is disabled",
			Recommendation: "set security.redact_errors to true",
		})
	}
	if u, err := url.Parse(cfg.Connection.HealthURL); err == nil && u.Scheme != "https" {
		findings = append(findings, Finding{
			Severity:       SeverityMedium,
			Target:         "config.yaml",
			Message:        fmt.Sprintf("health check URL uses %s; a tampered path can fake a healthy tunnel", util.DefaultString(u.Scheme, "no scheme")),
			Recommendation: "use an https:// connection.health_url",
		})
	}
	if cfg.Connection.StartPort < 1024 {
		findings = append(findings, Finding{
			Severity:       SeverityLow,
			Target:         "config.yaml",
			Message:        fmt.Sprintf("start port %d is privileged", cfg.Connection.StartPort),
			Recommendation: "use connection.start_port 1024 or above",
		})
	}

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(cfgDir, "servers.json"), 0o600, true, SeverityHigh)
		for _, name := range []string{"config.yaml", "runtime.json", "events.jsonl", "history.json", "feedback.jsonl", "debug.log"} {
			checkPathPerm(&findings, filepath.Join(cfgDir, name), 0o600, true, SeverityMedium)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
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

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool, severity Severity) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       severity,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
