package doctor

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/store"
)

func findCheck(report Report, check string) (Issue, bool) {
	for _, issue := range report.Issues {
		if issue.Check == check {
			return issue, true
		}
	}
	return Issue{}, false
}

func TestRunReportsMissingBinaryAndWeakCipher(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.ProxyClient.Binary = "proxypal-missing-client"
	cfg.ProxyClient.ProcessName = "proxypal-missing-client"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
	for _, s := range []model.ServerConfig{
		{ID: "ss://one", Server: "a.example.com", ServerPort: 8388, Method: "rc4-md5", Password: "pw", Name: "legacy"},
		{ID: "ss://two", Server: "b.example.com", ServerPort: 8388, Method: "chacha20-ietf-poly1305", Password: "pw", Name: "modern"},
		{ID: "ss://three", Server: "b.example.com", ServerPort: 8388, Method: "aes-256-gcm", Password: "pw2", Name: "modern-2"},
	} {
		if err := store.Add(s); err != nil {
			t.Fatal(err)
		}
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if issue, ok := findCheck(report, "proxy-client-binary"); !ok || issue.Severity != SeverityHigh {
		t.Fatalf("expected high proxy-client-binary issue, got %+v", report.Issues)
	}
	if report.Issues[0].Severity != SeverityHigh {
		t.Fatalf("expected issues sorted by severity, got %+v", report.Issues)
	}
	issue, ok := findCheck(report, "server-cipher")
	if !ok || issue.Target != "legacy" {
		t.Fatalf("expected server-cipher issue for legacy, got %+v", report.Issues)
	}
	if _, ok := findCheck(report, "duplicate-server"); !ok {
		t.Fatalf("expected duplicate-server issue, got %+v", report.Issues)
	}
}

func TestRunReportsStrayProcess(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.ProxyClient.ProcessName = "sleep"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := findCheck(report, "stray-process"); !ok {
		t.Fatalf("expected stray-process issue, got %+v", report.Issues)
	}
}

func TestRunReportsStaleRuntime(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	raw := `{"updated_at":"2026-01-01T00:00:00Z","session":{"session_id":"old","server_ref":"abc","server_name":"office","port":1080,"pid":999999,"state":"healthy"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	issue, ok := findCheck(report, "runtime-stale")
	if !ok || issue.Target != "office" {
		t.Fatalf("expected runtime-stale issue, got %+v", report.Issues)
	}
}

func TestRunJSONShapeDeterministic(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["issues"]; !ok {
		t.Fatalf("expected issues key in json output: %s", string(b))
	}
}
