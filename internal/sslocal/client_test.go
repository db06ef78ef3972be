package sslocal

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/treykane/proxypal/internal/model"
)

func TestBuildArgs(t *testing.T) {
	c := New("ss-local")
	cfg := model.ServerConfig{Server: "1.2.3.4", ServerPort: 8388, Password: "p@ss word", Method: "chacha20-ietf-poly1305"}
	args := c.BuildArgs(cfg, 1081)
	want := []string{"-s", "1.2.3.4", "-p", "8388", "-b", "127.0.0.1", "-l", "1081", "-k", "p@ss word", "-m", "chacha20-ietf-poly1305"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args mismatch\nwant=%v\n got=%v", want, args)
	}
}

func TestStartCapturesStderr(t *testing.T) {
	bin := writeFakeClient(t, "#!/bin/sh\necho \"bind: address in use\" >&2\nexit 1\n")
	c := New(bin)

	proc, err := c.Start(model.ServerConfig{Server: "example.com", ServerPort: 8388, Password: "x", Method: "aes-256-gcm"}, 1080)
	if err != nil {
		t.Fatal(err)
	}
	if proc.PID() <= 0 {
		t.Fatalf("expected pid, got %d", proc.PID())
	}
	if err := proc.Cmd.Wait(); err == nil {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(proc.Stderr.String(), "address in use") {
		t.Fatalf("stderr not captured: %q", proc.Stderr.String())
	}
}

func TestStartPassesArguments(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args.txt")
	bin := writeFakeClient(t, "#!/bin/sh\necho \"$@\" > "+out+"\n")
	c := New(bin)

	proc, err := c.Start(model.ServerConfig{Server: "10.0.0.1", ServerPort: 443, Password: "pw", Method: "aes-128-gcm"}, 1090)
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Cmd.Wait(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "-s 10.0.0.1 -p 443 -b 127.0.0.1 -l 1090 -k pw -m aes-128-gcm"
	if strings.TrimSpace(string(b)) != want {
		t.Fatalf("unexpected argv: %q", string(b))
	}
}

func TestEnsureBinaryMissing(t *testing.T) {
	c := New("proxypal-definitely-missing-binary")
	if err := c.EnsureBinary(); err == nil {
		t.Fatal("expected missing binary error")
	}
}

func writeFakeClient(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ss-local")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
