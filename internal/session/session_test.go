package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/portalloc"
	"github.com/treykane/proxypal/internal/security"
	"github.com/treykane/proxypal/internal/sslocal"
)

type fixedPorts struct {
	port uint16
	err  error
}

func (f fixedPorts) Allocate(start uint16) (uint16, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.port == 0 {
		return start, nil
	}
	return f.port, nil
}

type fakeVerifier struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeVerifier) Verify(_ context.Context, _ uint16) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

type failingLauncher struct{ err error }

func (f failingLauncher) Start(model.ServerConfig, uint16) (*sslocal.Process, error) {
	return nil, f.err
}

var testConfig = model.ServerConfig{
	ID:         "ss://test-key",
	Server:     "203.0.113.5",
	ServerPort: 8388,
	Password:   "secret",
	Method:     "chacha20-ietf-poly1305",
	Name:       "test",
}

func fakeClient(t *testing.T, script string) *sslocal.Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ss-local")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return sslocal.New(path)
}

func fastOptions() Options {
	return Options{StartPort: 1080, SettleDelay: 100 * time.Millisecond, StopTimeout: 300 * time.Millisecond}
}

func awaitResult(t *testing.T, s *Session) model.Result {
	t.Helper()
	select {
	case res := <-s.Result():
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("session did not report a result")
		return model.Result{}
	}
}

func processGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	return errors.Is(err, syscall.ESRCH)
}

func TestImmediateExitReportsStderr(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\necho 'bind: address in use' >&2\nexit 1\n")
	verifier := &fakeVerifier{}
	s := New(testConfig, Deps{Launcher: client, Verifier: verifier, Ports: fixedPorts{port: 1085}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureSpawn, res.Kind)
	assert.Contains(t, res.Message, "address in use")
	assert.Equal(t, uint16(1085), res.Port)
	assert.Equal(t, testConfig.ID, res.ServerID)
	assert.Equal(t, model.SessionFailed, s.State())
	assert.Zero(t, verifier.calls.Load())

	var spawnErr *SpawnError
	require.ErrorAs(t, res.Err, &spawnErr)
	assert.True(t, spawnErr.Exited)
}

func TestSilentExitUsesGenericMessage(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nexit 3\n")
	s := New(testConfig, Deps{Launcher: client, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "process terminated unexpectedly")
}

func TestLaunchFailure(t *testing.T) {
	s := New(testConfig, Deps{Launcher: failingLauncher{err: errors.New("exec: not found")}, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureSpawn, res.Kind)
	assert.Contains(t, res.Message, "not found")
	assert.Equal(t, "connection failed, check server details: exec: not found", security.UserMessage(res.Err, false))
	<-s.Exited()
}

func TestPortExhaustion(t *testing.T) {
	s := New(testConfig, Deps{Launcher: failingLauncher{}, Verifier: &fakeVerifier{}, Ports: fixedPorts{err: portalloc.ErrNoFreePort}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailurePortExhausted, res.Kind)
	assert.Equal(t, uint16(1080), res.Port)
	assert.ErrorIs(t, res.Err, portalloc.ErrNoFreePort)
}

func TestHealthyTunnel(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nexec sleep 30\n")
	s := New(testConfig, Deps{Launcher: client, Verifier: &fakeVerifier{}, Ports: fixedPorts{port: 1090}}, fastOptions())
	t.Cleanup(s.Stop)
	s.Start()

	res := awaitResult(t, s)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, uint16(1090), res.Port)
	assert.Equal(t, "connected on port 1090", res.Message)
	assert.Equal(t, s.ID(), res.SessionID)
	assert.Equal(t, model.SessionHealthy, s.State())

	info := s.Info()
	assert.Positive(t, info.PID)
	assert.Equal(t, "test", info.ServerName)
}

func TestHealthCheckFailureTerminatesProcess(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nexec sleep 30\n")
	verifier := &fakeVerifier{err: errors.New("proxy refused connection")}
	s := New(testConfig, Deps{Launcher: client, Verifier: verifier, Ports: fixedPorts{}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureHealthCheck, res.Kind)
	assert.Contains(t, res.Message, "refused")

	pid := s.Info().PID
	require.Positive(t, pid)
	select {
	case <-s.Exited():
	default:
		t.Fatal("process still tracked after failed health check")
	}
	assert.True(t, processGone(pid))
}

func TestStopEscalatesToKill(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\ntrap '' TERM\nwhile true; do sleep 0.05; done\n")
	s := New(testConfig, Deps{Launcher: client, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Start()
	res := awaitResult(t, s)
	require.True(t, res.Success)

	start := time.Now()
	s.Stop()
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, model.SessionStopped, s.State())
	select {
	case <-s.Exited():
	default:
		t.Fatal("Stop returned before the process exited")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nexec sleep 30\n")
	s := New(testConfig, Deps{Launcher: client, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Start()
	require.True(t, awaitResult(t, s).Success)

	s.Stop()
	s.Stop()
	assert.Equal(t, model.SessionStopped, s.State())
}

func TestStopBeforeStart(t *testing.T) {
	s := New(testConfig, Deps{Launcher: failingLauncher{err: errors.New("unused")}, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Stop()
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureStopped, res.Kind)
	assert.Equal(t, model.SessionStopped, s.State())
}

func TestStopDuringHealthCheckReportsStopped(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nexec sleep 30\n")
	verifier := &fakeVerifier{delay: 400 * time.Millisecond}
	s := New(testConfig, Deps{Launcher: client, Verifier: verifier, Ports: fixedPorts{}}, fastOptions())
	s.Start()

	require.Eventually(t, func() bool { return s.State() == model.SessionHealthChecking }, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureStopped, res.Kind)
	assert.Equal(t, model.SessionStopped, s.State())
}

func TestUnexpectedExitAfterHealthyMarksFailed(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nsleep 0.3\necho 'server closed' >&2\nexit 2\n")
	s := New(testConfig, Deps{Launcher: client, Verifier: &fakeVerifier{}, Ports: fixedPorts{}}, fastOptions())
	s.Start()
	require.True(t, awaitResult(t, s).Success)

	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Equal(t, model.SessionFailed, s.State())
	assert.Contains(t, s.Info().LastError, "server closed")
}

func TestExitDuringHealthCheckIsSpawnFailure(t *testing.T) {
	client := fakeClient(t, "#!/bin/sh\nsleep 0.2\nexit 1\n")
	verifier := &fakeVerifier{delay: 400 * time.Millisecond}
	s := New(testConfig, Deps{Launcher: client, Verifier: verifier, Ports: fixedPorts{}}, fastOptions())
	s.Start()

	res := awaitResult(t, s)
	assert.False(t, res.Success)
	assert.Equal(t, model.FailureSpawn, res.Kind)
	assert.Contains(t, res.Message, "process terminated unexpectedly")
	assert.Equal(t, model.SessionFailed, s.State())
	assert.Equal(t, int32(1), verifier.calls.Load())

	var spawnErr *SpawnError
	require.ErrorAs(t, res.Err, &spawnErr)
	assert.True(t, spawnErr.Exited)
}

func TestSpawnErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", (&SpawnError{Stderr: "  boom\n"}).Error())
	assert.Equal(t, "exec failed", (&SpawnError{Err: errors.New("exec failed")}).Error())
	assert.Equal(t, "process terminated unexpectedly", (&SpawnError{Err: errors.New("exit status 1"), Exited: true}).Error())
}
