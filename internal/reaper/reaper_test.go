package reaper

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	mu           sync.Mutex
	pid          int32
	name         string
	nameErr      error
	terminateErr error
	ignoreTerm   bool
	running      bool
	terminated   bool
}

func (f *fakeProc) PID() int32 { return f.pid }

func (f *fakeProc) Name(context.Context) (string, error) { return f.name, f.nameErr }

func (f *fakeProc) Terminate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = true
	if !f.ignoreTerm {
		f.running = false
	}
	return nil
}

func (f *fakeProc) Running(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeProc) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

type fakeTable struct {
	procs []*fakeProc
	err   error
}

func (t fakeTable) Processes(context.Context) ([]Process, error) {
	if t.err != nil {
		return nil, t.err
	}
	out := make([]Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	return out, nil
}

func TestSweepTerminatesMatchingProcesses(t *testing.T) {
	stray := &fakeProc{pid: 101, name: "ss-local", running: true}
	other := &fakeProc{pid: 102, name: "bash", running: true}
	versioned := &fakeProc{pid: 103, name: "ss-local-3.3", running: true}

	r := NewWithTable(fakeTable{procs: []*fakeProc{stray, other, versioned}}, "ss-local", 200*time.Millisecond)
	rep := r.Sweep(context.Background())

	assert.Equal(t, Report{Matched: 2, Terminated: 2}, rep)
	assert.True(t, stray.wasTerminated())
	assert.True(t, versioned.wasTerminated())
	assert.False(t, other.wasTerminated())
}

func TestSweepSuppressesFailures(t *testing.T) {
	vanished := &fakeProc{pid: 201, name: "ss-local", terminateErr: os.ErrProcessDone}
	denied := &fakeProc{pid: 202, name: "ss-local", terminateErr: syscall.EPERM}
	stubborn := &fakeProc{pid: 203, name: "ss-local", running: true, ignoreTerm: true}
	unreadable := &fakeProc{pid: 204, nameErr: errors.New("permission denied")}

	r := NewWithTable(fakeTable{procs: []*fakeProc{vanished, denied, stubborn, unreadable}}, "ss-local", 100*time.Millisecond)
	start := time.Now()
	rep := r.Sweep(context.Background())

	assert.Equal(t, 3, rep.Matched)
	assert.Equal(t, 0, rep.Terminated)
	assert.Equal(t, 3, rep.Suppressed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSweepListingErrorIsAbsorbed(t *testing.T) {
	r := NewWithTable(fakeTable{err: errors.New("no /proc")}, "ss-local", time.Second)
	assert.Equal(t, Report{}, r.Sweep(context.Background()))
}

func TestSweepSkipsOwnProcess(t *testing.T) {
	self := &fakeProc{pid: int32(os.Getpid()), name: "ss-local", running: true}
	r := NewWithTable(fakeTable{procs: []*fakeProc{self}}, "ss-local", time.Second)
	rep := r.Sweep(context.Background())
	assert.Equal(t, 0, rep.Matched)
	assert.False(t, self.wasTerminated())
}

func TestReportString(t *testing.T) {
	rep := Report{Matched: 3, Terminated: 2, Suppressed: 1}
	assert.Equal(t, "matched 3, terminated 2, suppressed 1", rep.String())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "vanished", classify(os.ErrProcessDone))
	assert.Equal(t, "access denied", classify(syscall.EPERM))
	assert.Equal(t, "timeout", classify(errWaitTimeout))
	assert.Equal(t, "error", classify(errors.New("boom")))
}

func TestFindListsRealChildProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	matches, err := New("sleep", time.Second).Find(context.Background())
	require.NoError(t, err)
	found := false
	for _, m := range matches {
		if int(m.PID) == cmd.Process.Pid {
			found = true
		}
	}
	assert.True(t, found, "expected pid %d among %+v", cmd.Process.Pid, matches)
}
