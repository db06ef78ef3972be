// Package reaper terminates stray proxy-client processes, such as ones left
// behind by a crash, that no in-memory session tracks.
//
// Sweeping is best-effort: processes that vanish, refuse the signal or ignore it
// past the grace period are logged and skipped, never reported as errors.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/treykane/proxypal/internal/util"
)

// Process is the slice of an OS process the reaper needs.
type Process interface {
	PID() int32
	Name(ctx context.Context) (string, error)
	Terminate(ctx context.Context) error
	Running(ctx context.Context) (bool, error)
}

// ProcessTable lists every process visible to the current user.
type ProcessTable interface {
	Processes(ctx context.Context) ([]Process, error)
}

// Match is one process whose name matched the proxy client.
type Match struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

// Report summarises a sweep. Suppressed counts the processes that could not
// be confirmed terminated.
type Report struct {
	Matched    int `json:"matched"`
	Terminated int `json:"terminated"`
	Suppressed int `json:"suppressed"`
}

func (r Report) String() string {
	return fmt.Sprintf("matched %d, terminated %d, suppressed %d", r.Matched, r.Terminated, r.Suppressed)
}

// Reaper finds and terminates processes whose name contains Name.
type Reaper struct {
	table   ProcessTable
	name    string
	timeout time.Duration
	poll    time.Duration
	limit   int
}

// New returns a reaper over the real OS process table.
func New(processName string, timeout time.Duration) *Reaper {
	return NewWithTable(SystemTable{}, processName, timeout)
}

// NewWithTable returns a reaper over an arbitrary process table.
func NewWithTable(table ProcessTable, processName string, timeout time.Duration) *Reaper {
	if timeout <= 0 {
		timeout = util.SweepTimeout
	}
	return &Reaper{
		table:   table,
		name:    util.DefaultString(processName, "ss-local"),
		timeout: timeout,
		poll:    50 * time.Millisecond,
		limit:   4,
	}
}

// Find lists matching processes without touching them.
func (r *Reaper) Find(ctx context.Context) ([]Match, error) {
	procs, err := r.find(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.match)
	}
	return out, nil
}

type found struct {
	proc  Process
	match Match
}

func (r *Reaper) find(ctx context.Context) ([]found, error) {
	procs, err := r.table.Processes(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var out []found
	for _, p := range procs {
		if p.PID() == self {
			continue
		}
		name, err := p.Name(ctx)
		if err != nil {
			// Exited between listing and inspection, or not ours to read.
			continue
		}
		if strings.Contains(name, r.name) {
			out = append(out, found{proc: p, match: Match{PID: p.PID(), Name: name}})
		}
	}
	return out, nil
}

// Sweep terminates every matching process and waits briefly for each to exit.
// It never fails; problems are logged.
func (r *Reaper) Sweep(ctx context.Context) Report {
	procs, err := r.find(ctx)
	if err != nil {
		slog.Warn("orphan sweep could not list processes", "error", err)
		return Report{}
	}
	var terminated, suppressed atomic.Int32
	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, f := range procs {
		f := f
		g.Go(func() error {
			if err := r.terminate(ctx, f.proc); err != nil {
				suppressed.Add(1)
				slog.Debug("orphan sweep skipped process", "pid", f.match.PID, "name", f.match.Name, "reason", classify(err), "error", err)
				return nil
			}
			terminated.Add(1)
			slog.Info("terminated orphaned proxy client", "pid", f.match.PID, "name", f.match.Name)
			return nil
		})
	}
	_ = g.Wait()
	return Report{Matched: len(procs), Terminated: int(terminated.Load()), Suppressed: int(suppressed.Load())}
}

var errWaitTimeout = errors.New("process did not exit before the sweep timeout")

func (r *Reaper) terminate(ctx context.Context, p Process) error {
	if err := p.Terminate(ctx); err != nil {
		return err
	}
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(r.poll)
	defer tick.Stop()
	for {
		running, err := p.Running(ctx)
		if err != nil || !running {
			// An error here means the process is already gone.
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errWaitTimeout
		case <-tick.C:
		}
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, errWaitTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isVanished(err):
		return "vanished"
	case isDenied(err):
		return "access denied"
	default:
		return "error"
	}
}

func isVanished(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) || errors.Is(err, errProcessNotRunning)
}

func isDenied(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) || errors.Is(err, errNotPermitted)
}
