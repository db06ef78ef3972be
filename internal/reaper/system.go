package reaper

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	errProcessNotRunning = process.ErrorProcessNotRunning
	errNotPermitted      = process.ErrorNotPermitted
)

// SystemTable is the OS process table as seen through gopsutil.
type SystemTable struct{}

func (SystemTable) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, systemProcess{p: p})
	}
	return out, nil
}

type systemProcess struct {
	p *process.Process
}

func (s systemProcess) PID() int32 { return s.p.Pid }

func (s systemProcess) Name(ctx context.Context) (string, error) {
	return s.p.NameWithContext(ctx)
}

func (s systemProcess) Terminate(ctx context.Context) error {
	return s.p.TerminateWithContext(ctx)
}

func (s systemProcess) Running(ctx context.Context) (bool, error) {
	return s.p.IsRunningWithContext(ctx)
}
