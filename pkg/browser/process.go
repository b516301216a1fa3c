package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Spawner starts a browser binary as a detached child process.
type Spawner interface {
	Spawn(path string, args []string) (Process, error)
}

// Process is a spawned browser and the tree of helpers it forks.
type Process interface {
	Pid() int

	// KillTree kills every descendant and then the process itself. It
	// returns how many processes were signalled.
	KillTree(ctx context.Context) (int, error)
}

// ExecSpawner runs binaries with os/exec. No shell is involved and the
// child's stdout and stderr are discarded.
type ExecSpawner struct{}

// Spawn starts path with args and returns without waiting for it.
func (ExecSpawner) Spawn(path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start browser binary %s: %w", path, err)
	}

	sp := &Subprocess{
		pid:  int32(cmd.Process.Pid),
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(sp.done)
	}()
	return sp, nil
}

// Subprocess is a browser started by ExecSpawner.
type Subprocess struct {
	pid  int32
	done chan struct{}
}

// Pid returns the OS process id.
func (s *Subprocess) Pid() int {
	return int(s.pid)
}

// Exited is closed once the process has been reaped.
func (s *Subprocess) Exited() <-chan struct{} {
	return s.done
}

// KillTree kills descendants deepest first, then the process, and waits
// briefly for it to be reaped. A process that is already gone is not an
// error. The kill runs to completion even if ctx is already cancelled.
func (s *Subprocess) KillTree(ctx context.Context) (int, error) {
	killed, err := killTree(context.WithoutCancel(ctx), s.pid)

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
	return killed, err
}

func killTree(ctx context.Context, pid int32) (int, error) {
	root, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	var errs []error
	children, err := descendants(ctx, pid)
	if err != nil {
		errs = append(errs, err)
	}

	killed := 0
	for _, child := range children {
		if err := child.KillWithContext(ctx); err != nil {
			if running, _ := child.IsRunningWithContext(ctx); running {
				errs = append(errs, fmt.Errorf("kill %d: %w", child.Pid, err))
			}
			continue
		}
		killed++
	}

	if err := root.KillWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
	} else {
		killed++
	}
	return killed, errors.Join(errs...)
}

// descendants lists every process below pid, deepest first. The tree is
// built from one snapshot of the process table by parent pid, so it does
// not depend on pgrep being installed.
func descendants(ctx context.Context, pid int32) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	byParent := make(map[int32][]*process.Process)
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil || ppid == p.Pid {
			// Exited since the snapshot.
			continue
		}
		byParent[ppid] = append(byParent[ppid], p)
	}

	var out []*process.Process
	var walk func(parent int32)
	walk = func(parent int32) {
		for _, child := range byParent[parent] {
			walk(child.Pid)
			out = append(out, child)
		}
	}
	walk(pid)
	return out, nil
}
