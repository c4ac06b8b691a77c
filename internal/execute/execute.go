package execute

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"jaycmd/internal/jobs"
	"jaycmd/internal/parser"
	"jaycmd/internal/terminal"
)

// ExitNotExecuted is the status of a stage whose program could not be run.
const ExitNotExecuted = 127

// State is everything the shell keeps between lines. It is owned by the
// read loop and is not safe for concurrent launches.
type State struct {
	Jobs     *jobs.Table
	Terminal *terminal.Controller

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// OutputMode is the permission of files created by >. Zero means
	// DefaultOutputMode.
	OutputMode os.FileMode

	Log *zap.Logger
}

// Result describes what happened to a launched pipeline.
type Result struct {
	Pgid int
	Pids []int

	// JobID is set when the pipeline was recorded in the job table, either
	// because it runs in the background or because it stopped.
	JobID int
	State jobs.State

	// ExitCode is the status of the last stage of a foreground pipeline,
	// 128+n when it was killed by signal n.
	ExitCode int
}

type launch struct {
	pgid int
	pids []int
	last int
	fg   bool

	execErr error
}

func (s *State) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// Launch starts every stage of p in one process group. A foreground
// pipeline gets the terminal and is waited for; a background one is
// registered as a job and left running. Programs that cannot be started are
// reported in the returned error without failing the rest of the pipeline.
func (s *State) Launch(p *parser.Pipeline) (Result, error) {
	if p == nil || len(p.Stages) == 0 {
		return Result{}, nil
	}
	if p.Background && s.Jobs.Full() {
		return Result{}, fmt.Errorf("background launch refused: %w", jobs.ErrTableFull)
	}

	l, err := s.spawn(p)
	if err != nil {
		return Result{}, err
	}

	res := Result{Pgid: l.pgid, Pids: l.pids, State: jobs.Done}
	if l.pgid == 0 {
		res.ExitCode = ExitNotExecuted
		return res, l.execErr
	}

	if p.Background {
		id, err := s.Jobs.Register(l.pgid, l.pids, p.Text)
		if err != nil {
			return Result{}, multierr.Append(l.execErr, s.abort(l, fmt.Errorf("background launch refused: %w", err)))
		}
		s.logger().Debug("background job", zap.Int("job", id), zap.Int("pgid", l.pgid), zap.Ints("pids", l.pids))

		res.JobID, res.State = id, jobs.Running
		return res, l.execErr
	}

	res, err = s.foreground(p, l, res)
	return res, multierr.Append(l.execErr, err)
}

// spawn creates the pipes and processes of p. On failure every process it
// already started is killed and reaped before the error is returned.
func (s *State) spawn(p *parser.Pipeline) (*launch, error) {
	l := &launch{fg: !p.Background}

	var prev *os.File
	for i, st := range p.Stages {
		var next, out *os.File
		if i < len(p.Stages)-1 {
			r, w, err := os.Pipe()
			if err != nil {
				closeFile(prev)
				return nil, s.abort(l, &LaunchError{Op: "pipe", Err: err})
			}
			next, out = r, w
		}

		stdin, stdout := s.Stdin, s.Stdout
		if prev != nil {
			stdin = prev
		}
		if out != nil {
			stdout = out
		}

		files, err := s.resolve(st, stdin, stdout)
		if err != nil {
			closeFile(prev)
			closeFile(next)
			closeFile(out)
			return nil, s.abort(l, err)
		}

		pid, err := s.fork(st, files, l.pgid, l.fg)

		// The parent keeps no pipe end that a forked stage owns.
		files.close()
		closeFile(out)
		closeFile(prev)
		prev = next

		var execErr *ExecError
		switch {
		case err == nil:
			l.pids = append(l.pids, pid)
			if i == len(p.Stages)-1 {
				l.last = pid
			}
			if l.pgid == 0 {
				l.pgid = pid
				if l.fg {
					if err := s.Terminal.Handoff(pid); err != nil {
						s.logger().Warn("terminal handoff failed", zap.Int("pgid", pid), zap.Error(err))
					}
				}
			}
		case errors.As(err, &execErr):
			l.execErr = multierr.Append(l.execErr, err)
		default:
			closeFile(prev)
			return nil, s.abort(l, err)
		}
	}

	return l, nil
}

// fork starts one stage. pgid 0 makes it the leader of a new group.
func (s *State) fork(st parser.Stage, files *stageFiles, pgid int, fg bool) (int, error) {
	binary, err := exec.LookPath(st.Args[0])
	if err != nil {
		return 0, &ExecError{Name: st.Args[0], Err: err}
	}

	pid, err := syscall.ForkExec(binary, st.Args, &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{files.stdin.Fd(), files.stdout.Fd(), s.Stderr.Fd()},
		Sys:   s.Terminal.SysProcAttr(pgid, fg),
	})
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) {
			return 0, &LaunchError{Op: "fork", Err: err}
		}
		return 0, &ExecError{Name: st.Args[0], Err: err}
	}

	s.logger().Debug("forked stage",
		zap.Int("pid", pid),
		zap.Int("pgid", pgid),
		zap.Strings("argv", st.Args),
		zap.Bool("foreground", fg),
	)
	return pid, nil
}

// abort kills the processes of a launch that could not be completed and
// reaps them, so that no half-started pipeline is left behind.
func (s *State) abort(l *launch, cause error) error {
	if l.pgid == 0 {
		return cause
	}

	s.logger().Debug("aborting launch", zap.Int("pgid", l.pgid), zap.Ints("pids", l.pids), zap.Error(cause))

	if err := unix.Kill(-l.pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		cause = multierr.Append(cause, &LaunchError{Op: "kill", Err: err})
	}
	for _, pid := range l.pids {
		_, _ = waitPid(pid, 0)
	}
	if l.fg {
		if err := s.Terminal.Reclaim(); err != nil {
			cause = multierr.Append(cause, &LaunchError{Op: "tcsetpgrp", Err: err})
		}
	}

	return cause
}

// Reap collects finished background work without blocking. report is
// called for every finished job before it leaves the table.
func (s *State) Reap(report func(jobs.Job)) {
	for _, j := range s.Jobs.Reap() {
		if report != nil {
			report(j)
		}
		s.Jobs.Remove(j.ID)
	}
}

// Shutdown sends SIGTERM once to every remaining job. Stopped jobs are
// continued afterwards so the signal can take effect.
func (s *State) Shutdown() error {
	err := s.Jobs.Signal(unix.SIGTERM)
	return multierr.Append(err, s.Jobs.Continue())
}
