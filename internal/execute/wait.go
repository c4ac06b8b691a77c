package execute

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"jaycmd/internal/jobs"
	"jaycmd/internal/parser"
)

func waitPid(pid int, options int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return ws, err
	}
}

// ExitCode converts a wait status the way shells report it.
func ExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	case ws.Stopped():
		return 128 + int(ws.StopSignal())
	}
	return 0
}

// waitOrder puts the last stage first: its status is the pipeline's status.
func waitOrder(l *launch) []int {
	order := make([]int, 0, len(l.pids))
	if l.last != 0 {
		order = append(order, l.last)
	}
	for _, pid := range l.pids {
		if pid != l.last {
			order = append(order, pid)
		}
	}
	return order
}

// foreground blocks until the pipeline has exited or stopped and gives the
// terminal back to the shell in both cases. A stopped pipeline becomes a job.
func (s *State) foreground(p *parser.Pipeline, l *launch, res Result) (Result, error) {
	log := s.logger()
	order := waitOrder(l)

	res.ExitCode = ExitNotExecuted
	var stopped []int
	for i, pid := range order {
		ws, err := waitPid(pid, unix.WUNTRACED)
		if err != nil {
			log.Warn("wait failed", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		log.Debug("wait report", zap.Int("pid", pid), zap.Int("pgid", l.pgid), zap.Int("code", ExitCode(ws)), zap.Bool("stopped", ws.Stopped()))

		if pid == l.last {
			res.ExitCode = ExitCode(ws)
		}
		if ws.Stopped() {
			stopped = order[i:]
			break
		}
	}

	var err error
	if rerr := s.Terminal.Reclaim(); rerr != nil {
		err = &LaunchError{Op: "tcsetpgrp", Err: rerr}
	}
	if stopped == nil {
		return res, err
	}

	id, rerr := s.Jobs.Register(l.pgid, stopped, p.Text)
	if rerr != nil {
		_ = unix.Kill(-l.pgid, unix.SIGKILL)
		for _, pid := range stopped {
			_, _ = waitPid(pid, 0)
		}
		return res, multierr.Append(err, fmt.Errorf("stopped pipeline killed: %w", rerr))
	}
	s.Jobs.Update(stopped[0], jobs.Stopped)
	log.Debug("pipeline stopped", zap.Int("job", id), zap.Int("pgid", l.pgid))

	res.JobID, res.State = id, jobs.Stopped
	return res, err
}
