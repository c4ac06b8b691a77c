package jobs

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

type waitFunc func(pid int, ws *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

type killFunc func(pid int, sig unix.Signal) error

// StateOf maps a wait status to the job state it reports.
func StateOf(ws unix.WaitStatus) State {
	switch {
	case ws.Stopped():
		return Stopped
	case ws.Continued():
		return Running
	default:
		return Done
	}
}

func (t *Table) wait4() waitFunc {
	if t.wait != nil {
		return t.wait
	}
	return unix.Wait4
}

func (t *Table) killer() killFunc {
	if t.kill != nil {
		return t.kill
	}
	return unix.Kill
}

// Reap collects every pending status change of the tracked processes
// without blocking and returns the jobs that finished. Finished jobs stay in
// the table until the caller removes them.
func (t *Table) Reap() []Job {
	var pending []int
	for _, j := range t.List() {
		if j.State != Done {
			pending = append(pending, j.Live()...)
		}
	}

	wait := t.wait4()
	for _, pid := range pending {
		for {
			var ws unix.WaitStatus
			wpid, err := wait(pid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ECHILD) {
				t.Update(pid, Done)
				break
			}
			if err != nil || wpid == 0 {
				break
			}
			t.Update(pid, StateOf(ws))
			if StateOf(ws) == Done {
				break
			}
		}
	}

	var done []Job
	for _, j := range t.List() {
		if j.State == Done {
			done = append(done, j)
		}
	}
	return done
}

// Signal sends sig once to the process group of every tracked job,
// whatever its state.
func (t *Table) Signal(sig unix.Signal) error {
	kill := t.killer()

	var err error
	for _, j := range t.List() {
		if e := kill(-j.Pgid, sig); e != nil && !errors.Is(e, unix.ESRCH) {
			err = multierr.Append(err, fmt.Errorf("kill job %d: %w", j.ID, e))
		}
	}
	return err
}

// Continue wakes every stopped job so that a pending signal can act.
func (t *Table) Continue() error {
	kill := t.killer()

	var err error
	for _, j := range t.List() {
		if j.State != Stopped {
			continue
		}
		if e := kill(-j.Pgid, unix.SIGCONT); e != nil && !errors.Is(e, unix.ESRCH) {
			err = multierr.Append(err, fmt.Errorf("continue job %d: %w", j.ID, e))
		}
	}
	return err
}
