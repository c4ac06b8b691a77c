package terminal

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Controller decides which process group is in the foreground and, when
// the shell runs on a terminal, hands terminal ownership to that group.
type Controller struct {
	fd          int
	interactive bool
	shellPgid   int
	fgPgid      atomic.Int64
	log         *zap.Logger
}

// New builds a controller for tty. When tty is not a terminal the
// controller only tracks the foreground designation.
func New(tty *os.File, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{
		fd:        int(tty.Fd()),
		shellPgid: unix.Getpgrp(),
		log:       log,
	}
	if _, err := unix.IoctlGetInt(c.fd, unix.TIOCGPGRP); err == nil {
		c.interactive = true
	}
	c.fgPgid.Store(int64(c.shellPgid))

	return c
}

func (c *Controller) Interactive() bool {
	return c.interactive
}

func (c *Controller) ShellPgid() int {
	return c.shellPgid
}

// Foreground returns the process group currently designated as foreground.
func (c *Controller) Foreground() int {
	return int(c.fgPgid.Load())
}

// Owner asks the terminal which process group it considers foreground.
func (c *Controller) Owner() (int, error) {
	return unix.IoctlGetInt(c.fd, unix.TIOCGPGRP)
}

// Attach takes the terminal for the shell's own group at startup.
func (c *Controller) Attach() error {
	return c.Reclaim()
}

// SysProcAttr returns the process attributes for a pipeline stage. pgid 0
// makes the stage the leader of a new group. A foreground leader places its
// group in the foreground itself, before it execs.
func (c *Controller) SysProcAttr(pgid int, foreground bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    pgid,
	}
	if foreground && pgid == 0 && c.interactive {
		attr.Foreground = true
		attr.Ctty = c.fd
	}
	return attr
}

// Handoff designates pgid as foreground and gives it the terminal.
func (c *Controller) Handoff(pgid int) error {
	c.fgPgid.Store(int64(pgid))
	c.log.Debug("terminal handoff", zap.Int("pgid", pgid), zap.Bool("interactive", c.interactive))

	return c.setOwner(pgid)
}

// Reclaim designates the shell's group as foreground again.
func (c *Controller) Reclaim() error {
	c.fgPgid.Store(int64(c.shellPgid))
	c.log.Debug("terminal reclaim", zap.Int("pgid", c.shellPgid), zap.Bool("interactive", c.interactive))

	return c.setOwner(c.shellPgid)
}

func (c *Controller) setOwner(pgid int) error {
	if !c.interactive {
		return nil
	}

	// A process outside the foreground group gets SIGTTOU for TIOCSPGRP
	// unless it ignores the signal.
	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)

	return unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid)
}
