package terminal

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Forward sends sig to the foreground group. It does nothing when the shell
// itself is foreground, or when the terminal already has that group as its
// foreground group and so delivered the signal on its own.
func (c *Controller) Forward(sig unix.Signal) bool {
	pgid := c.Foreground()
	if pgid <= 0 || pgid == c.shellPgid {
		return false
	}
	if c.interactive {
		if owner, err := c.Owner(); err == nil && owner == pgid {
			return false
		}
	}

	if err := unix.Kill(-pgid, sig); err != nil {
		c.log.Debug("relay failed", zap.Int("pgid", pgid), zap.Stringer("signal", sig), zap.Error(err))
		return false
	}
	c.log.Debug("relayed signal", zap.Int("pgid", pgid), zap.Stringer("signal", sig))
	return true
}

// Relay keeps the shell alive on interrupt, quit and terminal stop, and
// forwards interrupts to the foreground group. idle runs when an interrupt
// arrives while the shell itself is foreground.
type Relay struct {
	c    *Controller
	idle func()
	sigs chan os.Signal
}

func NewRelay(c *Controller, idle func()) *Relay {
	return &Relay{
		c:    c,
		idle: idle,
		sigs: make(chan os.Signal, 1),
	}
}

// Start catches the signals right away and handles them on a separate
// goroutine until ctx is done.
func (r *Relay) Start(ctx context.Context) {
	signal.Notify(r.sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP)
	go r.loop(ctx)
}

func (r *Relay) loop(ctx context.Context) {
	defer signal.Stop(r.sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-r.sigs:
			if sig != syscall.SIGINT {
				continue
			}
			if !r.c.Forward(unix.SIGINT) && r.c.Foreground() == r.c.ShellPgid() && r.idle != nil {
				r.idle()
			}
		}
	}
}
