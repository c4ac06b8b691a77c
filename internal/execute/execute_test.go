package execute

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"jaycmd/internal/jobs"
	"jaycmd/internal/parser"
	"jaycmd/internal/terminal"
)

type fixture struct {
	*State
	dir    string
	stdout string
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()

	dir := t.TempDir()
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	out := filepath.Join(dir, "stdout")
	stdout, err := os.Create(out)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = devNull.Close()
		_ = stdout.Close()
	})

	st := &State{
		Jobs:     jobs.NewTable(capacity),
		Terminal: terminal.New(devNull, nil),
		Stdin:    devNull,
		Stdout:   stdout,
		Stderr:   os.Stderr,
	}
	t.Cleanup(func() {
		for _, j := range st.Jobs.List() {
			_ = unix.Kill(-j.Pgid, unix.SIGKILL)
			_ = unix.Kill(-j.Pgid, unix.SIGCONT)
			for _, pid := range j.Live() {
				_, _ = waitPid(pid, 0)
			}
		}
	})

	return &fixture{State: st, dir: dir, stdout: out}
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fixture) run(t *testing.T, line string) (Result, error) {
	t.Helper()

	p, err := parser.Parse(line)
	require.NoError(t, err)
	return f.Launch(p)
}

func (f *fixture) script(t *testing.T, name, body string) string {
	t.Helper()

	path := f.path(name)
	require.NoError(t, os.WriteFile(path, []byte(body+"\n"), 0644))
	return path
}

func (f *fixture) output(t *testing.T) string {
	t.Helper()

	b, err := os.ReadFile(f.stdout)
	require.NoError(t, err)
	return string(b)
}

func assertNoChildren(t *testing.T) {
	t.Helper()

	var ws unix.WaitStatus
	_, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	assert.ErrorIs(t, err, unix.ECHILD, "a forked process was left unreaped")
}

func TestSingleCommand(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "echo hello world")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Pids, 1)
	assert.Equal(t, res.Pids[0], res.Pgid)
	assert.Zero(t, res.JobID)
	assert.Equal(t, "hello world\n", f.output(t))
	assert.Empty(t, f.Jobs.List())
	assertNoChildren(t)
}

func TestExitCode(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "sh "+f.script(t, "exit.sh", "exit 3"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	res, err = f.run(t, "sh "+f.script(t, "kill.sh", "kill -TERM $$"))
	require.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGTERM), res.ExitCode)

	res, err = f.run(t, "false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestForegroundWaitLeavesJobsAlone(t *testing.T) {
	f := newFixture(t, 4)

	bg, err := f.run(t, "sleep 5 &")
	require.NoError(t, err)
	require.NotZero(t, bg.JobID)

	_, err = f.run(t, "true")
	require.NoError(t, err)

	j, ok := f.Jobs.Get(bg.JobID)
	require.True(t, ok)
	assert.Equal(t, jobs.Running, j.State)
	assert.Equal(t, bg.Pids, j.Live())
}

func TestPipelinePreservesBytes(t *testing.T) {
	f := newFixture(t, 4)

	var data bytes.Buffer
	for i := 0; i < 20000; i++ {
		fmt.Fprintf(&data, "line %05d %s\n", i, strings.Repeat("x", i%37))
	}
	require.NoError(t, os.WriteFile(f.path("in.txt"), data.Bytes(), 0644))

	line := fmt.Sprintf("cat %s | cat | cat > %s", f.path("in.txt"), f.path("out.txt"))
	res, err := f.run(t, line)
	require.NoError(t, err)
	assert.Len(t, res.Pids, 3)
	assert.Equal(t, 0, res.ExitCode)

	got, err := os.ReadFile(f.path("out.txt"))
	require.NoError(t, err)
	assert.Equal(t, data.Bytes(), got)
	assertNoChildren(t)
}

func TestPipelineSharesProcessGroup(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "sleep 5 | sleep 5 | sleep 5 &")
	require.NoError(t, err)
	require.Len(t, res.Pids, 3)

	for _, pid := range res.Pids {
		pgid, err := unix.Getpgid(pid)
		require.NoError(t, err)
		assert.Equal(t, res.Pids[0], pgid)
	}
	assert.Equal(t, res.Pids[0], res.Pgid)
	assert.NotEqual(t, unix.Getpgrp(), res.Pgid)
}

func TestLastStageSeesEOF(t *testing.T) {
	f := newFixture(t, 4)

	p, err := parser.Parse("echo abc | cat | wc -c")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.Launch(p)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish: a pipe end was left open")
	}
	assert.Equal(t, "4", strings.TrimSpace(f.output(t)))
}

func TestRedirections(t *testing.T) {
	f := newFixture(t, 4)

	old := syscall.Umask(0o022)
	defer syscall.Umask(old)

	require.NoError(t, os.WriteFile(f.path("in.txt"), []byte("exact bytes\nno trailing"), 0644))

	line := fmt.Sprintf("cat < %s > %s", f.path("in.txt"), f.path("out.txt"))
	_, err := f.run(t, line)
	require.NoError(t, err)

	got, err := os.ReadFile(f.path("out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "exact bytes\nno trailing", string(got))

	info, err := os.Stat(f.path("out.txt"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOutputMode, info.Mode().Perm())

	// An existing file is truncated.
	require.NoError(t, os.WriteFile(f.path("long.txt"), bytes.Repeat([]byte("z"), 4096), 0600))
	_, err = f.run(t, "echo short > "+f.path("long.txt"))
	require.NoError(t, err)
	got, err = os.ReadFile(f.path("long.txt"))
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(got))

	assert.Empty(t, f.output(t))
}

func TestOutputMode(t *testing.T) {
	f := newFixture(t, 4)
	f.OutputMode = 0600

	_, err := f.run(t, "echo x > "+f.path("private.txt"))
	require.NoError(t, err)

	info, err := os.Stat(f.path("private.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm()&0600)
	assert.Zero(t, info.Mode().Perm()&0077)
}

func TestMissingInputLaunchesNothing(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "cat < "+f.path("missing.txt"))
	require.Error(t, err)

	var rerr *RedirectionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "input", rerr.Direction)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, res.Pgid)
	assertNoChildren(t)
}

func TestOutputRedirectionFailure(t *testing.T) {
	f := newFixture(t, 4)

	_, err := f.run(t, "echo x > "+f.path("no/such/dir/out.txt"))
	var rerr *RedirectionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "output", rerr.Direction)
	assert.Contains(t, err.Error(), "output redirection")
	assertNoChildren(t)
}

func TestPartialLaunchIsTornDown(t *testing.T) {
	f := newFixture(t, 4)

	start := time.Now()
	line := fmt.Sprintf("sleep 30 | sleep 30 | cat < %s | cat", f.path("missing.txt"))
	res, err := f.run(t, line)

	var rerr *RedirectionError
	require.True(t, errors.As(err, &rerr))
	assert.Zero(t, res.Pgid)
	assert.Less(t, time.Since(start), 20*time.Second)
	assertNoChildren(t)
	assert.Equal(t, f.Terminal.ShellPgid(), f.Terminal.Foreground())
}

func TestCommandNotFound(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "jaycmd-no-such-program --flag")
	require.Error(t, err)

	var eerr *ExecError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "jaycmd-no-such-program", eerr.Name)
	assert.Equal(t, ExitNotExecuted, res.ExitCode)
	assertNoChildren(t)
}

func TestCommandNotFoundInsidePipeline(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "echo hi | jaycmd-no-such-program | wc -c")
	var eerr *ExecError
	require.True(t, errors.As(err, &eerr))
	assert.Len(t, multierr.Errors(err), 1)
	assert.Len(t, res.Pids, 2)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "0", strings.TrimSpace(f.output(t)))
	assertNoChildren(t)
}

func TestBackgroundReturnsImmediately(t *testing.T) {
	f := newFixture(t, 4)

	start := time.Now()
	res, err := f.run(t, "sleep 10 &")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, jobs.Running, res.State)

	list := f.Jobs.List()
	require.Len(t, list, 1)
	assert.Equal(t, res.JobID, list[0].ID)
	assert.Equal(t, res.Pgid, list[0].Pgid)
	assert.Equal(t, "sleep 10", list[0].Command)
	assert.Equal(t, jobs.Running, list[0].State)
}

func TestReapRemovesFinishedJob(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.run(t, "true &")
	require.NoError(t, err)

	var reported []jobs.Job
	require.Eventually(t, func() bool {
		f.Reap(func(j jobs.Job) { reported = append(reported, j) })
		return len(reported) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, res.JobID, reported[0].ID)
	assert.Equal(t, jobs.Done, reported[0].State)
	assert.Empty(t, f.Jobs.List())
	assertNoChildren(t)
}

func TestJobTableFullRefusesLaunch(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.run(t, "sleep 10 &")
	require.NoError(t, err)

	res, err := f.run(t, "sleep 10 &")
	require.ErrorIs(t, err, jobs.ErrTableFull)
	assert.Zero(t, res.Pgid)
	assert.Equal(t, 1, f.Jobs.Len())

	// Only the first sleep exists.
	j := f.Jobs.List()[0]
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	require.NoError(t, err)
	assert.Zero(t, wpid)
	assert.Len(t, j.Pids, 1)
}

func TestJobIDsKeepIncreasing(t *testing.T) {
	f := newFixture(t, 1)

	var ids []int
	for i := 0; i < 3; i++ {
		res, err := f.run(t, "true &")
		require.NoError(t, err)
		ids = append(ids, res.JobID)

		require.Eventually(t, func() bool {
			f.Reap(nil)
			return f.Jobs.Len() == 0
		}, 5*time.Second, 20*time.Millisecond)
	}

	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestStoppedPipelineBecomesJob(t *testing.T) {
	f := newFixture(t, 4)
	script := f.script(t, "stop.sh", "kill -STOP $$")

	res, err := f.run(t, "sh "+script)
	require.NoError(t, err)
	assert.Equal(t, jobs.Stopped, res.State)
	require.NotZero(t, res.JobID)
	assert.Equal(t, 128+int(unix.SIGSTOP), res.ExitCode)

	j, ok := f.Jobs.Get(res.JobID)
	require.True(t, ok)
	assert.Equal(t, jobs.Stopped, j.State)
	assert.Equal(t, "sh "+script, j.Command)
	assert.Equal(t, res.Pids, j.Live())

	// The terminal designation goes back to the shell on stop as on exit.
	assert.Equal(t, f.Terminal.ShellPgid(), f.Terminal.Foreground())
}

func TestStoppedPipelineWithFullTable(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.run(t, "sleep 10 &")
	require.NoError(t, err)

	res, err := f.run(t, "sh "+f.script(t, "stop.sh", "kill -STOP $$"))
	require.ErrorIs(t, err, jobs.ErrTableFull)
	assert.Zero(t, res.JobID)
	assert.Equal(t, 1, f.Jobs.Len())

	// The stopped process was killed and reaped; only the sleep is left.
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	require.NoError(t, err)
	assert.Zero(t, wpid)
}

func TestShutdownTerminatesJobs(t *testing.T) {
	f := newFixture(t, 4)

	running, err := f.run(t, "sleep 30 &")
	require.NoError(t, err)
	stopped, err := f.run(t, "sh "+f.script(t, "stop.sh", "kill -STOP $$"))
	require.NoError(t, err)
	require.Equal(t, jobs.Stopped, stopped.State)

	require.NoError(t, f.Shutdown())

	for _, pid := range []int{running.Pids[0], stopped.Pids[0]} {
		ws, err := waitPid(pid, 0)
		require.NoError(t, err)
		assert.True(t, ws.Signaled())
		assert.Equal(t, unix.SIGTERM, ws.Signal())
	}
}
