package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"jaycmd/internal/builtins"
	"jaycmd/internal/config"
	"jaycmd/internal/execute"
	"jaycmd/internal/expand"
	"jaycmd/internal/history"
	"jaycmd/internal/jobs"
	"jaycmd/internal/parser"
	"jaycmd/internal/prompt"
	"jaycmd/internal/terminal"
)

// MaxScriptDepth bounds how deeply scripts may run other scripts.
const MaxScriptDepth = 16

// ErrScriptDepth is returned by RunScript past MaxScriptDepth.
var ErrScriptDepth = errors.New("script nesting too deep")

// Shell reads lines and runs them: built-ins directly, everything else
// through the pipeline executor.
type Shell struct {
	log      *zap.Logger
	state    *execute.State
	builtins builtins.Registry
	history  *history.History
	fs       afero.Fs
	prompt   *prompt.Prompt
	diag     *color.Color

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	depth  int
	status int
}

var _ builtins.Host = (*Shell)(nil)

func New(cfg *config.Config, log *zap.Logger, stdin, stdout, stderr *os.File) *Shell {
	if log == nil {
		log = zap.NewNop()
	}

	diag := color.New(color.FgRed, color.Bold)
	if !isatty.IsTerminal(stderr.Fd()) {
		diag.DisableColor()
	}

	return &Shell{
		log: log,
		state: &execute.State{
			Jobs:       jobs.NewTable(cfg.MaxJobs),
			Terminal:   terminal.New(stdin, log.Named("terminal")),
			Stdin:      stdin,
			Stdout:     stdout,
			Stderr:     stderr,
			OutputMode: cfg.OutputMode,
			Log:        log.Named("execute"),
		},
		builtins: builtins.Defaults(),
		history:  history.New(cfg.HistorySize),
		fs:       afero.NewOsFs(),
		prompt:   prompt.New(cfg.Prompt),
		diag:     diag,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}
}

// Status is the exit status of the last line run.
func (s *Shell) Status() int {
	return s.status
}

// Run reads lines until end of input or until ctx is done, then shuts the
// remaining jobs down.
func (s *Shell) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.state.Terminal.Attach(); err != nil {
		s.log.Warn("could not take the terminal", zap.Error(err))
	}
	terminal.NewRelay(s.state.Terminal, s.idle).Start(ctx)

	s.log.Info("shell started",
		zap.Bool("interactive", s.state.Terminal.Interactive()),
		zap.Int("pgid", s.state.Terminal.ShellPgid()),
	)

	in := prompt.NewReader(s.stdin)
	for ctx.Err() == nil {
		s.reap()
		s.prompt.Out(s.stdout)

		line, ok := in.Read()
		if !ok {
			if s.state.Terminal.Interactive() {
				fmt.Fprintln(s.stdout)
			}
			break
		}
		if strings.TrimSpace(line) != "" {
			s.history.Add(line)
		}
		s.RunLine(line)
	}

	s.Close()
	return in.Err()
}

// Close terminates every remaining job and says goodbye.
func (s *Shell) Close() {
	s.log.Info("shell exiting", zap.Int("jobs", s.state.Jobs.Len()))
	if err := s.state.Shutdown(); err != nil {
		s.report(err)
	}
	fmt.Fprintln(s.stdout, "Shell exited.")
}

// RunLine runs one line of input and returns its exit status.
func (s *Shell) RunLine(line string) int {
	line = expand.Expand(line, expand.Env)

	argv := parser.Fields(line)
	if len(argv) == 0 {
		return s.status
	}
	if handled, code := s.builtins.Dispatch(s, argv); handled {
		s.status = code
		return code
	}

	p, err := parser.Parse(line)
	if err != nil {
		s.report(err)
		s.status = 2
		return s.status
	}

	res, err := s.state.Launch(p)
	if err != nil {
		s.report(err)
	}

	switch {
	case res.JobID != 0 && res.State == jobs.Running:
		fmt.Fprintf(s.stdout, "[%d] %d\n", res.JobID, res.Pgid)
		s.status = 0
	case res.JobID != 0 && res.State == jobs.Stopped:
		fmt.Fprintf(s.stdout, "[%d] Stopped %s\n", res.JobID, p.Text)
		s.status = res.ExitCode
	case err != nil && res.Pgid == 0:
		s.status = 1
		if res.ExitCode != 0 {
			s.status = res.ExitCode
		}
	default:
		s.status = res.ExitCode
	}
	return s.status
}

// RunScript replays the file at path through RunLine, replacing $1, $2, ...
// with args first. Script lines are not added to the history.
func (s *Shell) RunScript(path string, args []string) error {
	if s.depth >= MaxScriptDepth {
		return fmt.Errorf("%s: %w", path, ErrScriptDepth)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s.depth++
	defer func() { s.depth-- }()
	s.log.Debug("running script", zap.String("path", path), zap.Strings("args", args), zap.Int("depth", s.depth))

	positional := expand.Positional(args)
	in := prompt.NewReader(f)
	for {
		line, ok := in.Read()
		if !ok {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		s.reap()
		s.RunLine(expand.Expand(line, positional))
	}
	return in.Err()
}

// reap reports finished background jobs and forgets them.
func (s *Shell) reap() {
	s.state.Reap(func(j jobs.Job) {
		fmt.Fprintf(s.stdout, "[%d] Done %s\n", j.ID, j.Command)
	})
}

// idle redraws the prompt after an interrupt at the prompt.
func (s *Shell) idle() {
	fmt.Fprintln(s.stdout)
	s.prompt.Out(s.stdout)
}

func (s *Shell) report(err error) {
	for _, e := range multierr.Errors(err) {
		s.diag.Fprint(s.stderr, "jaycmd:")
		fmt.Fprintf(s.stderr, " %v\n", e)
	}
}

func (s *Shell) Stdout() io.Writer {
	return s.stdout
}

func (s *Shell) Stderr() io.Writer {
	return s.stderr
}

func (s *Shell) Fs() afero.Fs {
	return s.fs
}

func (s *Shell) Chdir(dir string) error {
	return os.Chdir(dir)
}

func (s *Shell) Setenv(name, value string) error {
	return os.Setenv(name, value)
}

func (s *Shell) Unsetenv(name string) error {
	return os.Unsetenv(name)
}

func (s *Shell) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (s *Shell) Jobs() []jobs.Job {
	return s.state.Jobs.List()
}

func (s *Shell) History() *history.History {
	return s.history
}
