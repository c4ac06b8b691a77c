package builtins

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/pborman/getopt/v2"
	"github.com/spf13/afero"

	"jaycmd/internal/history"
	"jaycmd/internal/jobs"
)

// Host is the part of the shell a built-in may use.
type Host interface {
	Stdout() io.Writer
	Stderr() io.Writer
	Fs() afero.Fs
	Chdir(dir string) error

	Setenv(name, value string) error
	Unsetenv(name string) error
	LookupEnv(name string) (string, bool)

	Jobs() []jobs.Job
	History() *history.History
	RunScript(path string, args []string) error
}

type Builtin interface {
	Main(h Host, args []string) int
}

type BuiltinFunc func(h Host, args []string) int

func (f BuiltinFunc) Main(h Host, args []string) int {
	return f(h, args)
}

var _ Builtin = (BuiltinFunc)(nil)

// Registry maps command names to built-ins.
type Registry map[string]Builtin

// Defaults returns the shell's built-ins.
func Defaults() Registry {
	return Registry{
		"var-set":         BuiltinFunc(VarSet),
		"var-unset":       BuiltinFunc(VarUnset),
		"export-it":       BuiltinFunc(ExportIt),
		"jay-newfolder":   BuiltinFunc(NewFolder),
		"jay-shiftfolder": BuiltinFunc(ShiftFolder),
		"history":         BuiltinFunc(History),
		"jobs":            BuiltinFunc(Jobs),
		"myuniquecmd":     BuiltinFunc(MyUniqueCmd),
		"jay-runscript":   BuiltinFunc(RunScript),
	}
}

// Dispatch runs argv when it names a built-in. handled is false when the
// line should go to the pipeline executor instead.
func (r Registry) Dispatch(h Host, argv []string) (handled bool, code int) {
	if len(argv) == 0 {
		return false, 0
	}
	b, ok := r[argv[0]]
	if !ok {
		return false, 0
	}
	return true, b.Main(h, argv)
}

func reason(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

func VarSet(h Host, args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(h.Stderr(), "Usage: var-set <variable_name> <variable_value>")
		return 1
	}
	if err := h.Setenv(args[1], args[2]); err != nil {
		fmt.Fprintf(h.Stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func VarUnset(h Host, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(h.Stderr(), "Usage: var-unset <variable_name>")
		return 1
	}
	if err := h.Unsetenv(args[1]); err != nil {
		fmt.Fprintf(h.Stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// ExportIt marks an existing variable for export to launched programs.
// Variables live in the process environment, so they already are.
func ExportIt(h Host, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(h.Stderr(), "Usage: export-it <variable_name>")
		return 1
	}
	value, ok := h.LookupEnv(args[1])
	if !ok {
		fmt.Fprintf(h.Stderr(), "%s: variable not found: %s\n", args[0], args[1])
		return 1
	}
	if err := h.Setenv(args[1], value); err != nil {
		fmt.Fprintf(h.Stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func NewFolder(h Host, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(h.Stderr(), "Usage: jay-newfolder <directory_name>")
		return 1
	}
	if err := h.Fs().Mkdir(args[1], 0755); err != nil {
		fmt.Fprintf(h.Stderr(), "mkdir: %v\n", reason(err))
		return 1
	}
	fmt.Fprintf(h.Stdout(), "Directory created: %s\n", args[1])
	return 0
}

func ShiftFolder(h Host, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(h.Stderr(), "Usage: jay-shiftfolder <directory>")
		return 1
	}
	if err := h.Chdir(args[1]); err != nil {
		fmt.Fprintf(h.Stderr(), "cd: %v\n", reason(err))
		return 1
	}
	fmt.Fprintf(h.Stdout(), "Changed directory to: %s\n", args[1])
	return 0
}

func History(h Host, args []string) int {
	opts := getopt.New()
	clear := opts.Bool('c', "clear the history by deleting all entries")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := h.Stderr()
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "Display or clear the command history.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		opts.PrintOptions(w)
		if err != nil {
			return 1
		}
		return 0
	}

	if *clear {
		h.History().Clear()
		return 0
	}

	w := h.Stdout()
	fmt.Fprintln(w, "Command History:")
	for i, line := range h.History().Lines() {
		fmt.Fprintf(w, "%d: %s\n", i+1, line)
	}
	return 0
}

func Jobs(h Host, args []string) int {
	if len(args) > 1 {
		fmt.Fprintf(h.Stderr(), "%s: too many arguments\n", args[0])
		return 1
	}

	w := h.Stdout()
	fmt.Fprintln(w, "Jobs:")
	for _, j := range h.Jobs() {
		fmt.Fprintf(w, "[%d] %d %s\n", j.ID, j.Pgid, j.State)
	}
	return 0
}

func MyUniqueCmd(h Host, args []string) int {
	w := h.Stdout()
	fmt.Fprintln(w, "This is a unique custom command!")
	fmt.Fprintln(w, "Feel free to modify it to do something special for you.")
	fmt.Fprintln(w, "You can customize your shell as you like.")
	return 0
}

// RunScript replays a file line by line; $1, $2, ... refer to the
// arguments after the file name.
func RunScript(h Host, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(h.Stderr(), "Usage: jay-runscript <script_filename> [arg1 arg2 ...]")
		return 1
	}
	if err := h.RunScript(args[1], args[2:]); err != nil {
		fmt.Fprintf(h.Stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}
