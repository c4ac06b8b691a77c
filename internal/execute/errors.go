package execute

import "fmt"

// RedirectionError reports a file named by < or > that could not be opened.
type RedirectionError struct {
	Direction string
	Path      string
	Err       error
}

func (e *RedirectionError) Error() string {
	return fmt.Sprintf("%s redirection: %v", e.Direction, e.Err)
}

func (e *RedirectionError) Unwrap() error { return e.Err }

// ExecError reports a stage whose program could not be started. The stage
// counts as exited with status 127.
type ExecError struct {
	Name string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// LaunchError reports a failed system call while setting up a pipeline,
// such as "pipe" or "fork".
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
