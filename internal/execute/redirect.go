package execute

import (
	"os"

	"jaycmd/internal/parser"
)

// DefaultOutputMode is the permission of files created by >.
const DefaultOutputMode os.FileMode = 0644

type stageFiles struct {
	stdin  *os.File
	stdout *os.File
	opened []*os.File
}

func (f *stageFiles) close() {
	for _, file := range f.opened {
		_ = file.Close()
	}
	f.opened = nil
}

// resolve opens the redirections of one stage. They take precedence over
// the descriptors the stage would otherwise inherit.
func (s *State) resolve(st parser.Stage, stdin, stdout *os.File) (*stageFiles, error) {
	files := &stageFiles{stdin: stdin, stdout: stdout}

	if st.Input != "" {
		f, err := os.Open(st.Input)
		if err != nil {
			return nil, &RedirectionError{Direction: "input", Path: st.Input, Err: err}
		}
		files.stdin = f
		files.opened = append(files.opened, f)
	}

	if st.Output != "" {
		mode := s.OutputMode
		if mode == 0 {
			mode = DefaultOutputMode
		}
		f, err := os.OpenFile(st.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			files.close()
			return nil, &RedirectionError{Direction: "output", Path: st.Output, Err: err}
		}
		files.stdout = f
		files.opened = append(files.opened, f)
	}

	return files, nil
}
