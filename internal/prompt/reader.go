package prompt

import (
	"bufio"
	"io"
)

const maxLine = 1 << 20

// Reader returns input one line at a time.
type Reader struct {
	s *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLine)
	return &Reader{s: s}
}

// Read returns the next line without its line ending. ok is false once the
// input is exhausted or failed; Err tells which.
func (r *Reader) Read() (line string, ok bool) {
	if !r.s.Scan() {
		return "", false
	}
	line = r.s.Text()
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, true
}

func (r *Reader) Err() error {
	return r.s.Err()
}
