package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is matched by every error Parse returns.
var ErrSyntax = errors.New("syntax error")

// Error describes a malformed line. Nothing from such a line is launched.
type Error struct {
	Token  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax error near '%s': %s", e.Token, e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == ErrSyntax
}

// Stage is one program invocation of a pipeline.
type Stage struct {
	Args   []string
	Input  string
	Output string
}

type Pipeline struct {
	Stages     []Stage
	Background bool
	Text       string
}

func isOperator(tok string) bool {
	switch tok {
	case "|", "<", ">", "&":
		return true
	}
	return false
}

// Fields splits a line on whitespace. Quotes have no special meaning.
func Fields(line string) []string {
	return strings.Fields(line)
}

// Parse turns a line into a pipeline. An empty line yields a nil pipeline
// and a nil error.
func Parse(line string) (*Pipeline, error) {
	tokens := Fields(line)
	if len(tokens) == 0 {
		return nil, nil
	}

	var p Pipeline
	if tokens[len(tokens)-1] == "&" {
		p.Background = true
		tokens = tokens[:len(tokens)-1]
		if len(tokens) == 0 {
			return nil, &Error{Token: "&", Reason: "missing command before '&'"}
		}
	}
	p.Text = strings.Join(tokens, " ")

	var stage Stage
	for i := 0; i < len(tokens); i++ {
		switch tok := tokens[i]; tok {
		case "&":
			return nil, &Error{Token: tok, Reason: "'&' must be the last word of the line"}
		case "|":
			if len(stage.Args) == 0 {
				return nil, &Error{Token: tok, Reason: "missing command before '|'"}
			}
			p.Stages = append(p.Stages, stage)
			stage = Stage{}
		case "<", ">":
			if i+1 == len(tokens) || isOperator(tokens[i+1]) {
				return nil, &Error{Token: tok, Reason: fmt.Sprintf("missing file name after '%s'", tok)}
			}
			i++
			if tok == "<" {
				stage.Input = tokens[i]
			} else {
				stage.Output = tokens[i]
			}
		default:
			stage.Args = append(stage.Args, tok)
		}
	}

	if len(stage.Args) == 0 {
		last := tokens[len(tokens)-1]
		if len(p.Stages) > 0 || last == "|" {
			return nil, &Error{Token: "|", Reason: "missing command after '|'"}
		}
		return nil, &Error{Token: tokens[0], Reason: "missing command"}
	}
	p.Stages = append(p.Stages, stage)

	return &p, nil
}
