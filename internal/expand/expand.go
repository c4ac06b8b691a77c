package expand

import (
	"os"
	"regexp"
	"strconv"
)

var varRegex = regexp.MustCompile(`\$\w+`)

// Lookup resolves a variable name without the leading $.
type Lookup func(name string) (string, bool)

// Expand returns a copy of line with every $NAME that lookup knows replaced
// by its value. Unknown names are kept as written.
func Expand(line string, lookup Lookup) string {
	return varRegex.ReplaceAllStringFunc(line, func(ref string) string {
		if value, ok := lookup(ref[1:]); ok {
			return value
		}
		return ref
	})
}

// Env looks names up in the process environment.
func Env(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Positional resolves $1, $2, ... to args[0], args[1], ...
func Positional(args []string) Lookup {
	return func(name string) (string, bool) {
		n, err := strconv.Atoi(name)
		if err != nil || n < 1 || n > len(args) {
			return "", false
		}
		return args[n-1], true
	}
}
