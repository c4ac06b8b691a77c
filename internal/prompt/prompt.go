package prompt

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
)

// Default is the prompt printed when none is configured.
const Default = "JAY-CMD $ "

// Prompt renders a prompt format. \u, \h and \w stand for the user name,
// the host name and the working directory with the home directory
// shortened to ~. Anything else is printed as is.
type Prompt struct {
	format string
}

func New(format string) *Prompt {
	if format == "" {
		format = Default
	}
	return &Prompt{format: format}
}

func (p *Prompt) String() string {
	if !strings.Contains(p.format, `\`) {
		return p.format
	}

	userName, hostName, cwd := "username", "hostname", "~"
	if curUser, err := user.Current(); err == nil {
		userName = curUser.Username
	}
	if curHostName, err := os.Hostname(); err == nil {
		hostName = curHostName
	}
	if curCwd, err := os.Getwd(); err == nil {
		cwd = curCwd
		if homeDir, ok := os.LookupEnv("HOME"); ok && homeDir != "" && strings.HasPrefix(curCwd, homeDir) {
			cwd = strings.Replace(curCwd, homeDir, "~", 1)
		}
	}

	return strings.NewReplacer(`\u`, userName, `\h`, hostName, `\w`, cwd).Replace(p.format)
}

// Out writes the prompt to w.
func (p *Prompt) Out(w io.Writer) {
	fmt.Fprint(w, p.String())
}
