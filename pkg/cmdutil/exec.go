// Package cmdutil runs external programs from shell-quoted command templates
package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrTimeout is returned when a command outlives Options.Timeout
var ErrTimeout = errors.New("command timed out")

// Options configures a single run
type Options struct {
	// Timeout bounds the run. Zero means the caller's context alone decides.
	Timeout time.Duration

	// Env replaces the process environment when non-nil ("KEY=value" entries)
	Env []string
}

// Result holds what a run produced. Stdout and Stderr are always captured
// separately so diagnostics on stderr never mix with parsed output.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Run executes argv directly, without a shell
func Run(ctx context.Context, opts Options, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = opts.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return result, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, fmt.Errorf("%w after %s", ErrTimeout, result.Duration.Round(time.Millisecond))
	default:
		return result, fmt.Errorf("command failed: %w", err)
	}
}

// Template is a shell-quoted command line split once into arguments. Values
// are substituted into the arguments afterwards, so a value can never add
// arguments or shell syntax.
type Template struct {
	raw  string
	args []string
}

// ParseTemplate splits a command line such as `teamctl children --app {id}`
func ParseTemplate(s string) (*Template, error) {
	args, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return &Template{raw: s, args: args}, nil
}

// Uses reports whether any argument contains the {name} placeholder
func (t *Template) Uses(name string) bool {
	placeholder := "{" + name + "}"
	for _, arg := range t.args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}
	return false
}

// Expand returns the arguments with every {name} replaced by vars[name]
func (t *Template) Expand(vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	argv := make([]string, len(t.args))
	for i, arg := range t.args {
		argv[i] = replacer.Replace(arg)
	}
	return argv
}

func (t *Template) String() string {
	return t.raw
}

// Format renders argv for logs, quoting only where needed
func Format(argv []string) string {
	if len(argv) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$`;&|<>*?") {
			quoted[i] = shellquote.Join(arg)
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}

// Lines splits output into trimmed, non-empty lines, dropping '#' comments
func Lines(output []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
