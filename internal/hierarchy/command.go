package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deploymetrics/pkg/cmdutil"
)

// Command runs an external program per lookup. The program receives the
// application id through the {id} placeholder and prints one descendant id
// per line.
type Command struct {
	template *cmdutil.Template
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCommand validates the command template up front
func NewCommand(template string, timeout time.Duration, logger *slog.Logger) (*Command, error) {
	tmpl, err := cmdutil.ParseTemplate(template)
	if err != nil {
		return nil, fmt.Errorf("invalid hierarchy command: %w", err)
	}
	if !tmpl.Uses("id") {
		return nil, fmt.Errorf("hierarchy command must contain the {id} placeholder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{template: tmpl, timeout: timeout, logger: logger}, nil
}

// DescendantApplicationIDs runs the command for applicationID
func (c *Command) DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	argv := c.template.Expand(map[string]string{"id": applicationID})

	result, err := cmdutil.Run(ctx, cmdutil.Options{Timeout: c.timeout}, argv)
	if err != nil {
		var stderr string
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		c.logger.Error("Hierarchy command failed",
			"command", cmdutil.Format(argv),
			"error", err,
			"stderr", stderr)
		return nil, fmt.Errorf("hierarchy command failed: %w", err)
	}

	return cmdutil.Lines(result.Stdout), nil
}
