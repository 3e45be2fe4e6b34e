// Package hierarchy resolves an application id to the ids of every
// application below it. Providers return descendants only; callers union the
// root back in.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"deploymetrics/internal/config"
	"deploymetrics/internal/deployment"
)

// None treats every application as a leaf
type None struct{}

// DescendantApplicationIDs always returns no descendants
func (None) DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	return nil, nil
}

var (
	_ deployment.HierarchyExpander = None{}
	_ deployment.HierarchyExpander = (*Static)(nil)
	_ deployment.HierarchyExpander = (*HTTP)(nil)
	_ deployment.HierarchyExpander = (*Command)(nil)
)

// New builds the provider selected by cfg
func New(cfg *config.Config, logger *slog.Logger) (deployment.HierarchyExpander, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Hierarchy.Provider {
	case config.ProviderNone, "":
		return None{}, nil
	case config.ProviderStatic:
		return LoadStatic(cfg.Hierarchy.File, logger)
	case config.ProviderHTTP:
		return NewHTTP(cfg.Hierarchy.BaseURL, cfg.HierarchyTimeoutDuration()), nil
	case config.ProviderCommand:
		return NewCommand(cfg.Hierarchy.Command, cfg.HierarchyTimeoutDuration(), logger)
	default:
		return nil, fmt.Errorf("unknown hierarchy provider '%s'", cfg.Hierarchy.Provider)
	}
}
