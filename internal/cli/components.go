package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aaghdai/nominal/api/v1beta1/configs"
	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/names"
	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/reader"
)

// components are the parts of a classification pipeline built from one
// configuration.
type components struct {
	processor *engine.Processor
	planner   *planner.Planner
	reader    *reader.CommandReader
}

func newComponents(ctx context.Context, cfg *configs.Config) (*components, error) {
	p, err := newProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pl, err := cfg.NewPlanner(time.Now)
	if err != nil {
		return nil, fmt.Errorf("create planner: %w", err)
	}

	r, err := cfg.Reader.NewReader(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("create reader: %w", err)
	}

	return &components{processor: p, planner: pl, reader: r}, nil
}

// newProcessor loads the configured rules. Rule files that fail to load
// are logged and skipped.
func newProcessor(ctx context.Context, cfg *configs.Config) (*engine.Processor, error) {
	rs, loadErrs, err := engine.Load(cfg.Rules.Dir)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	for _, le := range loadErrs {
		slog.WarnContext(ctx, "skipped rule file", slog.String("path", le.Path), slog.Any("error", le.Err))
	}

	if rs.Len() == 0 {
		slog.WarnContext(ctx, "no rules loaded", slog.String("dir", cfg.Rules.Dir))
	}

	allowed, err := engine.ReadGlobalVariables(cfg.Rules.Dir)
	if err != nil {
		slog.WarnContext(ctx, "read global variables", slog.Any("error", err))
	}

	for _, f := range engine.Lint(rs, allowed) {
		slog.WarnContext(ctx, "rule finding", slog.String("rule", f.RuleID), slog.String("message", f.Message))
	}

	slog.DebugContext(ctx, "loaded rules",
		slog.String("dir", cfg.Rules.Dir),
		slog.Int("global", len(rs.Global)),
		slog.Int("forms", len(rs.Forms)),
	)

	validator := names.NewLazyValidator(names.DirSource{Dir: cfg.Names.Dir})

	return engine.NewProcessor(rs, engine.WithNameValidator(validator)), nil
}
