package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/rule"
)

// DefaultPattern is the filename pattern used when none is configured.
const DefaultPattern = "{rule_id}_{LAST_NAME}_{TIN_LAST_FOUR}"

var (
	// ErrUnknownVariable is returned when a pattern references a variable
	// that no rule or derivation provides.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrInvalidPattern is returned for patterns that cannot produce a
	// filename.
	ErrInvalidPattern = errors.New("invalid filename pattern")

	placeholderRegexp = regexp.MustCompile(`\{(\w+)\}`)
)

// Placeholders returns the variable names referenced by pattern, in order of
// first appearance.
func Placeholders(pattern string) []string {
	var names []string

	for _, m := range placeholderRegexp.FindAllStringSubmatch(pattern, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}

	return names
}

// Sanitize keeps the letters, digits, hyphens and underscores of v. It
// returns [Unknown] when nothing is left.
func Sanitize(v string) string {
	v = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '_' {
			return r
		}

		return -1
	}, v)

	if v == "" {
		return Unknown
	}

	return v
}

// Planner computes output filename stems from document variables.
// It is safe for concurrent use.
type Planner struct {
	pattern     string
	derivations []Derivation
}

// Opt configures a [Planner].
type Opt func(*Planner)

// WithDerivations appends derivations, which run in the given order after
// any added earlier.
func WithDerivations(d ...Derivation) Opt {
	return func(p *Planner) {
		p.derivations = append(p.derivations, d...)
	}
}

// New creates a [Planner] for pattern. An empty pattern selects
// [DefaultPattern].
func New(pattern string, opts ...Opt) (*Planner, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	if strings.ContainsAny(pattern, `/\`) {
		return nil, fmt.Errorf("%w: %q contains a path separator", ErrInvalidPattern, pattern)
	}

	p := &Planner{pattern: pattern}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Pattern returns the planner's filename pattern.
func (p *Planner) Pattern() string {
	return p.pattern
}

// Derived returns the names of the planner's derivations, in order.
func (p *Planner) Derived() []string {
	names := make([]string, 0, len(p.derivations))
	for _, d := range p.derivations {
		names = append(names, d.Name)
	}

	return names
}

// Validate checks that every placeholder of the pattern is either in
// declared or produced by a derivation. The error names the closest
// available variables for each unknown placeholder.
func (p *Planner) Validate(declared []string) error {
	available := map[string]struct{}{}
	for _, name := range declared {
		available[name] = struct{}{}
	}

	for _, name := range p.Derived() {
		available[name] = struct{}{}
	}

	candidates := slices.Sorted(maps.Keys(available))

	var unknown []string

	for _, name := range Placeholders(p.pattern) {
		if _, ok := available[name]; ok {
			continue
		}

		msg := fmt.Sprintf("{%s}", name)
		if s := suggest(name, candidates); len(s) > 0 {
			msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(s, ", "))
		}

		unknown = append(unknown, msg)
	}

	if len(unknown) > 0 {
		return fmt.Errorf("%w in pattern %q: %s; available: %s",
			ErrUnknownVariable, p.pattern, strings.Join(unknown, ", "), strings.Join(candidates, ", "))
	}

	return nil
}

// suggest returns up to three candidates that fuzzy match name.
func suggest(name string, candidates []string) []string {
	var out []string

	for _, m := range fuzzy.Find(name, candidates) {
		out = append(out, m.Str)
		if len(out) == 3 {
			break
		}
	}

	return out
}

// Derive returns a copy of vars with every derivation applied in order.
// Each derivation sees the results of the ones before it. A failing
// derivation is logged and skipped.
func (p *Planner) Derive(ctx context.Context, vars rule.Variables) rule.Variables {
	out := vars.Clone()
	if out == nil {
		out = rule.Variables{}
	}

	for _, d := range p.derivations {
		v, err := d.Func(out)
		if err != nil {
			log.WithContext(ctx).WarnContext(ctx, "derivation failed",
				slog.String("variable", d.Name),
				slog.Any("error", err),
			)

			continue
		}

		out[d.Name] = v
	}

	return out
}

// Render substitutes the pattern's placeholders with the sanitized values of
// vars. Missing values become [Unknown], and remaining spaces become
// underscores.
func (p *Planner) Render(vars rule.Variables) string {
	name := placeholderRegexp.ReplaceAllStringFunc(p.pattern, func(m string) string {
		v, ok := vars[m[1:len(m)-1]]
		if !ok {
			return Unknown
		}

		return Sanitize(v)
	})

	return strings.ReplaceAll(name, " ", "_")
}

// Plan derives additional variables from vars and renders the filename stem.
func (p *Planner) Plan(ctx context.Context, vars rule.Variables) string {
	return p.Render(p.Derive(ctx, vars))
}
