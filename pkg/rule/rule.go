package rule

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrInvalidRule is returned when a [Definition] cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule")

// Variables maps variable names to values.
type Variables map[string]string

// Clone returns a copy of v.
func (v Variables) Clone() Variables {
	if v == nil {
		return Variables{}
	}

	return maps.Clone(v)
}

// Names returns the sorted variable names.
func (v Variables) Names() []string {
	return slices.Sorted(maps.Keys(v))
}

// Rule is a compiled [Definition]. It is immutable once created.
//
// A rule matches a document when all of its top-level criteria match. The
// values captured by the criteria seed the variables, then the actions run
// in declared order. An action may overwrite a captured value.
type Rule struct {
	criteria    Criterion
	declared    map[string]struct{}
	ID          string
	Description string
	Global      []string
	Local       []string
	Derived     []string
	Actions     []Action
}

// Match is the outcome of applying a [Rule] that matched.
type Match struct {
	Variables Variables
	RuleID    string
	Errors    []*ActionError
}

// New compiles a [Definition] into a [Rule].
func New(def Definition) (*Rule, error) {
	r, err := compile(def)
	if err != nil {
		name := def.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}

		return nil, fmt.Errorf("%w %q: %w", ErrInvalidRule, name, err)
	}

	return r, nil
}

// MustNew compiles a [Definition] and panics if there's an error.
func MustNew(def Definition) *Rule {
	r, err := New(def)
	if err != nil {
		panic(err)
	}

	return r
}

func compile(def Definition) (*Rule, error) {
	r := &Rule{
		ID:          def.Name(),
		Description: def.Description,
		Global:      slices.Clone(def.Variables.Global),
		Local:       slices.Clone(def.Variables.Local),
		Derived:     slices.Clone(def.Variables.Derived),
		declared:    map[string]struct{}{},
	}

	if r.ID == "" {
		return nil, errors.New("missing id")
	}

	for _, names := range [][]string{r.Global, r.Local, r.Derived} {
		for _, name := range names {
			if name == "" {
				return nil, errors.New("empty variable name")
			}

			r.declared[name] = struct{}{}
		}
	}

	if len(def.Criteria) == 0 {
		return nil, errors.New("no criteria")
	}

	criteria, err := compileCriteria(def.Criteria, 0)
	if err != nil {
		return nil, err
	}

	r.criteria = &All{Children: criteria}

	for i, ad := range def.Actions {
		a, err := compileAction(ad)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}

		if !r.Declares(a.Output()) {
			return nil, fmt.Errorf("action %d: undeclared variable %q", i, a.Output())
		}

		r.Actions = append(r.Actions, a)
	}

	return r, nil
}

// Criteria returns the rule's criteria as a single [*All].
func (r *Rule) Criteria() *All {
	c, ok := r.criteria.(*All)
	if !ok {
		panic(errors.New("rule missing criteria"))
	}

	return c
}

// Declares reports whether name is a declared variable of the rule.
func (r *Rule) Declares(name string) bool {
	_, ok := r.declared[name]

	return ok
}

// IsGlobal reports whether name is declared as a global variable.
func (r *Rule) IsGlobal(name string) bool {
	return slices.Contains(r.Global, name)
}

// Variables returns every declared variable name, in declaration order.
func (r *Rule) Variables() []string {
	out := make([]string, 0, len(r.declared))
	out = append(out, r.Global...)
	out = append(out, r.Local...)
	out = append(out, r.Derived...)

	return out
}

// Captures returns the variables written by the rule's capturing criteria,
// in criteria order.
func (r *Rule) Captures() []string {
	var out []string

	Walk(r.criteria, func(c Criterion) {
		if re, ok := c.(*Regex); ok && re.Capture && re.Variable != "" && !slices.Contains(out, re.Variable) {
			out = append(out, re.Variable)
		}
	})

	return out
}

// ApplyOpt configures [Rule.Apply].
type ApplyOpt func(*applyOptions)

type applyOptions struct {
	evaluator Evaluator
	executor  Executor
}

// WithNameValidator sets the validator used by [*ValidatedRegexExtract].
func WithNameValidator(v NameValidator) ApplyOpt {
	return func(o *applyOptions) {
		o.executor.Names = v
	}
}

// WithObserver sets a function called after each leaf criterion is
// evaluated.
func WithObserver(fn func(c Criterion, matched bool)) ApplyOpt {
	return func(o *applyOptions) {
		o.evaluator.Observe = fn
	}
}

// Apply evaluates the rule against text. It returns nil when the criteria do
// not match.
//
// Action failures do not stop the remaining actions. They are returned in
// [Match.Errors] and leave their output variable unchanged.
func (r *Rule) Apply(text string, opts ...ApplyOpt) *Match {
	o := &applyOptions{}
	for _, opt := range opts {
		opt(o)
	}

	ok, captures := o.evaluator.Evaluate(r.criteria, text)
	if !ok {
		return nil
	}

	m := &Match{
		RuleID:    r.ID,
		Variables: captures.Clone(),
	}

	for i, a := range r.Actions {
		err := o.executor.Execute(a, m.Variables, text)
		if err != nil {
			m.Errors = append(m.Errors, &ActionError{
				RuleID:   r.ID,
				Index:    i,
				Type:     actionType(a),
				Variable: a.Output(),
				Err:      err,
			})
		}
	}

	return m
}

// Partition splits vars into the rule's global variables and everything
// else.
func (r *Rule) Partition(vars Variables) (global, local Variables) {
	global, local = Variables{}, Variables{}

	for k, v := range vars {
		if r.IsGlobal(k) {
			global[k] = v
		} else {
			local[k] = v
		}
	}

	return global, local
}

// Definition converts the rule back into its structural form.
func (r *Rule) Definition() Definition {
	def := Definition{
		ID:          r.ID,
		Description: r.Description,
		Variables: VariablesDefinition{
			Global:  slices.Clone(r.Global),
			Local:   slices.Clone(r.Local),
			Derived: slices.Clone(r.Derived),
		},
		Criteria: criteriaDefinitions(r.Criteria().Children),
	}

	for _, a := range r.Actions {
		def.Actions = append(def.Actions, actionDefinition(a))
	}

	return def
}

func (r *Rule) String() string {
	return r.ID
}

func ptr[T any](v T) *T {
	return &v
}
