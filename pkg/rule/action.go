package rule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/aaghdai/nominal/pkg/names"
)

// Derive methods.
const (
	MethodSlice  = "slice"
	MethodUpper  = "upper"
	MethodLower  = "lower"
	MethodStrip  = "strip"
	MethodDigits = "digits"
)

// Extract methods.
const (
	MethodSplit = "split"
)

// DefaultMinConfidence is the default [ValidatedRegexExtract.MinConfidence].
const DefaultMinConfidence = 0.5

// DefaultSplitPattern is the default [Extract] separator.
const DefaultSplitPattern = `\s+`

var (
	// ErrMissingSource is returned when an action reads a variable that is
	// not set.
	ErrMissingSource = errors.New("missing source variable")

	// ErrExtraction is returned when an action cannot extract a value.
	ErrExtraction = errors.New("extraction failed")
)

// Action writes a single variable. It is one of [*Set], [*RegexExtract],
// [*Derive], [*Extract], or [*ValidatedRegexExtract].
type Action interface {
	// Output returns the name of the variable written by the action.
	Output() string

	action()
}

// NameValidator scores candidate person names.
type NameValidator interface {
	// Rank scores every candidate and orders the results by descending
	// confidence, keeping input order among equal scores.
	Rank(candidates []string) []names.Result
}

// Set assigns a literal value.
type Set struct {
	Variable string
	Value    string
}

// RegexExtract assigns the Group of the first match of Pattern. The input
// is the document text, or the value of From when it is set. No match
// leaves the variable unset.
//
// FromText records an explicit `from_text` key. When it is false and From
// is empty the action has no input and does nothing.
type RegexExtract struct {
	Pattern  *regexp.Regexp
	FromText *bool
	Variable string
	From     string
	Group    int
}

// Derive transforms the value of another variable.
type Derive struct {
	Start    *int
	End      *int
	Variable string
	From     string
	Method   string
}

// Extract splits the value of another variable on Separator and assigns the
// token at Index.
type Extract struct {
	Separator *regexp.Regexp
	Variable  string
	From      string
	Method    string
	Index     int
}

// ValidatedRegexExtract scores every match of Pattern as a person name and
// assigns the best scoring candidate, if it reaches MinConfidence.
type ValidatedRegexExtract struct {
	Pattern       *regexp.Regexp
	Variable      string
	Group         int
	MinConfidence float64
}

func (a *Set) Output() string                   { return a.Variable }
func (a *RegexExtract) Output() string          { return a.Variable }
func (a *Derive) Output() string                { return a.Variable }
func (a *Extract) Output() string               { return a.Variable }
func (a *ValidatedRegexExtract) Output() string { return a.Variable }

func (*Set) action()                   {}
func (*RegexExtract) action()          {}
func (*Derive) action()                {}
func (*Extract) action()               {}
func (*ValidatedRegexExtract) action() {}

// ActionError is a non-fatal failure of a single action.
type ActionError struct {
	Err      error
	RuleID   string
	Type     string
	Variable string
	Index    int
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("rule %q: action %d (%s %s): %v", e.RuleID, e.Index, e.Type, e.Variable, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Executor runs actions against a set of variables.
type Executor struct {
	// Names scores candidates for [*ValidatedRegexExtract]. When nil, every
	// candidate scores 0.
	Names NameValidator
}

// Execute runs a single action, writing its output into vars.
func (e Executor) Execute(a Action, vars Variables, text string) error {
	switch n := a.(type) {
	case *Set:
		vars[n.Variable] = n.Value

	case *RegexExtract:
		if n.From == "" && n.FromText != nil && !*n.FromText {
			return nil
		}

		input := text
		if n.From != "" {
			v, ok := vars[n.From]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingSource, n.From)
			}

			input = v
		}

		m := n.Pattern.FindStringSubmatch(input)
		if m != nil {
			vars[n.Variable] = m[n.Group]
		}

	case *Derive:
		v, ok := vars[n.From]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSource, n.From)
		}

		out, err := derive(n, v)
		if err != nil {
			return err
		}

		vars[n.Variable] = out

	case *Extract:
		v, ok := vars[n.From]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSource, n.From)
		}

		parts := n.Separator.Split(v, -1)

		idx := n.Index
		if idx < 0 {
			idx += len(parts)
		}

		if idx < 0 || idx >= len(parts) {
			return fmt.Errorf("%w: index %d out of range for %d tokens", ErrExtraction, n.Index, len(parts))
		}

		vars[n.Variable] = parts[idx]

	case *ValidatedRegexExtract:
		best, ok := e.bestName(n, text)
		if ok {
			vars[n.Variable] = best
		}

	default:
		panic(fmt.Sprintf("unknown action %T", a))
	}

	return nil
}

// bestName returns the highest scoring candidate. The first candidate wins
// ties.
func (e Executor) bestName(a *ValidatedRegexExtract, text string) (string, bool) {
	matches := a.Pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}

	candidates := make([]string, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, m[a.Group])
	}

	best := names.Result{Raw: candidates[0]}
	if e.Names != nil {
		best = e.Names.Rank(candidates)[0]
	}

	if best.Confidence < a.MinConfidence {
		return "", false
	}

	return best.Raw, true
}

func derive(a *Derive, v string) (string, error) {
	switch a.Method {
	case MethodSlice:
		return slice(v, a.Start, a.End), nil
	case MethodUpper:
		return strings.ToUpper(v), nil
	case MethodLower:
		return strings.ToLower(v), nil
	case MethodStrip:
		return strings.TrimSpace(v), nil
	case MethodDigits:
		return strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}

			return -1
		}, v), nil
	}

	return "", fmt.Errorf("%w: unknown derive method %q", ErrExtraction, a.Method)
}

// slice returns s[start:end] by rune, where negative indices count from the
// end, out of range indices are clamped, and nil bounds are open.
func slice(s string, start, end *int) string {
	r := []rune(s)

	lo, hi := 0, len(r)
	if start != nil {
		lo = clampIndex(*start, len(r))
	}

	if end != nil {
		hi = clampIndex(*end, len(r))
	}

	if lo >= hi {
		return ""
	}

	return string(r[lo:hi])
}

func clampIndex(i, n int) int {
	if i < 0 {
		return max(i+n, 0)
	}

	return min(i, n)
}

//nolint:ireturn // Closed sum type.
func compileAction(def ActionDefinition) (Action, error) {
	if def.Variable == "" {
		return nil, errors.New("missing variable")
	}

	args := ActionArgs{}
	if def.Args != nil {
		args = *def.Args
	}

	switch def.Type {
	case TypeSet:
		return &Set{Variable: def.Variable, Value: def.Value}, nil

	case TypeRegexExtract:
		re, err := compilePattern(def.Pattern)
		if err != nil {
			return nil, err
		}

		group, err := checkGroup(re, def.Group)
		if err != nil {
			return nil, err
		}

		if def.From != "" && def.FromText != nil && *def.FromText {
			return nil, errors.New("from_text and from are exclusive")
		}

		return &RegexExtract{
			Variable: def.Variable,
			Pattern:  re,
			Group:    group,
			From:     def.From,
			FromText: def.FromText,
		}, nil

	case TypeDerive:
		if def.From == "" {
			return nil, errors.New("missing from")
		}

		switch def.Method {
		case MethodSlice, MethodUpper, MethodLower, MethodStrip, MethodDigits:
		default:
			return nil, fmt.Errorf("unknown derive method %q", def.Method)
		}

		return &Derive{
			Variable: def.Variable,
			From:     def.From,
			Method:   def.Method,
			Start:    args.Start,
			End:      args.End,
		}, nil

	case TypeExtract:
		if def.From == "" {
			return nil, errors.New("missing from")
		}

		if def.Method != MethodSplit {
			return nil, fmt.Errorf("unknown extract method %q", def.Method)
		}

		pattern := args.Pattern
		if pattern == "" {
			pattern = DefaultSplitPattern
		}

		re, err := compilePattern(pattern)
		if err != nil {
			return nil, err
		}

		index := 0
		if args.Index != nil {
			index = *args.Index
		}

		return &Extract{
			Variable:  def.Variable,
			From:      def.From,
			Method:    def.Method,
			Separator: re,
			Index:     index,
		}, nil

	case TypeValidatedRegexExtract:
		re, err := compilePattern(def.Pattern)
		if err != nil {
			return nil, err
		}

		group, err := checkGroup(re, def.Group)
		if err != nil {
			return nil, err
		}

		minConfidence := DefaultMinConfidence
		if def.MinConfidence != nil {
			minConfidence = *def.MinConfidence
		}

		if minConfidence < 0 || minConfidence > 1 {
			return nil, fmt.Errorf("min_confidence %v out of range [0, 1]", minConfidence)
		}

		return &ValidatedRegexExtract{
			Variable:      def.Variable,
			Pattern:       re,
			Group:         group,
			MinConfidence: minConfidence,
		}, nil

	case "":
		return nil, errors.New("missing action type")
	}

	return nil, fmt.Errorf("unknown action type %q", def.Type)
}

// actionType returns the type tag of a.
func actionType(a Action) string {
	switch a.(type) {
	case *Set:
		return TypeSet
	case *RegexExtract:
		return TypeRegexExtract
	case *Derive:
		return TypeDerive
	case *Extract:
		return TypeExtract
	case *ValidatedRegexExtract:
		return TypeValidatedRegexExtract
	}

	panic(fmt.Sprintf("unknown action %T", a))
}

// actionDefinition converts a back into its structural form. Fields that
// hold their default value are omitted.
func actionDefinition(a Action) ActionDefinition {
	def := ActionDefinition{Type: actionType(a), Variable: a.Output()}

	switch n := a.(type) {
	case *Set:
		def.Value = n.Value

	case *RegexExtract:
		def.Pattern = n.Pattern.String()
		def.From = n.From
		def.FromText = n.FromText
		if n.Group != 0 {
			def.Group = ptr(n.Group)
		}

	case *Derive:
		def.From = n.From
		def.Method = n.Method
		if n.Start != nil || n.End != nil {
			def.Args = &ActionArgs{Start: n.Start, End: n.End}
		}

	case *Extract:
		def.From = n.From
		def.Method = n.Method

		args := &ActionArgs{}
		if p := n.Separator.String(); p != DefaultSplitPattern {
			args.Pattern = p
		}

		if n.Index != 0 {
			args.Index = ptr(n.Index)
		}

		if *args != (ActionArgs{}) {
			def.Args = args
		}

	case *ValidatedRegexExtract:
		def.Pattern = n.Pattern.String()
		if n.Group != 0 {
			def.Group = ptr(n.Group)
		}

		if n.MinConfidence != DefaultMinConfidence {
			def.MinConfidence = ptr(n.MinConfidence)
		}
	}

	return def
}
