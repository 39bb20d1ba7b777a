package rule

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// MaxDepth is the maximum nesting depth of composite criteria accepted when
// compiling a [Definition].
const MaxDepth = 64

// Criterion is a predicate over document text. It is one of [*Contains],
// [*Regex], [*All], or [*Any].
type Criterion interface {
	criterion()
}

// Contains matches when Value occurs in the text. Unless CaseSensitive is
// set, both sides are case folded before comparison.
type Contains struct {
	Value         string
	CaseSensitive bool
}

// Regex matches when Pattern matches the text. With Capture set, the
// matched Group is written to Variable.
type Regex struct {
	Pattern  *regexp.Regexp
	Variable string
	Group    int
	Capture  bool
}

// All matches when every child matches.
type All struct {
	Children []Criterion
}

// Any matches when at least one child matches.
type Any struct {
	Children []Criterion
}

func (*Contains) criterion() {}
func (*Regex) criterion()    {}
func (*All) criterion()      {}
func (*Any) criterion()      {}

// Evaluator evaluates criteria trees.
type Evaluator struct {
	// Observe, when set, is called after each leaf criterion is evaluated.
	Observe func(c Criterion, matched bool)
}

// Evaluate evaluates c against text with a zero [Evaluator].
func Evaluate(c Criterion, text string) (bool, Variables) {
	return Evaluator{}.Evaluate(c, text)
}

type evalFrame struct {
	captures Variables
	children []Criterion
	next     int
	all      bool
}

// Evaluate reports whether c matches text, along with any captured values.
//
// [*All] stops at the first failing child and returns the union of its
// children's captures on success, with later children overwriting earlier
// ones. [*Any] stops at the first matching child and returns that child's
// captures. Composite criteria are walked with an explicit stack, so nesting
// depth does not grow the call stack.
func (e Evaluator) Evaluate(c Criterion, text string) (bool, Variables) {
	var (
		stack    []*evalFrame
		matched  bool
		captures Variables
		folded   string
		isFolded bool
	)

	cur := c

	for {
		// Descend to the next leaf.
		for {
			var children []Criterion

			all := false

			switch n := cur.(type) {
			case *All:
				children, all = n.Children, true
			case *Any:
				children = n.Children
			}

			if len(children) == 0 {
				break
			}

			stack = append(stack, &evalFrame{children: children, all: all})
			cur = children[0]
		}

		switch n := cur.(type) {
		case *Contains:
			if n.CaseSensitive {
				matched, captures = strings.Contains(text, n.Value), nil
			} else {
				if !isFolded {
					folded, isFolded = cases.Fold().String(text), true
				}

				matched, captures = strings.Contains(folded, cases.Fold().String(n.Value)), nil
			}

		case *Regex:
			matched, captures = n.match(text)

		default:
			// Empty composites match vacuously for All and never for Any.
			_, matched = cur.(*All)
			captures = nil
		}

		if e.Observe != nil {
			e.Observe(cur, matched)
		}

		// Ascend until a composite has another child to visit.
		cur = nil
		for len(stack) > 0 && cur == nil {
			f := stack[len(stack)-1]
			f.next++

			switch {
			case f.all && !matched:
				captures = nil
			case f.all:
				if len(captures) > 0 {
					if f.captures == nil {
						f.captures = Variables{}
					}

					maps.Copy(f.captures, captures)
				}

				if f.next < len(f.children) {
					cur = f.children[f.next]
					continue
				}

				captures = f.captures
			case matched:
				// Any short-circuits with the matching child's captures.
			case f.next < len(f.children):
				cur = f.children[f.next]
				continue
			default:
				captures = nil
			}

			stack = stack[:len(stack)-1]
		}

		if cur == nil {
			return matched, captures
		}
	}
}

// Walk calls fn for c and each of its descendants in depth-first order.
func Walk(c Criterion, fn func(Criterion)) {
	stack := []Criterion{c}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fn(n)

		var children []Criterion

		switch t := n.(type) {
		case *All:
			children = t.Children
		case *Any:
			children = t.Children
		}

		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

func (r *Regex) match(text string) (bool, Variables) {
	if !r.Capture || r.Variable == "" {
		return r.Pattern.MatchString(text), nil
	}

	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return false, nil
	}

	return true, Variables{r.Variable: m[r.Group]}
}

func compileCriteria(defs []CriterionDefinition, depth int) ([]Criterion, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("criteria nested deeper than %d levels", MaxDepth)
	}

	out := make([]Criterion, 0, len(defs))
	for i, def := range defs {
		c, err := compileCriterion(def, depth)
		if err != nil {
			return nil, fmt.Errorf("criterion %d: %w", i, err)
		}

		out = append(out, c)
	}

	return out, nil
}

//nolint:ireturn // Closed sum type.
func compileCriterion(def CriterionDefinition, depth int) (Criterion, error) {
	switch def.Type {
	case TypeContains:
		if def.Value == "" {
			return nil, fmt.Errorf("%s: missing value", def.Type)
		}

		caseSensitive := true
		if def.CaseSensitive != nil {
			caseSensitive = *def.CaseSensitive
		}

		return &Contains{Value: def.Value, CaseSensitive: caseSensitive}, nil

	case TypeRegex:
		re, err := compilePattern(def.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Type, err)
		}

		group, err := checkGroup(re, def.Group)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Type, err)
		}

		return &Regex{
			Pattern:  re,
			Capture:  def.Capture,
			Variable: def.Variable,
			Group:    group,
		}, nil

	case TypeAll, TypeAny:
		if len(def.Criteria) == 0 {
			return nil, fmt.Errorf("%s: no child criteria", def.Type)
		}

		children, err := compileCriteria(def.Criteria, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Type, err)
		}

		if def.Type == TypeAll {
			return &All{Children: children}, nil
		}

		return &Any{Children: children}, nil

	case "":
		return nil, fmt.Errorf("missing criterion type")
	}

	return nil, fmt.Errorf("unknown criterion type %q", def.Type)
}

// criterionDefinition converts c back into its structural form. Fields that
// hold their default value are omitted.
func criterionDefinition(c Criterion) CriterionDefinition {
	switch n := c.(type) {
	case *Contains:
		def := CriterionDefinition{Type: TypeContains, Value: n.Value}
		if !n.CaseSensitive {
			def.CaseSensitive = new(bool)
		}

		return def

	case *Regex:
		def := CriterionDefinition{
			Type:     TypeRegex,
			Pattern:  n.Pattern.String(),
			Capture:  n.Capture,
			Variable: n.Variable,
		}
		if n.Group != 0 {
			def.Group = ptr(n.Group)
		}

		return def

	case *All:
		return CriterionDefinition{Type: TypeAll, Criteria: criteriaDefinitions(n.Children)}

	case *Any:
		return CriterionDefinition{Type: TypeAny, Criteria: criteriaDefinitions(n.Children)}
	}

	panic(fmt.Sprintf("unknown criterion %T", c))
}

func criteriaDefinitions(cs []Criterion) []CriterionDefinition {
	out := make([]CriterionDefinition, 0, len(cs))
	for _, c := range cs {
		out = append(out, criterionDefinition(c))
	}

	return out
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("missing pattern")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	return re, nil
}

func checkGroup(re *regexp.Regexp, group *int) (int, error) {
	if group == nil {
		return 0, nil
	}

	if *group < 0 || *group > re.NumSubexp() {
		return 0, fmt.Errorf("group %d out of range for pattern %q with %d groups",
			*group, re.String(), re.NumSubexp())
	}

	return *group, nil
}
