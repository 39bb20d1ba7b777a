package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/cel-go/cel"

	"github.com/aaghdai/nominal/pkg/expr"
	"github.com/aaghdai/nominal/pkg/rule"
)

// Unknown is substituted for missing or unusable values.
const Unknown = "UNKNOWN"

// Func computes a derived variable from the variables of a document.
type Func func(vars rule.Variables) (string, error)

// Derivation is a named [Func]. Its result is stored under Name,
// overwriting any extracted value.
type Derivation struct {
	Func Func
	Name string
}

// Builtins returns the built-in derivations, in the order they run.
// now is used for the YEAR fallback; when nil, [time.Now] is used.
func Builtins(now func() time.Time) []Derivation {
	if now == nil {
		now = time.Now
	}

	return []Derivation{
		{Name: "LAST_NAME", Func: lastName},
		{Name: "FIRST_NAME", Func: firstName},
		{Name: "FULL_TIN", Func: fullTIN},
		{Name: "NAME_TIN_COMBO", Func: nameTINCombo},
		{Name: "YEAR", Func: func(vars rule.Variables) (string, error) {
			return documentYear(vars, now), nil
		}},
	}
}

func nameToken(vars rule.Variables, name string, last bool) string {
	parts := strings.Fields(vars["FULL_NAME"])
	if len(parts) == 0 {
		if v := vars[name]; v != "" {
			return v
		}

		return Unknown
	}

	if last {
		return parts[len(parts)-1]
	}

	return parts[0]
}

func lastName(vars rule.Variables) (string, error) {
	return nameToken(vars, "LAST_NAME", true), nil
}

func firstName(vars rule.Variables) (string, error) {
	return nameToken(vars, "FIRST_NAME", false), nil
}

// fullTIN formats the first of SSN, EIN and TIN that is set as XXX-XX-XXXX.
func fullTIN(vars rule.Variables) (string, error) {
	var tin string
	for _, name := range []string{"SSN", "EIN", "TIN"} {
		if v := vars[name]; v != "" {
			tin = v
			break
		}
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}

		return -1
	}, tin)

	if len(digits) != 9 {
		return Unknown, nil
	}

	return digits[:3] + "-" + digits[3:5] + "-" + digits[5:], nil
}

func nameTINCombo(vars rule.Variables) (string, error) {
	last := nameToken(vars, "LAST_NAME", true)

	four := vars["TIN_LAST_FOUR"]
	if four == "" {
		four = "XXXX"
	}

	return last + "_" + four, nil
}

func documentYear(vars rule.Variables, now func() time.Time) string {
	v := vars["TAX_YEAR"]
	if v == "" {
		v = vars["YEAR"]
	}

	if r := []rune(v); len(r) >= 4 {
		return string(r[:4])
	}

	return strconv.Itoa(now().Year())
}

// NewEnvironment creates the CEL environment for derivation expressions.
// Expressions see the document's variables as `vars`, a map<string, string>.
func NewEnvironment() (*expr.Environment, error) {
	env, err := expr.NewEnvironment(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create derivation environment: %w", err)
	}

	return env, nil
}

// CompileDerivation compiles a CEL expression into a [Derivation].
func CompileDerivation(env *expr.Environment, name, expression string) (Derivation, error) {
	prg, err := env.CompileString(expression)
	if err != nil {
		return Derivation{}, fmt.Errorf("derivation %q: %w", name, err)
	}

	return Derivation{
		Name: name,
		Func: func(vars rule.Variables) (string, error) {
			return expr.EvalString(prg, map[string]any{"vars": map[string]string(vars)})
		},
	}, nil
}
