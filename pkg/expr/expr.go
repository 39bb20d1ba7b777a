package expr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ErrNotString is returned when an expression does not evaluate to a string.
var ErrNotString = errors.New("expression did not evaluate to a string")

// cel-go environments are not safe for concurrent construction or
// compilation.
var celMu sync.Mutex

// Environment is a [*cel.Env] with the nominal function library, safe for
// concurrent use.
type Environment struct {
	env *cel.Env
}

// NewEnvironment creates an [Environment] with opts plus the nominal
// function library.
func NewEnvironment(opts ...cel.EnvOption) (*Environment, error) {
	celMu.Lock()
	defer celMu.Unlock()

	env, err := cel.NewEnv(append(opts, cel.Lib(&lib{}))...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &Environment{env: env}, nil
}

// MustNewEnvironment is like [NewEnvironment] but panics on error.
func MustNewEnvironment(opts ...cel.EnvOption) *Environment {
	env, err := NewEnvironment(opts...)
	if err != nil {
		panic(err)
	}

	return env
}

// Compile type checks expression and plans a program for it.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	prg, _, err := e.compile(expression)

	return prg, err
}

// CompileString is like [Environment.Compile], but also returns
// [ErrNotString] when the expression's type is known not to be a string.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) CompileString(expression string) (cel.Program, error) {
	prg, out, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	if !cel.StringType.IsExactType(out) && !cel.DynType.IsExactType(out) {
		return nil, fmt.Errorf("%w: type is %s", ErrNotString, out)
	}

	return prg, nil
}

//nolint:ireturn // Following CEL's function signature.
func (e *Environment) compile(expression string) (cel.Program, *cel.Type, error) {
	celMu.Lock()
	defer celMu.Unlock()

	checked, iss := e.env.Compile(expression)
	if iss.Err() != nil {
		return nil, nil, fmt.Errorf("compile expression: %w", iss.Err())
	}

	prg, err := e.env.Program(checked)
	if err != nil {
		return nil, nil, fmt.Errorf("create program: %w", err)
	}

	return prg, checked.OutputType(), nil
}

// EvalString evaluates program against vars and returns its string result.
func EvalString(program cel.Program, vars map[string]any) (string, error) {
	out, _, err := program.Eval(vars)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}

	s, ok := out.Value().(string)
	if !ok {
		return "", fmt.Errorf("%w: got %s", ErrNotString, out.Type().TypeName())
	}

	return s, nil
}
