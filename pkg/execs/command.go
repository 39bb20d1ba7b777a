package execs

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
)

var (
	// ErrCommandExecution is returned when a command fails to start or
	// exits with a non-zero status.
	ErrCommandExecution = errors.New("run")

	// ErrEmptyCommand is returned for a command line with no arguments.
	ErrEmptyCommand = errors.New("empty command")
)

// InputPlaceholder is replaced by the path of the file being read.
const InputPlaceholder = "{input}"

// Command is a configured external command.
type Command struct {
	baseEnv map[string]string
	// Command is the command line, e.g. `pdftotext -layout {input} -`.
	Command string `json:"command" jsonschema:"title=Command,minLength=1"`
	// Env sets variables in the command's environment.
	Env []EnvVar `json:"env,omitempty" jsonschema:"title=Environment Variables"`
	// EnvFrom inherits variables from the caller's environment.
	EnvFrom []EnvFromSource `json:"envFrom,omitempty" jsonschema:"title=Environment Variables From"`
}

// NewCommand returns a [Command] for line that inherits from baseEnv,
// usually [os.Environ].
func NewCommand(line string, baseEnv []string) Command {
	c := Command{Command: line}
	c.SetBaseEnv(baseEnv)

	return c
}

// SetBaseEnv replaces the environment that variables are inherited from.
func (c *Command) SetBaseEnv(baseEnv []string) {
	c.baseEnv = parseEnv(baseEnv)
}

// Argv splits the command line into arguments and substitutes each `{name}`
// placeholder with vars[name]. Placeholders without a value are left as is.
// Substitution happens after splitting, so values never need quoting.
func (c *Command) Argv(vars map[string]string) ([]string, error) {
	args, err := shellwords.Parse(c.Command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", c.Command, err)
	}

	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	oldnew := make([]string, 0, 2*len(vars))
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		oldnew = append(oldnew, "{"+name+"}", vars[name])
	}

	sub := strings.NewReplacer(oldnew...)

	for i := range args {
		args[i] = sub.Replace(args[i])
	}

	return args, nil
}

// GetEnv returns the environment to run the command with, as KEY=value
// pairs sorted by key.
//
// Only [passthroughEnv] is inherited by default. EnvFrom adds to it, then
// Env is applied in order, so a ValueFrom can copy an inherited variable.
func (c *Command) GetEnv() []string {
	env := map[string]string{}

	for _, k := range passthroughEnv {
		if v, ok := c.baseEnv[k]; ok {
			env[k] = v
		}
	}

	for _, src := range c.EnvFrom {
		if src.CallerRef != nil {
			maps.Copy(env, src.CallerRef.selectFrom(c.baseEnv))
		}
	}

	for _, ev := range c.Env {
		switch {
		case ev.Name == "":
		case ev.Value != "":
			env[ev.Name] = ev.Value
		case ev.ValueFrom != nil && ev.ValueFrom.CallerRef != nil:
			if v, ok := env[ev.ValueFrom.CallerRef.Name]; ok {
				env[ev.Name] = v
			}
		}
	}

	return formatEnv(env)
}

// CompilePatterns compiles every [CallerRef] pattern of c.
func (c *Command) CompilePatterns() error {
	for i, ev := range c.Env {
		if ev.ValueFrom == nil || ev.ValueFrom.CallerRef == nil {
			continue
		}

		if err := ev.ValueFrom.CallerRef.Compile(); err != nil {
			return fmt.Errorf("env[%d]: %w", i, err)
		}
	}

	for i, src := range c.EnvFrom {
		if src.CallerRef == nil {
			continue
		}

		if err := src.CallerRef.Compile(); err != nil {
			return fmt.Errorf("envFrom[%d]: %w", i, err)
		}
	}

	return nil
}

func (c *Command) String() string {
	return c.Command
}
