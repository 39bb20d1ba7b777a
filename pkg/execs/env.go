package execs

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// passthroughEnv are always inherited from the base environment, so that
// text extraction tools can find their binaries, data and locale.
var passthroughEnv = []string{"HOME", "LANG", "PATH", "TMPDIR", "USER"}

// EnvFromSource inherits a group of variables from the base environment.
type EnvFromSource struct {
	// CallerRef selects the variables to inherit.
	CallerRef *CallerRef `json:"callerRef,omitempty" jsonschema:"title=Caller Reference"`
}

// CallerRef selects variables of the base environment, by exact name or by
// a regular expression over names.
type CallerRef struct {
	re *regexp.Regexp

	// Pattern matches the names of the variables to inherit.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern,format=regex"`
	// Name is a single variable to inherit.
	Name string `json:"name,omitempty" jsonschema:"title=Name"`
}

// EnvVar sets one variable in the command's environment.
type EnvVar struct {
	// ValueFrom copies the value of another variable.
	ValueFrom *EnvVarSource `json:"valueFrom,omitempty" jsonschema:"title=Value From"`
	// Name is the variable to set.
	Name string `json:"name" jsonschema:"title=Name"`
	// Value is a literal value. It takes precedence over ValueFrom.
	Value string `json:"value,omitempty" jsonschema:"title=Value"`
}

// EnvVarSource names the variable an [EnvVar] copies its value from.
type EnvVarSource struct {
	// CallerRef.Name is the variable to copy.
	CallerRef *CallerRef `json:"callerRef,omitempty" jsonschema:"title=Caller Reference"`
}

// Compile compiles Pattern. It is a no-op when there is no pattern or it
// was already compiled.
func (c *CallerRef) Compile() error {
	if c.Pattern == "" || c.re != nil {
		return nil
	}

	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", c.Pattern, err)
	}

	c.re = re

	return nil
}

// selectFrom returns the variables of env that c refers to.
func (c *CallerRef) selectFrom(env map[string]string) map[string]string {
	out := map[string]string{}

	if c.re != nil {
		for k, v := range env {
			if c.re.MatchString(k) {
				out[k] = v
			}
		}
	}

	if v, ok := env[c.Name]; ok && c.Name != "" {
		out[c.Name] = v
	}

	return out
}

func parseEnv(env []string) map[string]string {
	m := make(map[string]string, len(env))

	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}

	return m
}

func formatEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, k+"="+m[k])
	}

	return out
}
