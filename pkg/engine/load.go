package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaghdai/nominal/api"
	"github.com/aaghdai/nominal/pkg/rule"
	"github.com/aaghdai/nominal/pkg/yaml"
)

const (
	// GlobalDir holds global extraction rules.
	GlobalDir = "global"
	// FormsDir holds form classification rules.
	FormsDir = "forms"
	// GlobalVariablesFile lists the global variable names rules may declare.
	// It is not a rule file.
	GlobalVariablesFile = "global-variables.yaml"
)

// ErrRulesDirNotFound is returned when the rules directory does not exist.
var ErrRulesDirNotFound = errors.New("rules directory not found")

// Group is a rule group.
type Group string

const (
	GroupGlobal Group = "global"
	GroupForms  Group = "forms"
)

// LoadError is a rule file that could not be loaded. The file is excluded
// from the [RuleSet].
type LoadError struct {
	Err  error
	Path string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DefinitionFile is a parsed rule file.
type DefinitionFile struct {
	Definition *rule.Definition
	Path       string
	Group      Group
	Data       []byte
}

// RuleSet is an ordered, immutable collection of compiled rules.
type RuleSet struct {
	Global []*rule.Rule
	Forms  []*rule.Rule
}

// Len returns the total number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.Global) + len(rs.Forms)
}

// Rules returns the global rules followed by the form rules.
func (rs *RuleSet) Rules() []*rule.Rule {
	out := make([]*rule.Rule, 0, rs.Len())
	out = append(out, rs.Global...)
	out = append(out, rs.Forms...)

	return out
}

// Load reads and compiles every rule file under dir.
//
// When dir contains a [GlobalDir] or [FormsDir] subdirectory, rules are read
// from those. Otherwise every rule file directly in dir is a form rule.
// Within a group, files are loaded in lexical order of their names.
//
// Files that fail to parse or compile are returned as [*LoadError]s and
// skipped. Only a missing or unreadable dir is fatal.
func Load(dir string) (*RuleSet, []*LoadError, error) {
	files, loadErrs, err := ReadDefinitions(dir)
	if err != nil {
		return nil, nil, err
	}

	rs, compileErrs := Compile(files)

	return rs, append(loadErrs, compileErrs...), nil
}

// ReadDefinitions reads, schema validates, and parses the rule files under
// dir, without compiling them. See [Load] for the directory layout.
func ReadDefinitions(dir string) ([]DefinitionFile, []*LoadError, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrRulesDirNotFound, dir)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("stat rules directory: %w", err)
	}

	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s: not a directory", dir)
	}

	groups := []struct {
		dir   string
		group Group
	}{
		{filepath.Join(dir, GlobalDir), GroupGlobal},
		{filepath.Join(dir, FormsDir), GroupForms},
	}

	var (
		files    []DefinitionFile
		loadErrs []*LoadError
		layered  bool
	)

	for _, g := range groups {
		paths, err := listRuleFiles(g.dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, nil, err
		}

		layered = true

		f, errs := readFiles(paths, g.group)
		files = append(files, f...)
		loadErrs = append(loadErrs, errs...)
	}

	if !layered {
		paths, err := listRuleFiles(dir)
		if err != nil {
			return nil, nil, err
		}

		files, loadErrs = readFiles(paths, GroupForms)
	}

	return files, loadErrs, nil
}

// Compile compiles parsed definitions into a [RuleSet], preserving their
// order. Definitions that fail to compile are returned as [*LoadError]s.
func Compile(files []DefinitionFile) (*RuleSet, []*LoadError) {
	rs := &RuleSet{}

	var loadErrs []*LoadError

	for _, f := range files {
		r, err := rule.New(*f.Definition)
		if err != nil {
			loadErrs = append(loadErrs, &LoadError{Path: f.Path, Err: err})
			continue
		}

		switch f.Group {
		case GroupGlobal:
			rs.Global = append(rs.Global, r)
		default:
			rs.Forms = append(rs.Forms, r)
		}

		slog.Debug("loaded rule",
			slog.String("id", r.ID),
			slog.String("group", string(f.Group)),
			slog.String("path", f.Path),
		)
	}

	return rs, loadErrs
}

// ReadDefinitionFile reads, schema validates, and parses a single rule file.
func ReadDefinitionFile(path string) (*rule.Definition, []byte, error) {
	data, err := api.ReadFile(path)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // Return the original error.
	}

	ew := yaml.NewErrorWrapper(yaml.WithName(path), yaml.WithSource(data))

	err = rule.ValidateSchema(data)
	if err != nil {
		return nil, data, ew.Wrap(err)
	}

	def, err := rule.ParseDefinition(data)
	if err != nil {
		return nil, data, ew.Wrap(err)
	}

	return def, data, nil
}

func readFiles(paths []string, group Group) ([]DefinitionFile, []*LoadError) {
	var (
		files    []DefinitionFile
		loadErrs []*LoadError
	)

	for _, path := range paths {
		def, data, err := ReadDefinitionFile(path)
		if err != nil {
			loadErrs = append(loadErrs, &LoadError{Path: path, Err: err})
			continue
		}

		files = append(files, DefinitionFile{
			Definition: def,
			Path:       path,
			Group:      group,
			Data:       data,
		})
	}

	return files, loadErrs
}

// listRuleFiles returns the YAML files directly in dir, sorted by name.
func listRuleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules directory: %w", err)
	}

	var paths []string

	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == GlobalVariablesFile {
			continue
		}

		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	return paths, nil
}
