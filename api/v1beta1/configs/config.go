// Package configs provides the Configuration type for nominal.
package configs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/invopop/jsonschema"

	_ "embed"

	"github.com/aaghdai/nominal/api"
	"github.com/aaghdai/nominal/api/v1beta1"
	"github.com/aaghdai/nominal/pkg/execs"
	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/reader"
	"github.com/aaghdai/nominal/pkg/yaml"
)

//go:generate go run ../../../internal/schemagen -root ../../.. -type config -o configs.v1beta1.json

const (
	// Kind is the kind of [Config] documents.
	Kind = "Configuration"
	// FileName is the name of the configuration file.
	FileName = "nominal.yaml"

	DefaultRulesDir        = "rules"
	DefaultNamesDir        = "data"
	DefaultDocumentTimeout = 2 * time.Minute
	DefaultWatchSettle     = 500 * time.Millisecond
	DefaultServerAddress   = "localhost:8080"
)

var (
	//go:embed config.yaml
	defaultConfigYAML []byte

	//go:embed configs.v1beta1.json
	schemaJSON []byte

	// FileNames are the names a configuration file is found by, in order of
	// preference.
	FileNames = []string{FileName, "." + FileName}

	// ValidKinds contains the valid kind values for configurations.
	ValidKinds = []string{Kind}

	// DefaultValidator validates configuration against the JSON schema.
	DefaultValidator = yaml.MustNewValidator("/configs.v1beta1.json", schemaJSON)

	// ErrInvalidDuration is returned for durations that cannot be parsed.
	ErrInvalidDuration = errors.New("invalid duration")

	// Compile-time interface checks.
	_ v1beta1.Object = (*Config)(nil)
)

// Config represents the nominal configuration.
//
//nolint:recvcheck // Must satisfy the jsonschema interface.
type Config struct {
	// Rules configures where rules are loaded from.
	Rules *RulesConfig `json:"rules,omitempty" jsonschema:"title=Rules"`
	// Names configures the name dictionaries used by validated name extraction.
	Names *NamesConfig `json:"names,omitempty" jsonschema:"title=Names"`
	// Reader configures text extraction.
	Reader *ReaderConfig `json:"reader,omitempty" jsonschema:"title=Reader"`
	// Output configures how classified documents are named.
	Output *OutputConfig `json:"output,omitempty" jsonschema:"title=Output"`
	// Process configures directory runs.
	Process *ProcessConfig `json:"process,omitempty" jsonschema:"title=Process"`
	// Server configures the HTTP and MCP servers.
	Server *ServerConfig `json:"server,omitempty" jsonschema:"title=Server"`
	// Derivations are computed after a document matches, in order. Each one
	// can read the results of the ones before it.
	Derivations      []Derivation `json:"derivations,omitempty" jsonschema:"title=Derivations"`
	v1beta1.TypeMeta `json:",inline"`
}

// RulesConfig configures rule loading.
type RulesConfig struct {
	// Dir is the rules directory. It holds `global/` and `forms/`
	// subdirectories, or form rules directly.
	Dir string `json:"dir,omitempty" jsonschema:"title=Directory"`
}

// NamesConfig configures the name dictionaries.
type NamesConfig struct {
	// Dir holds `first_names.txt` and `last_names.txt`.
	Dir string `json:"dir,omitempty" jsonschema:"title=Directory"`
}

// ReaderConfig configures text extraction.
type ReaderConfig struct {
	// PDF prints the text layer of the PDF at `{input}`.
	PDF *execs.Command `json:"pdf,omitempty" jsonschema:"title=PDF Command"`
	// OCR prints OCR text for the PDF at `{input}`.
	OCR *execs.Command `json:"ocr,omitempty" jsonschema:"title=OCR Command"`
	// MinTextLength is the text layer length below which OCR is attempted.
	MinTextLength *int `json:"minTextLength,omitempty" jsonschema:"title=Minimum Text Length,minimum=0"`
	// DisableOCR turns off the OCR fallback.
	DisableOCR bool `json:"disableOcr,omitempty" jsonschema:"title=Disable OCR"`
}

// OutputConfig configures document naming.
type OutputConfig struct {
	// Pattern is the filename pattern, with `{VARIABLE}` placeholders.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern"`
}

// ProcessConfig configures directory runs.
type ProcessConfig struct {
	// DocumentTimeout bounds reading and classifying a single document.
	DocumentTimeout string `json:"documentTimeout,omitempty" jsonschema:"title=Document Timeout,pattern=^([0-9.]+(ns|us|ms|s|m|h))+$"`
	// WatchSettle is how long a file must be unchanged before it is
	// processed in watch mode.
	WatchSettle string `json:"watchSettle,omitempty" jsonschema:"title=Watch Settle,pattern=^([0-9.]+(ns|us|ms|s|m|h))+$"`
}

// ServerConfig configures the servers started by `nominal serve`.
type ServerConfig struct {
	// Address is the HTTP API listen address.
	Address string `json:"address,omitempty" jsonschema:"title=Address"`
	// Metrics enables the Prometheus /metrics endpoint.
	Metrics *bool `json:"metrics,omitempty" jsonschema:"title=Metrics"`
}

// Derivation is a variable computed with a CEL expression over `vars`.
type Derivation struct {
	// Name is the variable the result is stored in.
	Name string `json:"name" jsonschema:"title=Name,minLength=1"`
	// Expression is a CEL expression returning a string.
	Expression string `json:"expression" jsonschema:"title=Expression,minLength=1"`
}

// New creates a new [Config] with default values.
func New() *Config {
	c := &Config{
		TypeMeta: v1beta1.TypeMeta{
			APIVersion: v1beta1.APIVersion,
			Kind:       Kind,
		},
	}
	c.EnsureDefaults()

	return c
}

// EnsureDefaults initializes nil fields to their default values.
func (c *Config) EnsureDefaults() {
	if c.Rules == nil {
		c.Rules = &RulesConfig{}
	}

	if c.Rules.Dir == "" {
		c.Rules.Dir = DefaultRulesDir
	}

	if c.Names == nil {
		c.Names = &NamesConfig{}
	}

	if c.Names.Dir == "" {
		c.Names.Dir = DefaultNamesDir
	}

	if c.Reader == nil {
		c.Reader = &ReaderConfig{}
	}

	c.Reader.EnsureDefaults()

	if c.Output == nil {
		c.Output = &OutputConfig{}
	}

	if c.Output.Pattern == "" {
		c.Output.Pattern = planner.DefaultPattern
	}

	if c.Process == nil {
		c.Process = &ProcessConfig{}
	}

	if c.Process.DocumentTimeout == "" {
		c.Process.DocumentTimeout = DefaultDocumentTimeout.String()
	}

	if c.Process.WatchSettle == "" {
		c.Process.WatchSettle = DefaultWatchSettle.String()
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}

	if c.Server.Metrics == nil {
		enabled := true
		c.Server.Metrics = &enabled
	}
}

// EnsureDefaults initializes nil fields to their default values.
func (rc *ReaderConfig) EnsureDefaults() {
	if rc.PDF == nil {
		rc.PDF = &execs.Command{Command: reader.DefaultPDFCommand}
	}

	if rc.OCR == nil {
		rc.OCR = &execs.Command{Command: reader.DefaultOCRCommand}
	}

	if rc.MinTextLength == nil {
		n := reader.DefaultMinTextLength
		rc.MinTextLength = &n
	}
}

// Validate checks the constraints the schema cannot express.
func (c *Config) Validate() error {
	_, err := c.Process.Timeout()
	if err != nil {
		return fmt.Errorf("process.documentTimeout: %w", err)
	}

	_, err = c.Process.Settle()
	if err != nil {
		return fmt.Errorf("process.watchSettle: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Derivations))
	for i, d := range c.Derivations {
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("derivations[%d]: duplicate name %q", i, d.Name)
		}

		seen[d.Name] = struct{}{}
	}

	err = c.Reader.PDF.CompilePatterns()
	if err != nil {
		return fmt.Errorf("reader.pdf: %w", err)
	}

	err = c.Reader.OCR.CompilePatterns()
	if err != nil {
		return fmt.Errorf("reader.ocr: %w", err)
	}

	return nil
}

// Timeout returns the parsed document timeout.
func (pc *ProcessConfig) Timeout() (time.Duration, error) {
	return parseDuration(pc.DocumentTimeout)
}

// Settle returns the parsed watch settle duration.
func (pc *ProcessConfig) Settle() (time.Duration, error) {
	return parseDuration(pc.WatchSettle)
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidDuration, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidDuration, s)
	}

	return d, nil
}

// NewReader creates the configured [reader.CommandReader]. Commands inherit
// variables from env, usually [os.Environ].
func (rc *ReaderConfig) NewReader(env []string) (*reader.CommandReader, error) {
	pdf := *rc.PDF
	pdf.SetBaseEnv(env)

	err := pdf.CompilePatterns()
	if err != nil {
		return nil, fmt.Errorf("pdf command: %w", err)
	}

	opts := []reader.Opt{
		reader.WithPDFCommand(pdf),
		reader.WithMinTextLength(*rc.MinTextLength),
	}

	if rc.DisableOCR {
		opts = append(opts, reader.WithOCRCommand(nil))
	} else {
		ocr := *rc.OCR
		ocr.SetBaseEnv(env)

		err = ocr.CompilePatterns()
		if err != nil {
			return nil, fmt.Errorf("ocr command: %w", err)
		}

		opts = append(opts, reader.WithOCRCommand(&ocr))
	}

	return reader.New(opts...), nil
}

// NewPlanner creates a [planner.Planner] for the configured pattern. The
// built-in derivations run first, followed by the configured ones. now is
// the clock used by the built-ins.
func (c *Config) NewPlanner(now func() time.Time) (*planner.Planner, error) {
	derivations := planner.Builtins(now)

	if len(c.Derivations) > 0 {
		env, err := planner.NewEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create expression environment: %w", err)
		}

		for i, d := range c.Derivations {
			compiled, err := planner.CompileDerivation(env, d.Name, d.Expression)
			if err != nil {
				return nil, fmt.Errorf("derivations[%d]: %w", i, err)
			}

			derivations = append(derivations, compiled)
		}
	}

	p, err := planner.New(c.Output.Pattern, planner.WithDerivations(derivations...))
	if err != nil {
		return nil, fmt.Errorf("output.pattern: %w", err)
	}

	return p, nil
}

func (c Config) JSONSchemaExtend(jss *jsonschema.Schema) {
	v1beta1.ExtendSchemaWithEnums(jss, v1beta1.ValidAPIVersions, ValidKinds)
}

// MarshalYAML serializes the config to YAML.
func (c Config) MarshalYAML() ([]byte, error) {
	type alias Config

	b, err := api.MarshalYAML(alias(c))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return b, nil
}

// DefaultYAML returns the embedded default configuration file.
func DefaultYAML() []byte {
	return defaultConfigYAML
}

// Schema returns the JSON schema for configuration files.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

// Overrides replace whole sections of the default configuration file.
type Overrides struct {
	Rules  *RulesConfig  `json:"rules,omitempty"`
	Names  *NamesConfig  `json:"names,omitempty"`
	Output *OutputConfig `json:"output,omitempty"`
}

func (o *Overrides) empty() bool {
	return o == nil || o.Rules == nil && o.Names == nil && o.Output == nil
}

// RenderDefault returns the default configuration file with o applied.
// Comments outside the replaced sections are kept.
func RenderDefault(o *Overrides) ([]byte, error) {
	if o.empty() {
		return bytes.Clone(defaultConfigYAML), nil
	}

	b, err := yaml.MergeRootFromValue(defaultConfigYAML, o)
	if err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}

	return b, nil
}

// WriteDefault writes the default configuration, with o applied, to path.
func WriteDefault(path string, force bool, o *Overrides) error {
	data, err := RenderDefault(o)
	if err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	err = api.WriteDefaultFile(path, data, force, "configuration")
	if err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	return nil
}

// GetPath returns the path to the user's configuration file.
func GetPath() string {
	return api.GetConfigPath(FileName)
}

// Find returns the configuration file for dir: the nearest [FileNames]
// match in dir or its parents, else the user's configuration file if it
// exists. It returns an empty string when there is none.
func Find(dir string) (string, error) {
	path, err := api.FindConfigFile(dir, FileNames)
	if err != nil {
		return "", fmt.Errorf("find config file: %w", err)
	}

	if path != "" {
		return path, nil
	}

	userPath := GetPath()

	_, err = os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}

	return "", nil
}
