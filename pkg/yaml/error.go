package yaml

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"
	"github.com/goccy/go-yaml/printer"
	"github.com/goccy/go-yaml/token"
)

// Path locates a node in a YAML document.
type Path = yaml.Path

// NewPathBuilder returns a builder for [*Path] values.
func NewPathBuilder() *yaml.PathBuilder {
	return &yaml.PathBuilder{}
}

// Error is an error located in a YAML document. The location is either a
// Token or a Path resolved against Source when the message is rendered.
type Error struct {
	Err    error
	Path   *yaml.Path
	Token  *token.Token
	Source []byte
	// Name is the file the document was read from, if any.
	Name string
	// Color enables ANSI colors in the annotated source.
	Color bool
}

// ErrorOpt sets a field of an [Error].
type ErrorOpt func(e *Error)

func WithPath(path *yaml.Path) ErrorOpt { return func(e *Error) { e.Path = path } }
func WithToken(tk *token.Token) ErrorOpt { return func(e *Error) { e.Token = tk } }
func WithSource(source []byte) ErrorOpt { return func(e *Error) { e.Source = source } }
func WithName(name string) ErrorOpt { return func(e *Error) { e.Name = name } }
func WithColor(color bool) ErrorOpt { return func(e *Error) { e.Color = color } }

func (e *Error) apply(opts []ErrorOpt) *Error {
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func NewError(err error, opts ...ErrorOpt) *Error {
	return (&Error{Err: err}).apply(opts)
}

// ErrorWrapper holds options shared by every [*Error] a loader returns,
// typically the source document and its file name.
type ErrorWrapper struct {
	Opts []ErrorOpt
}

func NewErrorWrapper(opts ...ErrorOpt) *ErrorWrapper {
	return &ErrorWrapper{Opts: opts}
}

// Wrap applies the wrapper's options, then opts, to the [*Error] in err's
// chain. Errors without one pass through untouched.
func (ew *ErrorWrapper) Wrap(err error, opts ...ErrorOpt) error {
	var yamlErr *Error
	if !errors.As(err, &yamlErr) {
		return err
	}

	return yamlErr.apply(ew.Opts).apply(opts)
}

func (e Error) Error() string {
	if e.Err == nil {
		return ""
	}

	var prefix string
	if e.Name != "" {
		prefix = e.Name + ": "
	}

	if e.Path == nil && e.Token == nil {
		return prefix + e.Err.Error()
	}

	tk, err := e.locate()
	if err != nil {
		slog.Debug("could not annotate yaml error",
			slog.String("path", e.pathString()),
			slog.Any("error", err),
		)

		return fmt.Sprintf("%serror at %s: %v", prefix, e.pathString(), e.Err)
	}

	var pp printer.Printer

	return fmt.Sprintf("%s[%d:%d] %v\n%s",
		prefix, tk.Position.Line, tk.Position.Column, e.Err,
		pp.PrintErrorToken(tk, e.Color),
	)
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e Error) pathString() string {
	if e.Path == nil {
		return "$"
	}

	return e.Path.String()
}

// locate returns the token the error points at. A Path naming a mapping
// entry resolves to the entry's key rather than its value.
func (e Error) locate() (*token.Token, error) {
	if e.Token != nil {
		return e.Token, nil
	}

	if len(e.Source) == 0 {
		return nil, errors.New("empty source")
	}

	file, err := parser.ParseBytes(e.Source, 0)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}

	node, err := e.Path.FilterFile(file)
	if err != nil {
		return nil, fmt.Errorf("filter source by path: %w", err)
	}

	if tk := keyToken(file, e.Path.String()); tk != nil {
		return tk, nil
	}

	if tk := node.GetToken(); tk != nil {
		return tk, nil
	}

	return nil, errors.New("no token")
}

// keyToken finds the key of the mapping entry at path, or nil when the last
// segment is a sequence index or the root.
func keyToken(file *ast.File, path string) *token.Token {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 || dot < strings.LastIndexByte(path, '[') {
		return nil
	}

	parentPath, err := yaml.PathString(path[:dot])
	if err != nil {
		return nil
	}

	parent, err := parentPath.FilterFile(file)
	if err != nil {
		return nil
	}

	mapping, ok := parent.(*ast.MappingNode)
	if !ok {
		return nil
	}

	key := path[dot+1:]
	for _, kv := range mapping.Values {
		if kv.Key.String() == key {
			return kv.Key.GetToken()
		}
	}

	return nil
}
