package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/aaghdai/nominal/api"
	"github.com/aaghdai/nominal/api/v1beta1"
	"github.com/aaghdai/nominal/pkg/yaml"
)

// Validator checks a generically decoded document, usually against a JSON
// schema.
type Validator interface {
	Validate(data any) error
}

// Validatable is implemented by configuration types with constraints the
// schema cannot express.
type Validatable interface {
	Validate() error
}

// LoaderOpt configures a [Loader].
type LoaderOpt func(*settings)

type settings struct {
	validator Validator
	name      string
	color     bool
}

// WithValidator replaces the default validator. A nil validator disables
// schema validation.
func WithValidator(v Validator) LoaderOpt {
	return func(s *settings) { s.validator = v }
}

// WithName sets the file name shown in errors.
func WithName(name string) LoaderOpt {
	return func(s *settings) { s.name = name }
}

// WithColor enables ANSI colors in the source excerpts of errors.
func WithColor(color bool) LoaderOpt {
	return func(s *settings) { s.color = color }
}

// Loader reads one configuration document of type T.
type Loader[T v1beta1.Object] struct {
	validator Validator
	newFunc   func() T
	errs      *yaml.ErrorWrapper
	data      []byte
}

// NewLoaderFromBytes returns a [Loader] for data. newFunc returns a T with
// default values, which the document is decoded over.
func NewLoaderFromBytes[T v1beta1.Object](
	data []byte,
	newFunc func() T,
	validator Validator,
	opts ...LoaderOpt,
) *Loader[T] {
	s := settings{validator: validator}
	for _, opt := range opts {
		opt(&s)
	}

	errs := yaml.NewErrorWrapper(
		yaml.WithSource(data),
		yaml.WithName(s.name),
		yaml.WithColor(s.color),
	)

	return &Loader[T]{
		data:      data,
		newFunc:   newFunc,
		validator: s.validator,
		errs:      errs,
	}
}

// NewLoaderFromFile is like [NewLoaderFromBytes] for the file at path.
// Errors are prefixed with path unless [WithName] is given.
func NewLoaderFromFile[T v1beta1.Object](
	path string,
	newFunc func() T,
	validator Validator,
	opts ...LoaderOpt,
) (*Loader[T], error) {
	data, err := api.ReadFile(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // Return the original error.
	}

	return NewLoaderFromBytes(data, newFunc, validator, append([]LoaderOpt{WithName(path)}, opts...)...), nil
}

// decode decodes the document into v. An empty document leaves v as is
// and reports false.
func (l *Loader[T]) decode(v any) (bool, error) {
	err := yaml.NewDecoder(bytes.NewReader(l.data)).Decode(v)
	if errors.Is(err, io.EOF) {
		return false, nil
	}

	if err != nil {
		return false, l.errs.Wrap(err)
	}

	return true, nil
}

// Validate checks the document against the validator. An empty document
// is valid.
func (l *Loader[T]) Validate() error {
	var doc any

	found, err := l.decode(&doc)
	if err != nil || !found || l.validator == nil {
		return err
	}

	return l.errs.Wrap(l.validator.Validate(doc))
}

// Load decodes the document over newFunc's defaults, fills in anything
// still unset, and runs [Validatable.Validate] when T implements it.
//
//nolint:ireturn // Generic type parameter return is intentional.
func (l *Loader[T]) Load() (T, error) {
	cfg := l.newFunc()

	if _, err := l.decode(cfg); err != nil {
		var zero T

		return zero, err
	}

	cfg.EnsureDefaults()

	v, ok := any(cfg).(Validatable)
	if !ok {
		return cfg, nil
	}

	if err := v.Validate(); err != nil {
		var zero T

		return zero, fmt.Errorf("invalid configuration: %w", l.errs.Wrap(err))
	}

	return cfg, nil
}
