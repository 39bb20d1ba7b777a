// Package yaml wraps [github.com/goccy/go-yaml] with the decoding and
// encoding options used for rule and configuration files, and with errors
// that point back into the source document.
package yaml

import (
	"errors"
	"io"

	"github.com/goccy/go-yaml"
)

// Decoder reads YAML documents.
type Decoder struct {
	d *yaml.Decoder
}

// NewDecoder returns a [Decoder] reading from r.
func NewDecoder(r io.Reader, opts ...yaml.DecodeOption) *Decoder {
	opts = append([]yaml.DecodeOption{yaml.AllowDuplicateMapKey()}, opts...)

	return &Decoder{
		d: yaml.NewDecoder(r, opts...),
	}
}

// Decode reads the next document into v. Syntax and type errors are
// returned as [*Error], carrying the offending token.
func (d *Decoder) Decode(v any) error {
	err := d.d.Decode(v)
	if err == nil {
		return nil
	}

	var yamlErr yaml.Error
	if errors.As(err, &yamlErr) {
		return &Error{
			Err:   errors.New(yamlErr.GetMessage()),
			Token: yamlErr.GetToken(),
		}
	}

	//nolint:wrapcheck // Return the original error if it's not a [yaml.Error].
	return err
}
