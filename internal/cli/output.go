package cli

import (
	"fmt"
	"io"

	"github.com/aaghdai/nominal/api"
)

func writeYAML(w io.Writer, v any) error {
	b, err := api.MarshalYAML(v)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	_, err = w.Write(b)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
