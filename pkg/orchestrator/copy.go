package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// copyFile copies src to dst, preserving the permission bits and the
// modification time of src. An existing dst is replaced.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		err = errors.Join(err, in.Close())
	}()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		return errors.Join(fmt.Errorf("copy %s: %w", src, err), out.Close(), os.Remove(dst))
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	err = os.Chtimes(dst, info.ModTime(), info.ModTime())
	if err != nil {
		return fmt.Errorf("set modification time: %w", err)
	}

	return nil
}
