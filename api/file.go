// Package api contains helpers shared by the versioned configuration types.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aaghdai/nominal/pkg/yaml"
)

// AppName names the directory configuration files are kept in.
const AppName = "nominal"

// GetConfigPath returns the path of filename in the user's configuration
// directory: $XDG_CONFIG_HOME/nominal, else ~/.config/nominal, else a
// directory under [os.TempDir].
func GetConfigPath(filename string) string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName, filename)
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".config", AppName, filename)
	}

	path := filepath.Join(os.TempDir(), AppName, filename)
	slog.Warn("no user config directory, using temp path",
		slog.String("path", path),
		slog.Any("error", err),
	)

	return path
}

// isFile reports whether path is an existing regular file. A missing path
// is not an error; a directory or any other file type is.
func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}

	if info.IsDir() {
		return false, fmt.Errorf("%s: path is a directory", path)
	}

	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%s: not a regular file", path)
	}

	return true, nil
}

// ReadFile reads the regular file at path. The returned error wraps
// [fs.ErrNotExist] when path does not exist.
func ReadFile(path string) ([]byte, error) {
	ok, err := isFile(path)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: Paths come from the user.
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// MarshalYAML encodes obj with the nominal YAML style.
func MarshalYAML(obj any) ([]byte, error) {
	var b bytes.Buffer

	enc := yaml.NewEncoder(&b)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}

	return b.Bytes(), nil
}

// FindConfigFile returns the first of fileNames found in start or its
// ancestors, nearest first. start may be a file, in which case the search
// begins in its directory. It returns an empty path when nothing is found.
func FindConfigFile(start string, fileNames []string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}

	if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if ok, err := isFile(path); err == nil && ok {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}

		dir = parent
	}
}

// WriteDefaultFile writes data to path, creating parent directories. An
// existing file is left alone, unless force is set, in which case it is
// renamed to a timestamped backup first. kind names the file in logs.
func WriteDefaultFile(path string, data []byte, force bool, kind string) error {
	exists, err := isFile(path)
	if err != nil {
		return err
	}

	logger := slog.With(slog.String("type", kind), slog.String("path", path))

	if exists && !force {
		logger.Debug("file exists, not replacing")

		return nil
	}

	if exists {
		backup := path + "." + strconv.FormatInt(time.Now().UnixNano(), 10) + ".old"
		logger.Info("backing up existing file", slog.String("backup", backup))

		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("back up %s file: %w", kind, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	logger.Info("writing default file")

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s file: %w", kind, err)
	}

	return nil
}
