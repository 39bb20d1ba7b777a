package names

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default dictionary file names.
const (
	FirstNamesFile = "first_names.txt"
	LastNamesFile  = "last_names.txt"
)

// Dictionary holds immutable sets of uppercase first and last names.
type Dictionary struct {
	first map[string]struct{}
	last  map[string]struct{}
}

// NewDictionary creates a [Dictionary]. Names are uppercased and blank
// entries are skipped.
func NewDictionary(first, last []string) *Dictionary {
	return &Dictionary{
		first: toSet(first),
		last:  toSet(last),
	}
}

// IsFirstName reports whether name is a known first name.
func (d *Dictionary) IsFirstName(name string) bool {
	if d == nil {
		return false
	}

	_, ok := d.first[strings.ToUpper(name)]

	return ok
}

// IsLastName reports whether name is a known last name.
func (d *Dictionary) IsLastName(name string) bool {
	if d == nil {
		return false
	}

	_, ok := d.last[strings.ToUpper(name)]

	return ok
}

// Complete reports whether both name lists are non-empty.
func (d *Dictionary) Complete() bool {
	return d != nil && len(d.first) > 0 && len(d.last) > 0
}

// Len returns the number of first and last names.
func (d *Dictionary) Len() (first, last int) {
	if d == nil {
		return 0, 0
	}

	return len(d.first), len(d.last)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" {
			set[n] = struct{}{}
		}
	}

	return set
}

// Source loads name lists.
type Source interface {
	FirstNames() ([]string, error)
	LastNames() ([]string, error)
}

// DirSource reads name lists from a directory containing [FirstNamesFile]
// and [LastNamesFile], one name per line.
type DirSource struct {
	Dir string
}

// FirstNames reads [FirstNamesFile].
func (s DirSource) FirstNames() ([]string, error) {
	return readLines(filepath.Join(s.Dir, FirstNamesFile))
}

// LastNames reads [LastNamesFile].
func (s DirSource) LastNames() ([]string, error) {
	return readLines(filepath.Join(s.Dir, LastNamesFile))
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // Read only.

	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return lines, nil
}

// Lazy loads a [Dictionary] from a [Source] once, on first use.
// A list that cannot be loaded is treated as empty.
type Lazy struct {
	src  Source
	dict *Dictionary
	once sync.Once
}

// NewLazy creates a [Lazy] dictionary.
func NewLazy(src Source) *Lazy {
	return &Lazy{src: src}
}

// Dictionary returns the loaded [Dictionary], loading it if needed.
func (l *Lazy) Dictionary() *Dictionary {
	l.once.Do(func() {
		first := load("first", l.src.FirstNames)
		last := load("last", l.src.LastNames)

		l.dict = NewDictionary(first, last)

		nFirst, nLast := l.dict.Len()
		slog.Debug("loaded name dictionary",
			slog.Int("first_names", nFirst),
			slog.Int("last_names", nLast),
		)
	})

	return l.dict
}

func load(kind string, fn func() ([]string, error)) []string {
	names, err := fn()
	if err == nil {
		return names
	}

	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("name dictionary not found, name validation will score 0",
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	} else {
		slog.Error("load name dictionary",
			slog.String("kind", kind),
			slog.Any("error", err),
		)
	}

	return nil
}
