package planner

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Reservations tracks the output paths handed out during a run, so that two
// documents planned to the same name get distinct paths even before either
// file is written. It is safe for concurrent use.
type Reservations struct {
	taken map[string]struct{}
	mu    sync.Mutex
}

// NewReservations creates an empty [Reservations].
func NewReservations() *Reservations {
	return &Reservations{taken: map[string]struct{}{}}
}

// Resolve returns the first free path among dir/stem+ext, dir/stem_1+ext,
// dir/stem_2+ext, and so on, and reserves it. A path is free when exists
// reports false for it and it is not already reserved. A nil exists uses
// [FileExists].
func (r *Reservations) Resolve(dir, stem, ext string, exists func(path string) bool) string {
	if exists == nil {
		exists = FileExists
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(dir, stem+ext)
	for i := 1; r.isTaken(path, exists); i++ {
		path = filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
	}

	r.taken[path] = struct{}{}

	return path
}

// Reserve is like Resolve for a bare name that is never written to disk. The
// first request for stem gets stem, later ones get stem_1, stem_2 and so on.
func (r *Reservations) Reserve(stem string) string {
	return r.Resolve("", stem, "", func(string) bool { return false })
}

// Release removes a reservation, e.g. after the copy to path failed.
func (r *Reservations) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.taken, path)
}

func (r *Reservations) isTaken(path string, exists func(string) bool) bool {
	if _, ok := r.taken[path]; ok {
		return true
	}

	return exists(path)
}

// Resolve returns the first free path for stem in dir, without tracking
// reservations. See [Reservations.Resolve].
func Resolve(dir, stem, ext string, exists func(path string) bool) string {
	return NewReservations().Resolve(dir, stem, ext, exists)
}

// FileExists reports whether anything exists at path.
func FileExists(path string) bool {
	_, err := os.Lstat(path)

	return !errors.Is(err, fs.ErrNotExist)
}
