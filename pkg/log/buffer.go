package log

import (
	"fmt"
	"io"
	"sync"
)

// DefaultBufferSize is the number of entries kept by a [CircularBuffer]
// created with a non-positive capacity.
const DefaultBufferSize = 256

// CircularBuffer keeps the most recent writes, one entry per Write. Pair it
// with a handler to serve recent log lines. It is safe for concurrent use.
type CircularBuffer struct {
	entries [][]byte
	start   int
	n       int
	dropped int
	mu      sync.Mutex
}

// NewCircularBuffer creates a [CircularBuffer] holding up to capacity
// entries.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}

	return &CircularBuffer{entries: make([][]byte, capacity)}
}

// Write stores a copy of p as a new entry, evicting the oldest entry when
// the buffer is full.
func (cb *CircularBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	entry := append([]byte(nil), p...)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.n < len(cb.entries) {
		cb.entries[(cb.start+cb.n)%len(cb.entries)] = entry
		cb.n++

		return len(p), nil
	}

	cb.entries[cb.start] = entry
	cb.start = (cb.start + 1) % len(cb.entries)
	cb.dropped++

	return len(p), nil
}

// Entries returns copies of the stored entries, oldest first.
func (cb *CircularBuffer) Entries() [][]byte {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.n == 0 {
		return nil
	}

	out := make([][]byte, cb.n)
	for i := range cb.n {
		out[i] = append([]byte(nil), cb.entries[(cb.start+i)%len(cb.entries)]...)
	}

	return out
}

// Len returns the number of stored entries.
func (cb *CircularBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.n
}

// Cap returns the maximum number of entries.
func (cb *CircularBuffer) Cap() int {
	return len(cb.entries)
}

// Dropped returns how many entries have been evicted.
func (cb *CircularBuffer) Dropped() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.dropped
}

// Reset removes every entry.
func (cb *CircularBuffer) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	clear(cb.entries)
	cb.start, cb.n, cb.dropped = 0, 0, 0
}

// WriteTo writes the stored entries to w, oldest first.
func (cb *CircularBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, entry := range cb.Entries() {
		n, err := w.Write(entry)
		total += int64(n)

		if err != nil {
			return total, fmt.Errorf("write entry: %w", err)
		}
	}

	return total, nil
}
