package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/aaghdai/nominal/pkg/rule"
)

// PreviewLength is the number of characters of an unmatched document kept
// in its [Unmatched] record.
const PreviewLength = 200

// Conflict is a global variable that a document set to a different value
// than the one already recorded for the batch.
type Conflict struct {
	Name       string `json:"name"`
	Existing   string `json:"existing"`
	Incoming   string `json:"incoming"`
	DocumentID string `json:"documentId"`
	// Source is the document that set Existing.
	Source string `json:"source"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %q (from %s) vs %q (from %s)", c.Name, c.Existing, c.Source, c.Incoming, c.DocumentID)
}

// BatchState holds the global variables of a batch. The first value merged
// for a name is kept. It is safe for concurrent use.
type BatchState struct {
	vars    rule.Variables
	sources map[string]string
	mu      sync.Mutex
}

// NewBatchState creates an empty [BatchState].
func NewBatchState() *BatchState {
	return &BatchState{
		vars:    rule.Variables{},
		sources: map[string]string{},
	}
}

// Merge merges the global variables of document docID. Names that are
// already set keep their value; each differing value is returned as a
// [Conflict], ordered by name.
func (s *BatchState) Merge(docID string, globals rule.Variables) []Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflicts []Conflict

	for _, name := range globals.Names() {
		v := globals[name]

		existing, ok := s.vars[name]
		if !ok {
			s.vars[name] = v
			s.sources[name] = docID

			continue
		}

		if existing != v {
			conflicts = append(conflicts, Conflict{
				Name:       name,
				Existing:   existing,
				Incoming:   v,
				DocumentID: docID,
				Source:     s.sources[name],
			})
		}
	}

	return conflicts
}

// Variables returns a copy of the merged variables.
func (s *BatchState) Variables() rule.Variables {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.vars.Clone()
}

// Unmatched is a document that matched no form rule.
type Unmatched struct {
	// Extracted holds the values global rules extracted from the document.
	Extracted  rule.Variables `json:"extracted,omitempty"`
	DocumentID string         `json:"documentId"`
	Preview    string         `json:"preview"`
}

// Batch processes a sequence of documents against a shared [BatchState].
// It is safe for concurrent use.
type Batch struct {
	processor *Processor
	state     *BatchState
	unmatched []Unmatched
	count     int
	mu        sync.Mutex
}

// NewBatch starts a batch with an empty [BatchState].
func (p *Processor) NewBatch() *Batch {
	return &Batch{
		processor: p,
		state:     NewBatchState(),
	}
}

// Process classifies doc and merges its global variables into the batch
// state. Merge conflicts are added to the returned [Diagnostics]. Unmatched
// documents are recorded and nil is returned.
//
// A document without an ID is named after its position in the batch, e.g.
// "doc_3".
func (b *Batch) Process(ctx context.Context, doc Document) (*Result, Diagnostics) {
	b.mu.Lock()
	b.count++
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc_%d", b.count)
	}
	b.mu.Unlock()

	globals, res, diags := b.processor.process(ctx, doc)
	if res == nil {
		b.mu.Lock()
		b.unmatched = append(b.unmatched, Unmatched{
			DocumentID: doc.ID,
			Preview:    Preview(doc.Text),
			Extracted:  globals,
		})
		b.mu.Unlock()

		return nil, diags
	}

	diags.Conflicts = append(diags.Conflicts, b.state.Merge(doc.ID, res.Global)...)

	return res, diags
}

// State returns the batch's global variable state.
func (b *Batch) State() *BatchState {
	return b.state
}

// Unmatched returns the documents that matched no form rule, in the order
// they were processed.
func (b *Batch) Unmatched() []Unmatched {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.unmatched)
}

// Preview returns the first [PreviewLength] characters of text, with an
// ellipsis when text is longer.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}

	return string([]rune(text)[:PreviewLength]) + "..."
}
