package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/metrics"
	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/reader"
)

// UnmatchedDir is the output subdirectory for documents that were not
// renamed.
const UnmatchedDir = "unmatched"

// ErrInputDirNotFound is returned when the input directory does not exist.
var ErrInputDirNotFound = errors.New("input directory not found")

// Outcome is the result category of a processed file.
type Outcome string

const (
	OutcomeMatched   Outcome = metrics.OutcomeMatched
	OutcomeUnmatched Outcome = metrics.OutcomeUnmatched
	OutcomeError     Outcome = metrics.OutcomeError
)

// FileResult describes what happened to a single input file.
type FileResult struct {
	Err         error         `json:"-"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Outcome     Outcome       `json:"outcome"`
	RuleID      string        `json:"ruleId,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Size        int64         `json:"size"`
}

// Stats summarizes a [Run].
type Stats struct {
	Total     int   `json:"total"`
	Matched   int   `json:"matched"`
	Unmatched int   `json:"unmatched"`
	Errors    int   `json:"errors"`
	Conflicts int   `json:"conflicts"`
	Bytes     int64 `json:"bytes"`
}

// Orchestrator processes files with a [*engine.Processor].
// It is safe for concurrent use.
type Orchestrator struct {
	tracer          trace.Tracer
	processor       *engine.Processor
	reader          reader.Reader
	planner         *planner.Planner
	metrics         *metrics.Metrics
	observe         func(FileResult)
	documentTimeout time.Duration
}

// Opt configures an [Orchestrator].
type Opt func(*Orchestrator)

// WithReader sets the text reader. Defaults to [reader.New].
func WithReader(r reader.Reader) Opt {
	return func(o *Orchestrator) {
		o.reader = r
	}
}

// WithPlanner sets the filename planner. Defaults to a planner for
// [planner.DefaultPattern] with the built-in derivations.
func WithPlanner(p *planner.Planner) Opt {
	return func(o *Orchestrator) {
		o.planner = p
	}
}

// WithMetrics records processing metrics in m.
func WithMetrics(m *metrics.Metrics) Opt {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithDocumentTimeout bounds the time spent on each document. Zero means no
// limit.
func WithDocumentTimeout(d time.Duration) Opt {
	return func(o *Orchestrator) {
		o.documentTimeout = d
	}
}

// WithObserver calls fn with the result of every processed file.
func WithObserver(fn func(FileResult)) Opt {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// New creates an [Orchestrator]. It fails when the planner's pattern
// references variables that neither the rules nor the derivations provide.
func New(p *engine.Processor, opts ...Opt) (*Orchestrator, error) {
	o := &Orchestrator{
		tracer:    otel.Tracer("orchestrator"),
		processor: p,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.reader == nil {
		o.reader = reader.New()
	}

	if o.planner == nil {
		pl, err := planner.New(planner.DefaultPattern, planner.WithDerivations(planner.Builtins(nil)...))
		if err != nil {
			return nil, fmt.Errorf("create planner: %w", err)
		}

		o.planner = pl
	}

	err := o.planner.Validate(p.DeclaredVariables())
	if err != nil {
		return nil, err //nolint:wrapcheck // Return the original error.
	}

	o.metrics.SetRulesLoaded(len(p.Rules().Global), len(p.Rules().Forms))

	return o, nil
}

// Run is a single processing run into one output directory. Documents of a
// run share global variable state and filename reservations.
type Run struct {
	started      time.Time
	orchestrator *Orchestrator
	batch        *engine.Batch
	reservations *planner.Reservations
	outputDir    string
	results      []FileResult
	stats        Stats
	ID           uuid.UUID
	mu           sync.Mutex
}

// NewRun starts a run writing to outputDir, creating it and its
// [UnmatchedDir] when missing.
func (o *Orchestrator) NewRun(outputDir string) (*Run, error) {
	err := os.MkdirAll(filepath.Join(outputDir, UnmatchedDir), 0o750)
	if err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Run{
		ID:           uuid.New(),
		started:      time.Now(),
		orchestrator: o,
		batch:        o.processor.NewBatch(),
		reservations: planner.NewReservations(),
		outputDir:    outputDir,
	}, nil
}

// ProcessDirectory processes every supported file directly in inputDir, in
// lexical order, and returns the completed run.
func (o *Orchestrator) ProcessDirectory(ctx context.Context, inputDir, outputDir string) (*Run, error) {
	paths, err := ListInputs(inputDir)
	if err != nil {
		return nil, err
	}

	run, err := o.NewRun(outputDir)
	if err != nil {
		return nil, err
	}

	logger := log.WithContext(ctx).With(slog.String("run", run.ID.String()))
	logger.InfoContext(ctx, "processing directory",
		slog.String("input", inputDir),
		slog.String("output", outputDir),
		slog.Int("files", len(paths)),
	)

	for _, path := range paths {
		if ctx.Err() != nil {
			return run, fmt.Errorf("process directory: %w", context.Cause(ctx))
		}

		run.ProcessFile(ctx, path)
	}

	stats := run.Stats()
	logger.InfoContext(ctx, "processing complete",
		slog.Int("matched", stats.Matched),
		slog.Int("unmatched", stats.Unmatched),
		slog.Int("errors", stats.Errors),
	)

	return run, nil
}

// ListInputs returns the supported files directly in dir, sorted by name.
func ListInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInputDirNotFound, dir)
	}

	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var paths []string

	for _, e := range entries {
		if e.Type().IsRegular() && reader.Supported(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	return paths, nil
}

// ProcessFile classifies the file at path and copies it to the run's output
// directory. Failures are reported in the returned [FileResult].
func (r *Run) ProcessFile(ctx context.Context, path string) FileResult {
	o := r.orchestrator
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "process file", trace.WithAttributes(
		attribute.String("run.id", r.ID.String()),
		attribute.String("path", path),
	))
	defer span.End()

	logger := log.WithContext(ctx).With(
		slog.String("run", r.ID.String()),
		slog.String("file", filepath.Base(path)),
	)
	ctx = log.NewContext(ctx, logger)

	if o.documentTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.documentTimeout)
		defer cancel()
	}

	res := r.process(ctx, path)
	res.Duration = time.Since(start)

	if info, err := os.Stat(path); err == nil {
		res.Size = info.Size()
	}

	if res.Err != nil {
		res.Error = res.Err.Error()
	}

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	o.metrics.ObserveDocument(string(res.Outcome), res.RuleID, res.Duration)

	switch res.Outcome {
	case OutcomeMatched:
		logger.InfoContext(ctx, "renamed document",
			slog.String("rule", res.RuleID),
			slog.String("destination", filepath.Base(res.Destination)),
		)
	case OutcomeUnmatched:
		logger.InfoContext(ctx, "document did not match any form rule")
	case OutcomeError:
		logger.ErrorContext(ctx, "process document", slog.Any("error", res.Err))
	}

	r.record(res)

	if o.observe != nil {
		o.observe(res)
	}

	return res
}

func (r *Run) process(ctx context.Context, path string) FileResult {
	o := r.orchestrator
	name := filepath.Base(path)

	text, err := o.reader.Read(ctx, path)

	switch {
	case errors.Is(err, reader.ErrUnreadable) && ctx.Err() == nil:
		return r.unmatched(path, fmt.Sprintf("Unreadable: %s: %v", name, err), err)
	case err != nil:
		return r.failed(path, err)
	case strings.TrimSpace(text) == "":
		return r.unmatched(path, fmt.Sprintf("Unmatched: no text extracted from %s.", name), nil)
	}

	result, diags := r.batch.Process(ctx, engine.Document{ID: name, Text: text})
	diags.Log(ctx)

	for _, e := range diags.Actions {
		o.metrics.IncActionError(e.RuleID)
	}

	o.metrics.AddConflicts(len(diags.Conflicts))
	r.addConflicts(len(diags.Conflicts))

	if ctx.Err() != nil {
		return r.failed(path, context.Cause(ctx))
	}

	if result == nil {
		return r.unmatched(path, fmt.Sprintf("Unmatched: %s did not match any form rule.", name), nil)
	}

	stem := o.planner.Plan(ctx, result.Variables())
	dst := r.reservations.Resolve(r.outputDir, stem, filepath.Ext(name), nil)

	err = copyFile(path, dst)
	if err != nil {
		r.reservations.Release(dst)

		return r.failed(path, err)
	}

	return FileResult{
		Source:      path,
		Destination: dst,
		Outcome:     OutcomeMatched,
		RuleID:      result.RuleID,
	}
}

// unmatched copies path to the unmatched directory and writes msg to
// `<stem>_error.log` next to it.
func (r *Run) unmatched(path, msg string, cause error) FileResult {
	name := filepath.Base(path)
	dir := filepath.Join(r.outputDir, UnmatchedDir)
	dst := filepath.Join(dir, name)

	err := copyFile(path, dst)
	if err != nil {
		return r.failed(path, err)
	}

	writeLog(filepath.Join(dir, stem(name)+"_error.log"), msg)

	return FileResult{
		Source:      path,
		Destination: dst,
		Outcome:     OutcomeUnmatched,
		Err:         cause,
	}
}

// failed copies path to the unmatched directory with an "error_" prefix and
// writes the error to `error_<stem>_exception.log`.
func (r *Run) failed(path string, cause error) FileResult {
	name := filepath.Base(path)
	dir := filepath.Join(r.outputDir, UnmatchedDir)
	dst := filepath.Join(dir, "error_"+name)

	err := copyFile(path, dst)
	if err != nil {
		cause = errors.Join(cause, err)
		dst = ""
	}

	writeLog(filepath.Join(dir, "error_"+stem(name)+"_exception.log"), "Exception: "+cause.Error())

	return FileResult{
		Source:      path,
		Destination: dst,
		Outcome:     OutcomeError,
		Err:         cause,
	}
}

func (r *Run) record(res FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, res)
	r.stats.Total++
	r.stats.Bytes += res.Size

	switch res.Outcome {
	case OutcomeMatched:
		r.stats.Matched++
	case OutcomeUnmatched:
		r.stats.Unmatched++
	case OutcomeError:
		r.stats.Errors++
	}
}

func (r *Run) addConflicts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Conflicts += n
}

// Stats returns the run's statistics so far.
func (r *Run) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

// Results returns the results of the files processed so far, in order.
func (r *Run) Results() []FileResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.results)
}

// Batch returns the run's document batch.
func (r *Run) Batch() *engine.Batch {
	return r.batch
}

// Summary returns a one-line human readable summary of the run.
func (r *Run) Summary() string {
	s := r.Stats()

	return fmt.Sprintf("processed %s %s (%s) in %s: %s matched, %s unmatched, %s %s",
		humanize.Comma(int64(s.Total)), plural(s.Total, "document", "documents"),
		humanize.Bytes(uint64(max(s.Bytes, 0))),
		time.Since(r.started).Round(time.Millisecond),
		humanize.Comma(int64(s.Matched)),
		humanize.Comma(int64(s.Unmatched)),
		humanize.Comma(int64(s.Errors)), plural(s.Errors, "error", "errors"),
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func writeLog(path, msg string) {
	err := os.WriteFile(path, []byte(msg+"\n"), 0o600)
	if err != nil {
		slog.Error("write error log", slog.String("path", path), slog.Any("error", err))
	}
}
