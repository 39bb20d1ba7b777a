// Package reader extracts plain text from input documents.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/execs"
	"github.com/aaghdai/nominal/pkg/log"
)

const (
	// DefaultMinTextLength is the extracted text length below which OCR is
	// attempted.
	DefaultMinTextLength = 50
	// DefaultPDFCommand extracts the text layer of a PDF.
	DefaultPDFCommand = "pdftotext -layout {input} -"
	// DefaultOCRCommand renders the first page of a PDF and runs OCR on it.
	DefaultOCRCommand = `sh -c 'pdftoppm -r 300 -png -singlefile "$1" | tesseract stdin stdout' ocr {input}`

	// ocrGain is how much longer OCR output must be to replace the text
	// layer.
	ocrGain = 1.2
)

// ErrUnreadable is returned when no text can be extracted from a file.
var ErrUnreadable = errors.New("unreadable document")

// Extensions are the file extensions [CommandReader] supports.
var Extensions = []string{".pdf", ".txt"}

// Supported reports whether path has one of the [Extensions].
func Supported(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// Reader extracts the text of a document.
type Reader interface {
	Read(ctx context.Context, path string) (string, error)
}

// CommandReader reads text files directly and extracts the text of PDFs with
// external commands.
type CommandReader struct {
	tracer        trace.Tracer
	pdf           execs.Command
	ocr           *execs.Command
	minTextLength int
}

// Opt configures a [CommandReader].
type Opt func(*CommandReader)

// WithPDFCommand sets the command that prints the text layer of a PDF.
func WithPDFCommand(cmd execs.Command) Opt {
	return func(r *CommandReader) {
		r.pdf = cmd
	}
}

// WithOCRCommand sets the command that prints OCR text for a PDF. A nil
// command disables OCR.
func WithOCRCommand(cmd *execs.Command) Opt {
	return func(r *CommandReader) {
		r.ocr = cmd
	}
}

// WithMinTextLength sets the text length below which OCR is attempted.
func WithMinTextLength(n int) Opt {
	return func(r *CommandReader) {
		r.minTextLength = n
	}
}

// New creates a [CommandReader] using the default commands and the caller's
// environment.
func New(opts ...Opt) *CommandReader {
	ocr := execs.NewCommand(DefaultOCRCommand, os.Environ())

	r := &CommandReader{
		tracer:        otel.Tracer("reader"),
		pdf:           execs.NewCommand(DefaultPDFCommand, os.Environ()),
		ocr:           &ocr,
		minTextLength: DefaultMinTextLength,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Read returns the text of the document at path.
//
// For PDFs, when the text layer is shorter than the minimum length and OCR
// is enabled, the OCR output is used instead if it is more than 1.2 times
// longer. OCR failures are logged and the text layer is kept.
func (r *CommandReader) Read(ctx context.Context, path string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "read", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s: not a regular file", ErrUnreadable, path)
	}

	var text string

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		b, err := os.ReadFile(path) //nolint:gosec // G304: Potential file inclusion via variable.
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
		}

		if !utf8.Valid(b) {
			return "", fmt.Errorf("%w: %s: not valid UTF-8", ErrUnreadable, path)
		}

		text = string(b)

	case ".pdf":
		text, err = r.readPDF(ctx, path)
		if err != nil {
			return "", err
		}

	default:
		return "", fmt.Errorf("%w: %s: unsupported file type %q", ErrUnreadable, path, ext)
	}

	span.SetAttributes(attribute.Int("text.length", len(text)))

	return text, nil
}

func (r *CommandReader) readPDF(ctx context.Context, path string) (string, error) {
	vars := map[string]string{"input": path}
	dir := filepath.Dir(path)

	res, err := execs.NewExecutor(r.pdf, vars).Exec(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("%w: extract text: %w", ErrUnreadable, err)
	}

	text := res.Stdout

	textLen := len(strings.TrimSpace(text))
	if r.ocr == nil || textLen >= r.minTextLength {
		return text, nil
	}

	logger := log.WithContext(ctx).With(slog.String("path", path))
	logger.DebugContext(ctx, "text layer is sparse, running ocr", slog.Int("length", textLen))

	res, err = execs.NewExecutor(*r.ocr, vars).Exec(ctx, dir)
	if err != nil {
		logger.WarnContext(ctx, "ocr failed", slog.Any("error", err))

		return text, nil
	}

	if float64(len(strings.TrimSpace(res.Stdout))) > float64(textLen)*ocrGain {
		return res.Stdout, nil
	}

	return text, nil
}
