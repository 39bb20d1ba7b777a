package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/reader"
)

// DefaultSettle is how long a file must go without changes before a watched
// run processes it.
const DefaultSettle = 500 * time.Millisecond

// Watch processes the existing files in inputDir, then keeps processing
// files as they are created or written, until ctx is done. A file is
// processed once it has not changed for settle; a zero settle uses
// [DefaultSettle]. Each file is processed at most once per run.
func (o *Orchestrator) Watch(ctx context.Context, inputDir, outputDir string, settle time.Duration) (*Run, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		err := watcher.Close()
		if err != nil {
			slog.Error("close watcher", slog.Any("err", err))
		}
	}()

	// Watch before listing, so that files created in between are not missed.
	err = watcher.Add(inputDir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", inputDir, err)
	}

	paths, err := ListInputs(inputDir)
	if err != nil {
		return nil, err
	}

	run, err := o.NewRun(outputDir)
	if err != nil {
		return nil, err
	}

	logger := log.WithContext(ctx).With(slog.String("run", run.ID.String()))

	done := map[string]struct{}{}
	for _, path := range paths {
		run.ProcessFile(ctx, path)
		done[path] = struct{}{}
	}

	logger.InfoContext(ctx, "watching for new documents", slog.String("input", inputDir))

	pending := map[string]time.Time{}

	ticker := time.NewTicker(max(settle/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), context.Canceled) {
				return run, nil
			}

			return run, fmt.Errorf("watch: %w", context.Cause(ctx))

		case evt, ok := <-watcher.Events:
			if !ok {
				return run, nil
			}

			if !evt.Has(fsnotify.Create|fsnotify.Write) || !reader.Supported(evt.Name) {
				continue
			}

			path := filepath.Clean(evt.Name)
			if _, ok := done[path]; ok {
				continue
			}

			pending[path] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return run, nil
			}

			logger.ErrorContext(ctx, "watch input directory", slog.Any("error", err))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}

				delete(pending, path)
				done[path] = struct{}{}
				run.ProcessFile(ctx, path)
			}
		}
	}
}
