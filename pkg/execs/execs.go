package execs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/log"
)

// Result is the output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs a [Command] with a fixed set of placeholder values.
type Executor struct {
	tracer trace.Tracer
	vars   map[string]string
	cmd    Command
}

// NewExecutor creates an [Executor] that substitutes vars into cmd.
func NewExecutor(cmd Command, vars map[string]string) Executor {
	return Executor{
		tracer: otel.Tracer("execs"),
		cmd:    cmd,
		vars:   vars,
	}
}

// Exec runs the command in dir. When the command exits with a non-zero
// status, the [Result] is returned together with [ErrCommandExecution].
// When it cannot be started at all, only the error is returned.
func (e Executor) Exec(ctx context.Context, dir string) (*Result, error) {
	argv, err := e.cmd.Argv(e.vars)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "execs.exec", trace.WithAttributes(
		attribute.String("exec.program", argv[0]),
		attribute.String("exec.dir", dir),
	))
	defer span.End()

	logger := log.WithContext(ctx).With(slog.String("command", strings.Join(argv, " ")))

	//nolint:gosec // G204: The command line comes from the configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = e.cmd.GetEnv()

	var stdout, stderr bytes.Buffer

	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	start := time.Now()
	err = cmd.Run()

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	span.SetAttributes(attribute.Int("exec.exit_code", res.ExitCode))

	if err == nil {
		logger.DebugContext(ctx, "command done", slog.Duration("took", res.Duration))

		return res, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "command failed")

	logger.DebugContext(ctx, "command failed",
		slog.Int("exit_code", res.ExitCode),
		slog.String("stderr", res.Stderr),
		slog.Any("error", err),
	)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, fmt.Errorf("%w: %w", ErrCommandExecution, err)
	}

	return nil, fmt.Errorf("%w: %w", ErrCommandExecution, err)
}

func (e Executor) String() string {
	argv, err := e.cmd.Argv(e.vars)
	if err != nil {
		return e.cmd.String()
	}

	return strings.Join(argv, " ")
}
