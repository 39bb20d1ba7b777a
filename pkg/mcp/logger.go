package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/log"
)

// toolHandler is the signature of the tool methods on [Server].
type toolHandler[In, Out any] func(
	context.Context,
	*mcp.ServerSession,
	*mcp.CallToolParamsFor[In],
) (*mcp.CallToolResultFor[Out], error)

// instrument runs each call of h in its own span, with a logger carrying
// the tool name in the context.
func instrument[In, Out any](tracer trace.Tracer, h toolHandler[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(
		ctx context.Context,
		ss *mcp.ServerSession,
		params *mcp.CallToolParamsFor[In],
	) (*mcp.CallToolResultFor[Out], error) {
		ctx, span := tracer.Start(ctx, "mcp.tool/"+params.Name,
			trace.WithAttributes(attribute.String("mcp.tool", params.Name)),
		)
		defer span.End()

		logger := log.WithContext(ctx).With(slog.String("tool", params.Name))
		ctx = log.NewContext(ctx, logger)

		start := time.Now()

		res, err := h(ctx, ss, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(ctx, "tool call failed", slog.Any("error", err))

			return res, err
		}

		logger.DebugContext(ctx, "tool call done", slog.Duration("took", time.Since(start)))

		return res, nil
	}
}
