package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/version"
)

// Server implements the MCP server for nominal.
//
// All classify_text calls made to a server share a single [engine.Batch], so
// global variables carry over between documents and planned filenames stay
// distinct.
type Server struct {
	processor *engine.Processor
	planner   *planner.Planner
	batch     *engine.Batch
	names     *planner.Reservations
	server    *mcp.Server
	tracer    trace.Tracer
	address   string
}

// NewServer creates a new MCP server instance. An empty address serves over
// stdio. A nil planner uses the default pattern and built-in derivations.
func NewServer(address string, processor *engine.Processor, p *planner.Planner) (*Server, error) {
	if p == nil {
		var err error

		p, err = planner.New("", planner.WithDerivations(planner.Builtins(time.Now)...))
		if err != nil {
			return nil, fmt.Errorf("create planner: %w", err)
		}
	}

	impl := &mcp.Implementation{
		Name:    name,
		Version: version.GetVersion(),
	}

	opts := &mcp.ServerOptions{
		Instructions: instructions,
	}

	s := &Server{
		address:   address,
		server:    mcp.NewServer(impl, opts),
		processor: processor,
		planner:   p,
		batch:     processor.NewBatch(),
		names:     planner.NewReservations(),
		tracer:    otel.Tracer("mcp"),
	}

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "classify_text",
		Description: "Classify the text of a document against the loaded rules. Returns the matching rule, the extracted variables, and the planned filename. You MUST pass the full document text.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {
					Type:        "string",
					Description: "The full text of the document.",
				},
				"id": {
					Type:        "string",
					Description: "An optional document identifier, usually the file name.",
				},
			},
			Required: []string{"text"},
		},
		OutputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message":    {Type: "string"},
				"matched":    {Type: "boolean"},
				"ruleId":     {Type: "string"},
				"documentId": {Type: "string"},
				"filename":   {Type: "string"},
				"preview":    {Type: "string"},
				"global":     newVariablesSchema("Global variables of the document."),
				"local":      newVariablesSchema("Variables local to the matched rule."),
				"derived":    newVariablesSchema("Variables computed for the filename."),
				"conflicts":  {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"errors":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
			Required: []string{"message", "matched"},
		},
	}, instrument(s.tracer, s.handleClassifyText))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List the loaded rules in evaluation order, with the variables each rule declares.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"group": {
					Type:        "string",
					Description: "Only list rules of this group.",
					Enum:        []any{string(engine.GroupGlobal), string(engine.GroupForms)},
				},
			},
		},
	}, instrument(s.tracer, s.handleListRules))
}

func (s *Server) Server() *mcp.Server {
	return s.server
}

// Batch returns the batch shared by every classify_text call.
func (s *Server) Batch() *engine.Batch {
	return s.batch
}

// Serve runs the server until ctx is done. An empty address serves a
// single session over stdio, with the protocol traffic logged to stderr.
func (s *Server) Serve(ctx context.Context) error {
	slog.InfoContext(ctx, "starting MCP server", slog.String("address", s.address))

	var err error

	switch s.address {
	case "":
		err = s.server.Run(ctx, mcp.NewLoggingTransport(mcp.NewStdioTransport(), os.Stderr))
	default:
		err = s.listen(ctx)
	}

	if err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}

	return nil
}

// listen serves streamable HTTP sessions on the server's address.
func (s *Server) listen(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)

	hs := &http.Server{
		Addr:              s.address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := hs.Shutdown(sctx); err != nil {
			slog.Error("shut down MCP server", slog.Any("error", err))
		}
	})
	defer stop()

	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err //nolint:wrapcheck // Wrapped by Serve.
	}

	return nil
}
