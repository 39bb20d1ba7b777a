package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/metrics"
	"github.com/aaghdai/nominal/pkg/planner"
	"github.com/aaghdai/nominal/pkg/rule"
	"github.com/aaghdai/nominal/pkg/version"
)

// ClassifyRequest is the body of a classification request.
type ClassifyRequest struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// ClassifyResponse is the outcome of a classification request.
type ClassifyResponse struct {
	Result *engine.Result `json:"result,omitempty"`
	// Derived holds the variables computed for the filename.
	Derived   rule.Variables    `json:"derived,omitempty"`
	Filename  string            `json:"filename,omitempty"`
	Preview   string            `json:"preview,omitempty"`
	Conflicts []engine.Conflict `json:"conflicts,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	Matched   bool              `json:"matched"`
}

// RuleSummary describes a loaded rule.
type RuleSummary struct {
	ID          string   `json:"id"`
	Group       string   `json:"group"`
	Description string   `json:"description,omitempty"`
	Global      []string `json:"global,omitempty"`
	Local       []string `json:"local,omitempty"`
	Derived     []string `json:"derived,omitempty"`
}

// BatchResponse describes a batch.
type BatchResponse struct {
	Created   time.Time          `json:"created"`
	Variables rule.Variables     `json:"variables"`
	ID        string             `json:"id"`
	Unmatched []engine.Unmatched `json:"unmatched"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rs := s.processor.Rules()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"rules":   rs.Len(),
		"version": version.Get(),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeClassifyRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res := s.classify(r.Context(), s.processor.NewBatch(), nil, req)

	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleClassifyInBatch(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.batch(w, r)
	if !ok {
		return
	}

	req, err := decodeClassifyRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res := s.classify(r.Context(), b.Batch, b.names, req)

	respondJSON(w, http.StatusOK, res)
}

// classify processes the requested document within b. When names is set,
// the filename is reserved in it so repeated names get a numeric suffix.
func (s *Server) classify(
	ctx context.Context,
	b *engine.Batch,
	names *planner.Reservations,
	req ClassifyRequest,
) ClassifyResponse {
	ctx, span := s.tracer.Start(ctx, "classify", trace.WithAttributes(
		attribute.String("document.id", req.ID),
	))
	defer span.End()

	start := time.Now()

	result, diags := b.Process(ctx, engine.Document{ID: req.ID, Text: req.Text})
	diags.Log(ctx)

	for _, e := range diags.Actions {
		s.metrics.IncActionError(e.RuleID)
	}

	s.metrics.AddConflicts(len(diags.Conflicts))

	res := ClassifyResponse{
		Conflicts: diags.Conflicts,
	}

	for _, e := range diags.Actions {
		res.Errors = append(res.Errors, e.Error())
	}

	for _, e := range diags.Evaluation {
		res.Errors = append(res.Errors, e.Error())
	}

	if result == nil {
		res.Preview = engine.Preview(req.Text)
		s.metrics.ObserveDocument(metrics.OutcomeUnmatched, "", time.Since(start))

		return res
	}

	vars := result.Variables()
	derived := s.planner.Derive(ctx, vars)

	res.Matched = true
	res.Result = result
	res.Filename = s.planner.Render(derived)
	if names != nil {
		res.Filename = names.Reserve(res.Filename)
	}

	res.Derived = rule.Variables{}

	for k, v := range derived {
		if old, ok := vars[k]; !ok || old != v {
			res.Derived[k] = v
		}
	}

	s.metrics.ObserveDocument(metrics.OutcomeMatched, result.RuleID, time.Since(start))

	return res
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rs := s.processor.Rules()
	group := engine.Group(r.URL.Query().Get("group"))

	out := []RuleSummary{}

	switch group {
	case "":
		out = appendRuleSummaries(out, engine.GroupGlobal, rs.Global)
		out = appendRuleSummaries(out, engine.GroupForms, rs.Forms)
	case engine.GroupGlobal:
		out = appendRuleSummaries(out, engine.GroupGlobal, rs.Global)
	case engine.GroupForms:
		out = appendRuleSummaries(out, engine.GroupForms, rs.Forms)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown rule group %q", group), nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": out,
		"count": len(out),
	})
}

// handleGetRule serves the definition of a rule, as YAML when requested
// with an Accept header of application/yaml.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleId")

	idx := slices.IndexFunc(s.processor.Rules().Rules(), func(r *rule.Rule) bool {
		return r.ID == id
	})
	if idx < 0 {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}

	def := s.processor.Rules().Rules()[idx].Definition()

	if r.Header.Get("Accept") == "application/yaml" {
		b, err := def.MarshalYAML()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "encode rule", err)
			return
		}

		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		writeBody(r.Context(), w, b)

		return
	}

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"declared": s.processor.DeclaredVariables(),
		"derived":  s.planner.Derived(),
		"pattern":  s.planner.Pattern(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		respondError(w, http.StatusNotFound, "log buffer not enabled", nil)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, err := s.logs.WriteTo(w)
	if err != nil {
		ctx := r.Context()
		log.WithContext(ctx).DebugContext(ctx, "write logs", slog.Any("error", err))
	}
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, _ *http.Request) {
	id := uuid.New()
	now := time.Now()
	b := &batch{
		Batch:   s.processor.NewBatch(),
		names:   planner.NewReservations(),
		created: now,
	}
	b.touch(now, s.clock.Add(1))

	s.mu.Lock()
	s.evictBatches(now)
	s.batches[id] = b
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, newBatchResponse(id, b))
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, b, ok := s.batch(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, newBatchResponse(id, b))
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.batch(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.batches, id)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// batch looks up the batch named by the request's URL. When it returns
// false, an error response has been written.
func (s *Server) batch(w http.ResponseWriter, r *http.Request) (uuid.UUID, *batch, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "batchId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid batch id", err)
		return id, nil, false
	}

	now := time.Now()

	s.mu.RLock()
	b, ok := s.batches[id]
	s.mu.RUnlock()

	if ok && s.batchTTL > 0 && now.Sub(time.Unix(0, b.used.Load())) > s.batchTTL {
		s.mu.Lock()
		delete(s.batches, id)
		s.mu.Unlock()

		ok = false
	}

	if !ok {
		respondError(w, http.StatusNotFound, "batch not found", nil)
		return id, nil, false
	}

	b.touch(now, s.clock.Add(1))

	return id, b, true
}

// evictBatches drops expired batches, then the least recently used ones until
// there is room for one more. The caller holds s.mu.
func (s *Server) evictBatches(now time.Time) {
	if s.batchTTL > 0 {
		for id, b := range s.batches {
			if now.Sub(time.Unix(0, b.used.Load())) > s.batchTTL {
				delete(s.batches, id)
			}
		}
	}

	for s.maxBatches > 0 && len(s.batches) >= s.maxBatches {
		var (
			oldest uuid.UUID
			seq    uint64
			found  bool
		)

		for id, b := range s.batches {
			if n := b.seq.Load(); !found || n < seq {
				oldest, seq, found = id, n, true
			}
		}

		delete(s.batches, oldest)
	}
}

func newBatchResponse(id uuid.UUID, b *batch) BatchResponse {
	return BatchResponse{
		ID:        id.String(),
		Created:   b.created,
		Variables: b.State().Variables(),
		Unmatched: b.Unmatched(),
	}
}

func appendRuleSummaries(dst []RuleSummary, group engine.Group, rules []*rule.Rule) []RuleSummary {
	for _, r := range rules {
		dst = append(dst, RuleSummary{
			ID:          r.ID,
			Group:       string(group),
			Description: r.Description,
			Global:      r.Global,
			Local:       r.Local,
			Derived:     r.Derived,
		})
	}

	return dst
}

var errEmptyBody = errors.New("empty body")

func decodeClassifyRequest(w http.ResponseWriter, r *http.Request) (ClassifyRequest, error) {
	var req ClassifyRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()

	err := dec.Decode(&req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return req, errEmptyBody
		}

		return req, fmt.Errorf("decode: %w", err)
	}

	return req, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Debug("encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	respondJSON(w, status, response)
}

func writeBody(ctx context.Context, w http.ResponseWriter, b []byte) {
	_, err := w.Write(b)
	if err != nil {
		log.WithContext(ctx).DebugContext(ctx, "write response", slog.Any("error", err))
	}
}
