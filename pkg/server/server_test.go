package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/metrics"
	"github.com/aaghdai/nominal/pkg/server"
)

const taxpayerRule = `id: taxpayer
variables:
  global:
    - SSN
    - TIN_LAST_FOUR
criteria:
  - type: regex
    pattern: '\d{3}-\d{2}-\d{4}'
    capture: true
    variable: SSN
actions:
  - type: derive
    variable: TIN_LAST_FOUR
    from: SSN
    method: slice
    args:
      start: -4
`

const w2Rule = `id: W2
description: Form W-2 Wage and Tax Statement
variables:
  local:
    - FULL_NAME
criteria:
  - type: contains
    value: wage and tax statement
    case_sensitive: false
actions:
  - type: regex_extract
    variable: FULL_NAME
    pattern: 'Employee: ([A-Z]+ [A-Z]+)'
    group: 1
`

const (
	jordanText = "Wage and Tax Statement\nEmployee: MICHAEL JORDAN\nSSN 123-45-6789\n"
	pippenText = "Wage and Tax Statement\nEmployee: SCOTTIE PIPPEN\nSSN 987-65-4321\n"
)

func newServer(t *testing.T, opts ...server.Opt) *server.Server {
	t.Helper()

	dir := t.TempDir()
	for name, data := range map[string]string{
		"global/taxpayer.yaml": taxpayerRule,
		"forms/w2.yaml":        w2Rule,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	}

	rs, loadErrs, err := engine.Load(dir)
	require.NoError(t, err)
	require.Empty(t, loadErrs)

	s, err := server.New("", engine.NewProcessor(rs), opts...)
	require.NoError(t, err)

	return s
}

func do(t *testing.T, s http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequestWithContext(t.Context(), method, target, r)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))

	return out
}

func TestServer_Classify(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	tcs := map[string]struct {
		body       string
		wantRule   string
		wantName   string
		wantStatus int
		matched    bool
	}{
		"matched": {
			body:       `{"id": "a.pdf", "text": "Wage and Tax Statement\nEmployee: MICHAEL JORDAN\nSSN 123-45-6789\n"}`,
			wantStatus: http.StatusOK,
			matched:    true,
			wantRule:   "W2",
			wantName:   "W2_JORDAN_6789",
		},
		"unmatched": {
			body:       `{"text": "Form 1099-MISC"}`,
			wantStatus: http.StatusOK,
		},
		"empty text": {
			body:       `{"text": ""}`,
			wantStatus: http.StatusOK,
		},
		"unknown field": {
			body:       `{"txt": "W-2"}`,
			wantStatus: http.StatusBadRequest,
		},
		"empty body": {
			wantStatus: http.StatusBadRequest,
		},
		"invalid json": {
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, s, http.MethodPost, "/v1/classify", tc.body)
			require.Equal(t, tc.wantStatus, rec.Code)

			if tc.wantStatus != http.StatusOK {
				assert.Contains(t, decode[map[string]string](t, rec), "error")

				return
			}

			got := decode[server.ClassifyResponse](t, rec)
			assert.Equal(t, tc.matched, got.Matched)
			assert.Equal(t, tc.wantName, got.Filename)

			if !tc.matched {
				assert.Nil(t, got.Result)
				return
			}

			require.NotNil(t, got.Result)
			assert.Equal(t, tc.wantRule, got.Result.RuleID)
			assert.Equal(t, "JORDAN", got.Derived["LAST_NAME"])
		})
	}
}

func TestServer_Classify_Stateless(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	for _, text := range []string{jordanText, pippenText} {
		body, err := json.Marshal(server.ClassifyRequest{Text: text})
		require.NoError(t, err)

		rec := do(t, s, http.MethodPost, "/v1/classify", string(body))
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[server.ClassifyResponse](t, rec)
		assert.True(t, got.Matched)
		assert.Empty(t, got.Conflicts)
	}
}

func TestServer_Batches(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := do(t, s, http.MethodPost, "/v1/batches", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[server.BatchResponse](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Empty(t, created.Variables)

	documents := "/v1/batches/" + created.ID + "/documents"

	classify := func(id, text string) server.ClassifyResponse {
		body, err := json.Marshal(server.ClassifyRequest{ID: id, Text: text})
		require.NoError(t, err)

		rec := do(t, s, http.MethodPost, documents, string(body))
		require.Equal(t, http.StatusOK, rec.Code)

		return decode[server.ClassifyResponse](t, rec)
	}

	first := classify("a.pdf", jordanText)
	assert.True(t, first.Matched)
	assert.Empty(t, first.Conflicts)

	second := classify("b.pdf", pippenText)
	assert.True(t, second.Matched)
	require.Len(t, second.Conflicts, 2)
	assert.Equal(t, engine.Conflict{
		Name:       "SSN",
		Existing:   "123-45-6789",
		Incoming:   "987-65-4321",
		DocumentID: "b.pdf",
		Source:     "a.pdf",
	}, second.Conflicts[0])

	third := classify("c.pdf", "nothing to see")
	assert.False(t, third.Matched)
	assert.Equal(t, "nothing to see", third.Preview)

	rec = do(t, s, http.MethodGet, "/v1/batches/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[server.BatchResponse](t, rec)
	assert.Equal(t, "123-45-6789", got.Variables["SSN"])
	assert.Equal(t, "6789", got.Variables["TIN_LAST_FOUR"])
	require.Len(t, got.Unmatched, 1)
	assert.Equal(t, "c.pdf", got.Unmatched[0].DocumentID)

	rec = do(t, s, http.MethodDelete, "/v1/batches/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/batches/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/batches/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Batches_Filenames(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	post := func(target, text string) server.ClassifyResponse {
		body, err := json.Marshal(server.ClassifyRequest{Text: text})
		require.NoError(t, err)

		rec := do(t, s, http.MethodPost, target, string(body))
		require.Equal(t, http.StatusOK, rec.Code)

		return decode[server.ClassifyResponse](t, rec)
	}

	newBatch := func() string {
		rec := do(t, s, http.MethodPost, "/v1/batches", "")
		require.Equal(t, http.StatusCreated, rec.Code)

		return "/v1/batches/" + decode[server.BatchResponse](t, rec).ID + "/documents"
	}

	documents := newBatch()
	assert.Equal(t, "W2_JORDAN_6789", post(documents, jordanText).Filename)
	assert.Equal(t, "W2_JORDAN_6789_1", post(documents, jordanText).Filename)
	assert.Equal(t, "W2_JORDAN_6789_2", post(documents, jordanText).Filename)

	assert.Equal(t, "W2_JORDAN_6789", post(newBatch(), jordanText).Filename)

	assert.Equal(t, "W2_JORDAN_6789", post("/v1/classify", jordanText).Filename)
	assert.Equal(t, "W2_JORDAN_6789", post("/v1/classify", jordanText).Filename)
}

func TestServer_Batches_Eviction(t *testing.T) {
	t.Parallel()

	create := func(t *testing.T, s *server.Server) string {
		t.Helper()

		rec := do(t, s, http.MethodPost, "/v1/batches", "")
		require.Equal(t, http.StatusCreated, rec.Code)

		return "/v1/batches/" + decode[server.BatchResponse](t, rec).ID
	}

	t.Run("least recently used", func(t *testing.T) {
		t.Parallel()

		s := newServer(t, server.WithMaxBatches(2))

		a := create(t, s)
		b := create(t, s)

		rec := do(t, s, http.MethodGet, a, "")
		require.Equal(t, http.StatusOK, rec.Code)

		c := create(t, s)

		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, a, "").Code)
		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, b, "").Code)
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, c, "").Code)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()

		s := newServer(t, server.WithBatchTTL(time.Millisecond))

		a := create(t, s)
		time.Sleep(10 * time.Millisecond)

		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, a, "").Code)
	})

	t.Run("no expiry", func(t *testing.T) {
		t.Parallel()

		s := newServer(t, server.WithBatchTTL(0), server.WithMaxBatches(0))

		a := create(t, s)
		time.Sleep(10 * time.Millisecond)

		for range 4 {
			create(t, s)
		}

		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, a, "").Code)
	})
}

func TestServer_Rules(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	tcs := map[string]struct {
		target     string
		wantIDs    []string
		wantStatus int
	}{
		"all": {
			target:     "/v1/rules",
			wantStatus: http.StatusOK,
			wantIDs:    []string{"taxpayer", "W2"},
		},
		"forms": {
			target:     "/v1/rules?group=forms",
			wantStatus: http.StatusOK,
			wantIDs:    []string{"W2"},
		},
		"global": {
			target:     "/v1/rules?group=global",
			wantStatus: http.StatusOK,
			wantIDs:    []string{"taxpayer"},
		},
		"unknown group": {
			target:     "/v1/rules?group=other",
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, s, http.MethodGet, tc.target, "")
			require.Equal(t, tc.wantStatus, rec.Code)

			if tc.wantStatus != http.StatusOK {
				return
			}

			got := decode[struct {
				Rules []server.RuleSummary `json:"rules"`
				Count int                  `json:"count"`
			}](t, rec)

			ids := make([]string, 0, len(got.Rules))
			for _, r := range got.Rules {
				ids = append(ids, r.ID)
			}

			assert.Equal(t, tc.wantIDs, ids)
			assert.Equal(t, len(tc.wantIDs), got.Count)
		})
	}
}

func TestServer_GetRule(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		rec := do(t, s, http.MethodGet, "/v1/rules/W2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[map[string]any](t, rec)
		assert.Equal(t, "W2", got["id"])
		assert.Equal(t, "Form W-2 Wage and Tax Statement", got["description"])
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/v1/rules/W2", http.NoBody)
		req.Header.Set("Accept", "application/yaml")

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "id: W2")
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		rec := do(t, s, http.MethodGet, "/v1/rules/1099", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Variables(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := do(t, s, http.MethodGet, "/v1/variables", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[struct {
		Pattern  string   `json:"pattern"`
		Declared []string `json:"declared"`
		Derived  []string `json:"derived"`
	}](t, rec)

	assert.Equal(t, "{rule_id}_{LAST_NAME}_{TIN_LAST_FOUR}", got.Pattern)
	assert.Equal(t, []string{"FULL_NAME", "SSN", "TIN_LAST_FOUR", "document_id", "rule_id"}, got.Declared)
	assert.Contains(t, got.Derived, "LAST_NAME")
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	rec := do(t, newServer(t), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", got["status"])
	assert.InDelta(t, 2, got["rules"], 0)
	assert.Contains(t, got, "version")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()

		s := newServer(t, server.WithMetrics(metrics.New()))

		rec := do(t, s, http.MethodPost, "/v1/classify", `{"text": "Wage and Tax Statement"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `nominal_documents_total{outcome="matched"} 1`)
		assert.Contains(t, rec.Body.String(), `nominal_rule_matches_total{rule_id="W2"} 1`)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		rec := do(t, newServer(t), http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Logs(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()

		buf := log.NewCircularBuffer(10)
		logger := slog.New(slog.NewTextHandler(buf, nil))
		logger.Info("rules loaded")

		rec := do(t, newServer(t, server.WithLogs(buf)), http.MethodGet, "/v1/logs", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "rules loaded")
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		rec := do(t, newServer(t), http.MethodGet, "/v1/logs", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

