package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/internal/adapters/export"
	"gemini/internal/blob"
	"gemini/internal/infra/persistence/sqlite"
	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/observability"
	"gemini/internal/persistence"
	"gemini/internal/records"
	"gemini/internal/schema"
)

type testServer struct {
	ctrl    *Controller
	catalog *schema.Catalog
	exports *export.Worker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"), persistence.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	catalog := schema.NewCatalog(db, model.Options{Observer: metrics})
	_, err = schema.Seed(ctx, catalog)
	require.NoError(t, err)
	objects := objectstore.New(blob.NewMemory(), objectstore.Options{Observer: metrics})
	rec := records.New(catalog, objects, records.Options{})
	worker := export.NewWorker(rec, objects, export.Options{Observer: metrics})
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	ctrl := New(catalog, rec, Options{Exports: worker, Metrics: metrics.Handler()})
	return &testServer{ctrl: ctrl, catalog: catalog, exports: worker}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	s.ctrl.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	s.do(t, http.MethodGet, "/api/v1/entities/site", "")
	rr = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gemini_model_operations_total")
}

func TestEntityLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/v1/entities/experiment", `{"experiment_name":"E1","experiment_info":{"crop":"sorghum"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	rr = s.do(t, http.MethodPost, "/api/v1/entities/experiments", `{"experiment_name":"E1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	errResp := decode[ErrorResponse](t, rr)
	assert.Equal(t, string(model.KindConstraint), errResp.Kind)
	assert.NotEmpty(t, errResp.CorrelationID)

	rr = s.do(t, http.MethodGet, "/api/v1/entities/experiment/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "E1", decode[map[string]any](t, rr)["experiment_name"])

	rr = s.do(t, http.MethodPatch, "/api/v1/entities/experiment/"+id, `{"experiment_info":{"crop":"maize"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]any{"crop": "maize"}, decode[map[string]any](t, rr)["experiment_info"])

	rr = s.do(t, http.MethodGet, "/api/v1/entities/experiment?experiment_name=E1&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]map[string]any](t, rr), 1)

	rr = s.do(t, http.MethodGet, "/api/v1/entities/experiment?experiment_name=E2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))

	rr = s.do(t, http.MethodDelete, "/api/v1/entities/experiment/"+id, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodGet, "/api/v1/entities/experiment/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = s.do(t, http.MethodDelete, "/api/v1/entities/experiment/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEntityErrors(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name, method, target, body string
		want                       int
	}{
		{"unknown type", http.MethodGet, "/api/v1/entities/weather", "", http.StatusNotFound},
		{"bad json", http.MethodPost, "/api/v1/entities/site", `{"site_name":`, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/entities/site?limit=-1", "", http.StatusBadRequest},
		{"json filter", http.MethodGet, "/api/v1/entities/site?site_info=x", "", http.StatusBadRequest},
		{"patch missing", http.MethodPatch, "/api/v1/entities/site/7b1c3c1e-0d7e-4b61-9c55-1d5f0f1c8a01", `{"site_city":"Davis"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}

	rr := s.do(t, http.MethodGet, "/api/v1/entities", "")
	require.Equal(t, http.StatusOK, rr.Code)
	types := decode[map[string][]string](t, rr)["types"]
	assert.Contains(t, types, "sensor")
	assert.Contains(t, types, "dataset_type")
}

func (s *testServer) seedSensor(t *testing.T) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/entities/sensor", `{"sensor_name":"S1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodPost, "/api/v1/records/sensor", `{
		"entity_name": "S1",
		"timestamps": ["2023-10-01T08:00:00Z", "2023-10-01T09:00:00Z", "2023-10-02T08:00:00Z"],
		"data": [{"v": 1}, {"v": 2}, {"v": 3}],
		"infos": [{"pass": "a"}, {"pass": "b"}, {"pass": "a"}]
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[records.Result](t, rr)
	assert.Len(t, res.Accepted, 3)
	assert.Equal(t, "S1_2023-10-01", res.DatasetName)
}

func ndjsonLines(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestRecordIngestAndStream(t *testing.T) {
	s := newTestServer(t)
	s.seedSensor(t)

	rr := s.do(t, http.MethodGet, "/api/v1/records/sensor?entity_name=S1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))
	assert.Len(t, ndjsonLines(t, rr), 3)

	rr = s.do(t, http.MethodGet, "/api/v1/records/sensor?from=2023-10-02", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, ndjsonLines(t, rr), 1)

	rr = s.do(t, http.MethodGet, `/api/v1/records/sensor?record_info=%7B%22pass%22%3A%22a%22%7D&limit=1`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, ndjsonLines(t, rr), 1)

	rr = s.do(t, http.MethodPost, "/api/v1/records/sensor", `{"entity_name":"S1","timestamps":["2023-10-01T08:00:00Z"],"data":[{"v":1}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	res := decode[records.Result](t, rr)
	assert.Empty(t, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
}

func TestRecordErrors(t *testing.T) {
	s := newTestServer(t)
	s.seedSensor(t)
	cases := []struct {
		name, method, target, body string
		want                       int
	}{
		{"unknown kind", http.MethodGet, "/api/v1/records/weather", "", http.StatusNotFound},
		{"bad plot", http.MethodGet, "/api/v1/records/sensor?plot_number=abc", "", http.StatusBadRequest},
		{"bad date", http.MethodGet, "/api/v1/records/sensor?from=yesterday", "", http.StatusBadRequest},
		{"bad info", http.MethodGet, "/api/v1/records/sensor?record_info=nope", "", http.StatusBadRequest},
		{"plot on script", http.MethodGet, "/api/v1/records/script?plot_number=1", "", http.StatusBadRequest},
		{"mismatched batch", http.MethodPost, "/api/v1/records/sensor", `{"entity_name":"S1","timestamps":["2023-10-01T08:00:00Z"],"data":[]}`, http.StatusBadRequest},
		{"unknown sensor", http.MethodPost, "/api/v1/records/sensor", `{"entity_name":"S9","timestamps":["2023-10-01T08:00:00Z"],"data":[{"v":1}]}`, http.StatusNotFound},
		{"missing file", http.MethodPost, "/api/v1/records/sensor", `{"entity_name":"S1","timestamps":["2023-10-01T08:00:00Z"],"data":[{"v":1}],"files":["/does/not/exist.png"]}`, http.StatusServiceUnavailable},
		{"missing record", http.MethodGet, "/api/v1/records/sensor/7b1c3c1e-0d7e-4b61-9c55-1d5f0f1c8a01", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestRecordGetPatchDelete(t *testing.T) {
	s := newTestServer(t)
	s.seedSensor(t)

	rr := s.do(t, http.MethodGet, "/api/v1/records/sensor?limit=1", "")
	lines := ndjsonLines(t, rr)
	require.Len(t, lines, 1)
	id, _ := lines[0]["id"].(string)
	require.NotEmpty(t, id)

	rr = s.do(t, http.MethodPatch, "/api/v1/records/sensor/"+id, `{"record_info":{"quality":"good","pass":null}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	info, _ := decode[map[string]any](t, rr)["record_info"].(map[string]any)
	assert.Equal(t, "good", info["quality"])
	assert.NotContains(t, info, "pass")

	rr = s.do(t, http.MethodGet, "/api/v1/records/sensor/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodDelete, "/api/v1/records/sensor/"+id, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodDelete, "/api/v1/records/sensor/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExports(t *testing.T) {
	s := newTestServer(t)
	s.seedSensor(t)

	rr := s.do(t, http.MethodPost, "/api/v1/exports", `{"kind":"sensor","formats":["csv"],"query":{"entity_name":"S1"},"requested_by":"ana"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	job := decode[export.Export](t, rr)
	assert.Equal(t, export.StatusQueued, job.Status)

	require.Eventually(t, func() bool {
		rr := s.do(t, http.MethodGet, "/api/v1/exports/"+job.ID, "")
		return rr.Code == http.StatusOK && decode[export.Export](t, rr).Status == export.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	rr = s.do(t, http.MethodGet, "/api/v1/exports/"+job.ID, "")
	done := decode[export.Export](t, rr)
	require.Len(t, done.Artifacts, 1)
	assert.Equal(t, 3, done.Artifacts[0].Rows)

	rr = s.do(t, http.MethodGet, "/api/v1/exports", "")
	assert.Len(t, decode[[]export.Export](t, rr), 1)

	rr = s.do(t, http.MethodGet, "/api/v1/exports/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = s.do(t, http.MethodPost, "/api/v1/exports", `{"kind":"weather"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, s.exports.Stop(context.Background()))
	rr = s.do(t, http.MethodPost, "/api/v1/exports", `{"kind":"sensor"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatusOf(t *testing.T) {
	cases := map[model.ErrorKind]int{
		model.KindNotFound:    http.StatusNotFound,
		model.KindConstraint:  http.StatusConflict,
		model.KindValidation:  http.StatusBadRequest,
		model.KindUnavailable: http.StatusServiceUnavailable,
		model.KindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusOf(model.NewError(kind, "t", "op", nil)), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, http.StatusBadRequest, StatusOf(badRequest(errors.New("x"))))
}
