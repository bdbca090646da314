package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/analysis"
	"github.com/JakeFAU/fda483-pipeline/internal/config"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

type fakeQuerier struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	ids       []int64
	question  string
	result    analysis.Result
	records   []inspection.NormalizedRecord
	err       error
	answerErr error
}

func (f *fakeQuerier) ByDateRange(_ context.Context, start, end time.Time) (analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start, f.end = start, end
	return f.result, f.err
}

func (f *fakeQuerier) BySourceIDs(_ context.Context, ids []int64) (analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	return f.result, f.err
}

func (f *fakeQuerier) Records(context.Context) ([]inspection.NormalizedRecord, error) {
	return f.records, f.err
}

func (f *fakeQuerier) Ask(_ context.Context, q string) (string, error) {
	f.question = q
	if f.answerErr != nil {
		return "", f.answerErr
	}
	if q == "" {
		return "", analysis.ErrEmptyQuestion
	}
	return "echo " + q, nil
}

type fakeRuns struct {
	submitted [][]inspection.SourceRecord
	err       error
	runs      map[string]inspection.Run
}

func (f *fakeRuns) Submit(_ context.Context, records []inspection.SourceRecord) (inspection.Run, error) {
	if f.err != nil {
		return inspection.Run{}, f.err
	}
	f.submitted = append(f.submitted, records)
	return inspection.Run{ID: "run-1", Status: inspection.RunQueued}, nil
}

func (f *fakeRuns) Status(_ context.Context, id string) (inspection.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return inspection.Run{}, inspection.ErrNotFound
	}
	return run, nil
}

func newTestServer(q *fakeQuerier, runs *fakeRuns, cfg config.Config) *Server {
	if runs == nil {
		runs = &fakeRuns{}
	}
	return NewServer(q, runs, nil, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, nil, config.Config{})

	rec := serve(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()
	s := NewServer(&fakeQuerier{}, &fakeRuns{}, func(context.Context) error {
		return errors.New("db down")
	}, config.Config{}, nil)

	rec := serve(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db down", decodeError(t, rec).Details)
}

func TestServer_TimeAnalysis(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{result: analysis.Result{
		Observations: []inspection.Observation{{Summary: "x", Category: "Lack of Training", CFRNumber: "§211.25"}},
		Processed:    1,
		Succeeded:    1,
	}}
	s := newTestServer(q, nil, config.Config{})

	rec := serve(t, s, http.MethodGet, "/api/timeAnalysis?startDate=01/01/2025&endDate=2025-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), q.start)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), q.end)

	var res analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "§211.25", res.Observations[0].CFRNumber)
}

func TestServer_TimeAnalysisValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, nil, config.Config{})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"missing", "/api/timeAnalysis", "startDate and endDate are required"},
		{"bad start", "/api/timeAnalysis?startDate=yesterday&endDate=01/01/2025", "invalid startDate"},
		{"inverted", "/api/timeAnalysis?startDate=02/01/2025&endDate=01/01/2025", "endDate is before startDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec).Error)
		})
	}
}

func TestServer_TimeAnalysisNoDocuments(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{err: analysis.ErrNoDocuments}, nil, config.Config{})
	rec := serve(t, s, http.MethodGet, "/api/timeAnalysis?startDate=01/01/2025&endDate=01/31/2025", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "no documents found", body.Error)
	assert.NotEmpty(t, body.Details)
}

func TestServer_BrowseDocuments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want []int64
	}{
		{"numbers", `{"feiNumbers":[3001,3002]}`, []int64{3001, 3002}},
		{"strings", `{"feiNumbers":["3001"," 3002"]}`, []int64{3001, 3002}},
		{"json string", `{"feiNumbers":"[3001, \"3002\"]"}`, []int64{3001, 3002}},
		{"comma list", `{"feiNumbers":"3001, 3002"}`, []int64{3001, 3002}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := &fakeQuerier{}
			rec := serve(t, newTestServer(q, nil, config.Config{}), http.MethodPost, "/api/browseDocuments", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, q.ids)
		})
	}
}

func TestServer_BrowseDocumentsRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, nil, config.Config{})

	rec := serve(t, s, http.MethodPost, "/api/browseDocuments", `{"feiNumbers":["abc"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid feiNumbers", decodeError(t, rec).Error)

	rec = serve(t, s, http.MethodPost, "/api/browseDocuments", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodPost, "/api/browseDocuments", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FirebaseData(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{records: []inspection.NormalizedRecord{{ID: "a", Name: "Acme", SourceID: inspection.Int64(1)}}}
	rec := serve(t, newTestServer(q, nil, config.Config{}), http.MethodGet, "/api/firebaseData", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                           `json:"count"`
		Records []inspection.NormalizedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "Acme", body.Records[0].Name)
}

func TestServer_Chat(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{}
	s := newTestServer(q, nil, config.Config{})

	rec := serve(t, s, http.MethodPost, "/api/chat", `{"message":"what is a 483?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"echo what is a 483?"}`, rec.Body.String())

	rec = serve(t, s, http.MethodPost, "/api/chat", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	q.answerErr = errors.New("quota")
	rec = serve(t, s, http.MethodPost, "/api/chat", `{"question":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_SubmitRun(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{}
	s := newTestServer(&fakeQuerier{}, runs, config.Config{})

	rec := serve(t, s, http.MethodPost, "/v1/runs",
		`[{"fei_number":100,"date":"01/02/2025","name":"Acme","firebaseUrl":"https://fda.example/a.pdf"}]`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"run_id":"run-1","status":"queued"}`, rec.Body.String())
	require.Len(t, runs.submitted, 1)
	require.NotNil(t, runs.submitted[0][0].SourceID)
	assert.Equal(t, int64(100), *runs.submitted[0][0].SourceID)

	rec = serve(t, s, http.MethodPost, "/v1/runs", `{"records":[{"name":"Beta"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Beta", runs.submitted[1][0].Name)

	rec = serve(t, s, http.MethodPost, "/v1/runs", `[]`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitRunQueueFailure(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{err: context.DeadlineExceeded}
	rec := serve(t, newTestServer(&fakeQuerier{}, runs, config.Config{}), http.MethodPost, "/v1/runs", `[{"name":"A"}]`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{runs: map[string]inspection.Run{
		"run-9": {ID: "run-9", Status: inspection.RunSucceeded, Counters: inspection.RunCounters{Persisted: 2}},
	}}
	s := newTestServer(&fakeQuerier{}, runs, config.Config{})

	rec := serve(t, s, http.MethodGet, "/v1/runs/run-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"persisted":2`)

	rec = serve(t, s, http.MethodGet, "/v1/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := newTestServer(&fakeQuerier{}, nil, cfg)

	rec := serve(t, s, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`))
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rec = serve(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Server: config.ServerConfig{CORSOrigins: []string{"https://dashboard.example"}}}
	s := newTestServer(&fakeQuerier{}, nil, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, nil, config.Config{})
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_TimeoutUsesErrorShape(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/timeAnalysis", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "request timed out", body.Error)
	assert.NotEmpty(t, body.Details)
}
