package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/modeltrain/internal/intake"
	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/internal/store"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// --- mock Submitter ---

type mockSubmitter struct {
	id    string
	err   error
	calls int
	got   struct {
		data        []byte
		contentType string
		name        string
	}
}

func (m *mockSubmitter) Submit(_ context.Context, data []byte, contentType, name string) (string, error) {
	m.calls++
	m.got.data, m.got.contentType, m.got.name = data, contentType, name
	return m.id, m.err
}

// --- mock JobReader ---

type mockJobs struct {
	jobs    map[string]*models.Job
	getErr  error
	listErr error
}

func (m *mockJobs) Get(_ context.Context, id string) (*models.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return job, nil
}

func (m *mockJobs) List(_ context.Context) iter.Seq2[models.JobSummary, error] {
	return func(yield func(models.JobSummary, error) bool) {
		for id, job := range m.jobs {
			if !yield(models.JobSummary{TrackingID: id, Status: job.Status}, nil) {
				return
			}
		}
		if m.listErr != nil {
			yield(models.JobSummary{}, m.listErr)
		}
	}
}

// --- helpers ---

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func startReq(name, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/start?name="+name, strings.NewReader(body))
	r.Header.Set("Content-Type", "text/csv")
	return r
}

// --- start ---

func TestStart_Success(t *testing.T) {
	svc := &mockSubmitter{id: "job-1"}
	rec := httptest.NewRecorder()

	NewStartHandler(svc, 1024)(rec, startReq("m1", "a,label\n1,x\n"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trackingId":"job-1"}`, rec.Body.String())
	assert.Equal(t, "m1", svc.got.name)
	assert.Equal(t, "text/csv", svc.got.contentType)
	assert.Equal(t, "a,label\n1,x\n", string(svc.got.data))
}

func TestStart_MissingName(t *testing.T) {
	svc := &mockSubmitter{id: "job-1"}
	rec := httptest.NewRecorder()

	NewStartHandler(svc, 1024)(rec, startReq("", "a,label\n1,x\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_NAME", errCode(t, rec))
	assert.Zero(t, svc.calls)
}

func TestStart_EmptyBody(t *testing.T) {
	svc := &mockSubmitter{id: "job-1"}
	rec := httptest.NewRecorder()

	NewStartHandler(svc, 1024)(rec, startReq("foo", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EMPTY_PAYLOAD", errCode(t, rec))
	assert.Zero(t, svc.calls)
}

func TestStart_TooLarge(t *testing.T) {
	svc := &mockSubmitter{id: "job-1"}
	rec := httptest.NewRecorder()

	NewStartHandler(svc, 4)(rec, startReq("m1", "0123456789"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errCode(t, rec))
	assert.Zero(t, svc.calls)
}

func TestStart_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		err      error
		wantCode int
		wantErr  string
	}{
		{"staging failure keeps tracking id", "job-1", intake.ErrStaging, http.StatusOK, ""},
		{"dispatch failure", "job-1", intake.ErrDispatch, http.StatusServiceUnavailable, "DISPATCH_FAILED"},
		{"store down", "", errors.New("redis: connection refused"), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewStartHandler(&mockSubmitter{id: tt.id, err: tt.err}, 1024)(rec, startReq("m1", "x"))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr == "" {
				assert.JSONEq(t, `{"trackingId":"job-1"}`, rec.Body.String())
				return
			}
			assert.Equal(t, tt.wantErr, errCode(t, rec))
		})
	}
}

func TestStart_DispatchFailureIncludesTrackingID(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStartHandler(&mockSubmitter{id: "job-9", err: intake.ErrDispatch}, 1024)(rec, startReq("m1", "x"))

	var body struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-9", body.Error.Details["trackingId"])
}

// --- status ---

func TestStatus_Found(t *testing.T) {
	jobs := &mockJobs{jobs: map[string]*models.Job{
		"job-1": {TrackingID: "job-1", Name: "m1", Status: models.JobStatusCompleted, Progress: 100,
			Result: `{"accuracy":0.93}`},
	}}
	rec := httptest.NewRecorder()

	NewStatusHandler(jobs)(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/status/job-1", nil), "trackingId", "job-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(100), body["progress"])
	assert.Equal(t, 0.93, body["result"].(map[string]any)["accuracy"])
	assert.Nil(t, body["error"])
}

func TestStatus_FailedJob(t *testing.T) {
	jobs := &mockJobs{jobs: map[string]*models.Job{
		"job-1": {TrackingID: "job-1", Status: models.JobStatusFailed, Error: "parsing dataset: bad row"},
	}}
	rec := httptest.NewRecorder()

	NewStatusHandler(jobs)(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/status/job-1", nil), "trackingId", "job-1"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "parsing dataset: bad row", body["error"])
	assert.Nil(t, body["result"])
}

func TestStatus_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()

	NewStatusHandler(&mockJobs{})(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/status/nope", nil), "trackingId", "nope"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errCode(t, rec))
}

func TestStatus_StoreError(t *testing.T) {
	rec := httptest.NewRecorder()

	NewStatusHandler(&mockJobs{getErr: errors.New("timeout")})(rec,
		withURLParam(httptest.NewRequest(http.MethodGet, "/status/x", nil), "trackingId", "x"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusList_Empty(t *testing.T) {
	rec := httptest.NewRecorder()

	NewStatusListHandler(&mockJobs{})(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStatusList_Error(t *testing.T) {
	rec := httptest.NewRecorder()

	NewStatusListHandler(&mockJobs{listErr: errors.New("scan failed")})(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewJobView_NonJSONResult(t *testing.T) {
	v := NewJobView(&models.Job{Status: models.JobStatusCompleted, Result: "accuracy=0.9"})
	assert.Equal(t, `"accuracy=0.9"`, string(v.Result))
}

// --- health ---

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	NewReadyHandler(map[string]Pinger{"redis": ok, "storage": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewReadyHandler(map[string]Pinger{"redis": ok, "storage": down})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEGRADED", errCode(t, rec))

	var body struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Error.Details["storage"])
	assert.Equal(t, "ok", body.Error.Details["redis"])
}

// --- machines ---

type mockMachines struct {
	list []*models.Machine
	err  error
}

func (m *mockMachines) ListMachines(context.Context) ([]*models.Machine, error) { return m.list, m.err }

func (m *mockMachines) GetMachine(_ context.Context, name string) (*models.Machine, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, mc := range m.list {
		if mc.Name == name {
			return mc, nil
		}
	}
	return nil, store.ErrNotFound
}

func TestListMachines(t *testing.T) {
	status := "completed"
	progress := 100
	machines := &mockMachines{list: []*models.Machine{
		{Name: "press-01", Status: &status, TrainingProgress: &progress, LastInferenceResults: []float64{0.1, 0.9}},
		{Name: "lathe-02"},
	}}
	rec := httptest.NewRecorder()

	NewListMachinesHandler(machines)(rec, httptest.NewRequest(http.MethodGet, "/all", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"name":"press-01","status":"completed","lastInferenceResults":[0.1,0.9],"trainingProgress":100},
		{"name":"lathe-02","status":null,"lastInferenceResults":null,"trainingProgress":null}
	]`, rec.Body.String())
}

func TestListMachines_Empty(t *testing.T) {
	rec := httptest.NewRecorder()
	NewListMachinesHandler(&mockMachines{})(rec, httptest.NewRequest(http.MethodGet, "/all", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListMachines_Error(t *testing.T) {
	rec := httptest.NewRecorder()
	NewListMachinesHandler(&mockMachines{err: errors.New("db down")})(rec, httptest.NewRequest(http.MethodGet, "/all", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetMachine(t *testing.T) {
	machines := &mockMachines{list: []*models.Machine{{Name: "press-01"}}}

	rec := httptest.NewRecorder()
	NewGetMachineHandler(machines)(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/machines/press-01", nil), "name", "press-01"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewGetMachineHandler(machines)(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/machines/nope", nil), "name", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MACHINE_NOT_FOUND", errCode(t, rec))
}
