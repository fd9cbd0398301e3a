package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMLflow records requests and answers a minimal subset of the MLflow API.
type fakeMLflow struct {
	mu             sync.Mutex
	calls          []string
	bodies         map[string]map[string]any
	experiments    map[string]string
	registered     map[string]bool
	artifacts      map[string]string
	failProbe      bool
	rejectArtifact bool
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{
		bodies:      map[string]map[string]any{},
		experiments: map[string]string{},
		registered:  map[string]bool{},
		artifacts:   map[string]string{},
	}
}

func (f *fakeMLflow) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeErr := func(w http.ResponseWriter, status int, code string) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": code})
	}
	record := func(r *http.Request) map[string]any {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		body := map[string]any{}
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.bodies[r.URL.Path] = body
		return body
	}

	mux.HandleFunc("/api/2.0/mlflow/experiments/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if f.failProbe {
			writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}
		_, _ = w.Write([]byte(`{"experiments":[]}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/experiments/get-by-name", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		f.mu.Unlock()
		if !ok {
			writeErr(w, http.StatusNotFound, codeNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"experiment": map[string]string{"experiment_id": id}})
	})
	mux.HandleFunc("/api/2.0/mlflow/experiments/create", func(w http.ResponseWriter, r *http.Request) {
		body := record(r)
		f.mu.Lock()
		f.experiments[body["name"].(string)] = "7"
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"experiment_id":"7"}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/create", func(w http.ResponseWriter, r *http.Request) {
		body := record(r)
		resp := map[string]any{"run": map[string]any{"info": map[string]string{
			"run_id":       "run-1",
			"artifact_uri": "mlflow-artifacts:/" + body["experiment_id"].(string) + "/run-1/artifacts",
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	for _, p := range []string{"/api/2.0/mlflow/runs/log-metric", "/api/2.0/mlflow/runs/log-parameter",
		"/api/2.0/mlflow/runs/update", "/api/2.0/mlflow/model-versions/create"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			record(r)
			_, _ = w.Write([]byte(`{}`))
		})
	}
	mux.HandleFunc("/api/2.0/mlflow/registered-models/create", func(w http.ResponseWriter, r *http.Request) {
		body := record(r)
		name := body["name"].(string)
		f.mu.Lock()
		exists := f.registered[name]
		f.registered[name] = true
		f.mu.Unlock()
		if exists {
			writeErr(w, http.StatusBadRequest, codeAlreadyExists)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/2.0/mlflow-artifacts/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if f.rejectArtifact {
			writeErr(w, http.StatusForbidden, "PERMISSION_DENIED")
			return
		}
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		f.mu.Lock()
		f.artifacts[r.URL.Path] = string(data)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeMLflow) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(f.handler(t))
	t.Cleanup(ts.Close)
	c := NewHTTPClient(ts.URL, "", "", 5*time.Second)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestProbe_OK(t *testing.T) {
	c := newTestClient(t, newFakeMLflow())
	assert.NoError(t, c.Probe(context.Background()))
}

func TestProbe_ServerError(t *testing.T) {
	f := newFakeMLflow()
	f.failProbe = true
	c := newTestClient(t, f)

	err := c.Probe(context.Background())
	assert.ErrorIs(t, err, ErrTrackingRequest)
}

func TestProbe_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewHTTPClient(url, "", "", time.Second)
	err := c.Probe(context.Background())
	assert.ErrorIs(t, err, ErrTrackingUnreachable)
}

func TestStartRun_CreatesMissingExperiment(t *testing.T) {
	f := newFakeMLflow()
	c := newTestClient(t, f)

	run, err := c.StartRun(context.Background(), "m1", "m1-abc")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "7", run.ExperimentID)
	assert.Equal(t, "mlflow-artifacts:/7/run-1/artifacts", run.ArtifactURI)

	assert.Contains(t, f.calls, "POST /api/2.0/mlflow/experiments/create")
	assert.Equal(t, "m1-abc", f.bodies["/api/2.0/mlflow/runs/create"]["run_name"])
}

func TestStartRun_ReusesExperiment(t *testing.T) {
	f := newFakeMLflow()
	f.experiments["m1"] = "3"
	c := newTestClient(t, f)

	run, err := c.StartRun(context.Background(), "m1", "m1-abc")
	require.NoError(t, err)
	assert.Equal(t, "3", run.ExperimentID)
	assert.NotContains(t, f.calls, "POST /api/2.0/mlflow/experiments/create")
}

func TestLogMetricAndEndRun(t *testing.T) {
	f := newFakeMLflow()
	c := newTestClient(t, f)
	run := &Run{ID: "run-1", ExperimentID: "7", ArtifactURI: "mlflow-artifacts:/7/run-1/artifacts"}

	require.NoError(t, c.LogMetric(context.Background(), run, "accuracy", 0.95))
	require.NoError(t, c.LogParam(context.Background(), run, "seed", "42"))
	require.NoError(t, c.EndRun(context.Background(), run, RunStatusFinished))

	metric := f.bodies["/api/2.0/mlflow/runs/log-metric"]
	assert.Equal(t, "accuracy", metric["key"])
	assert.InDelta(t, 0.95, metric["value"].(float64), 1e-9)
	assert.Equal(t, RunStatusFinished, f.bodies["/api/2.0/mlflow/runs/update"]["status"])
}

func TestLogArtifact(t *testing.T) {
	f := newFakeMLflow()
	c := newTestClient(t, f)
	run := &Run{ID: "run-1", ExperimentID: "7", ArtifactURI: "mlflow-artifacts:/7/run-1/artifacts"}

	require.NoError(t, c.LogArtifact(context.Background(), run, "model/m1.json", []byte(`{"a":1}`)))
	assert.Equal(t, `{"a":1}`, f.artifacts["/api/2.0/mlflow-artifacts/artifacts/7/run-1/artifacts/model/m1.json"])
}

func TestLogArtifact_UnproxiedStore(t *testing.T) {
	c := newTestClient(t, newFakeMLflow())
	run := &Run{ID: "run-1", ArtifactURI: "s3://bucket/7/run-1/artifacts"}

	err := c.LogArtifact(context.Background(), run, "model/m1.json", []byte(`{}`))
	assert.ErrorIs(t, err, ErrTrackingRequest)
}

func TestLogArtifact_Rejected(t *testing.T) {
	f := newFakeMLflow()
	f.rejectArtifact = true
	c := newTestClient(t, f)
	run := &Run{ID: "run-1", ArtifactURI: "mlflow-artifacts:/7/run-1/artifacts"}

	err := c.LogArtifact(context.Background(), run, "model/m1.json", []byte(`{}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestRegisterModel_TwiceReusesRegisteredModel(t *testing.T) {
	f := newFakeMLflow()
	c := newTestClient(t, f)
	run := &Run{ID: "run-1", ArtifactURI: "mlflow-artifacts:/7/run-1/artifacts"}

	require.NoError(t, c.RegisterModel(context.Background(), run, "m1", "model"))
	require.NoError(t, c.RegisterModel(context.Background(), run, "m1", "model"))

	version := f.bodies["/api/2.0/mlflow/model-versions/create"]
	assert.Equal(t, "mlflow-artifacts:/7/run-1/artifacts/model", version["source"])
	assert.Equal(t, "run-1", version["run_id"])
}
