// Package tracking records training runs in an MLflow tracking server over
// its REST API.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrTrackingUnreachable = errors.New("tracking server unreachable")
	ErrTrackingRequest     = errors.New("tracking request failed")
)

const (
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"

	codeNotFound      = "RESOURCE_DOES_NOT_EXIST"
	codeAlreadyExists = "RESOURCE_ALREADY_EXISTS"

	proxiedArtifactScheme = "mlflow-artifacts:/"
)

// Run identifies an MLflow run.
type Run struct {
	ID           string
	ExperimentID string
	ArtifactURI  string
}

// APIError is a non-2xx MLflow response.
type APIError struct {
	Status  int
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrTrackingRequest }

// HTTPClient talks to an MLflow tracking server.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	now      func() time.Time
}

// NewHTTPClient creates a new MLflow client.
func NewHTTPClient(baseURL, username, password string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Probe checks that the server answers tracking API calls.
func (c *HTTPClient) Probe(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/2.0/mlflow/experiments/search",
		map[string]any{"max_results": 1}, nil)
}

// StartRun creates the experiment if needed and opens a run in it.
func (c *HTTPClient) StartRun(ctx context.Context, experiment, runName string) (*Run, error) {
	experimentID, err := c.ensureExperiment(ctx, experiment)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Run struct {
			Info struct {
				RunID       string `json:"run_id"`
				ArtifactURI string `json:"artifact_uri"`
			} `json:"info"`
		} `json:"run"`
	}
	body := map[string]any{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    c.now().UnixMilli(),
		"tags":          []map[string]string{{"key": "mlflow.runName", "value": runName}},
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/runs/create", body, &resp); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &Run{
		ID:           resp.Run.Info.RunID,
		ExperimentID: experimentID,
		ArtifactURI:  resp.Run.Info.ArtifactURI,
	}, nil
}

func (c *HTTPClient) LogMetric(ctx context.Context, run *Run, key string, value float64) error {
	body := map[string]any{
		"run_id":    run.ID,
		"key":       key,
		"value":     value,
		"timestamp": c.now().UnixMilli(),
		"step":      0,
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/runs/log-metric", body, nil); err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	return nil
}

func (c *HTTPClient) LogParam(ctx context.Context, run *Run, key, value string) error {
	body := map[string]any{"run_id": run.ID, "key": key, "value": value}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/runs/log-parameter", body, nil); err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	return nil
}

// LogArtifact uploads data under path in the run's artifact directory. Only
// servers that proxy artifact storage (mlflow-artifacts:/ URIs) are supported.
func (c *HTTPClient) LogArtifact(ctx context.Context, run *Run, path string, data []byte) error {
	if !strings.HasPrefix(run.ArtifactURI, proxiedArtifactScheme) {
		return fmt.Errorf("%w: artifact uri %q is not served by the tracking server",
			ErrTrackingRequest, run.ArtifactURI)
	}
	root := strings.Trim(strings.TrimPrefix(run.ArtifactURI, proxiedArtifactScheme), "/")
	u := fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s", c.baseURL, root, strings.TrimLeft(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := c.send(req, nil); err != nil {
		return fmt.Errorf("log artifact %s: %w", path, err)
	}
	return nil
}

// RegisterModel registers artifactPath of run as a new version of the named
// model, creating the registered model on first use.
func (c *HTTPClient) RegisterModel(ctx context.Context, run *Run, name, artifactPath string) error {
	err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/registered-models/create",
		map[string]any{"name": name}, nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == codeAlreadyExists) {
		return fmt.Errorf("create registered model %s: %w", name, err)
	}

	body := map[string]any{
		"name":   name,
		"source": strings.TrimRight(run.ArtifactURI, "/") + "/" + strings.TrimLeft(artifactPath, "/"),
		"run_id": run.ID,
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/model-versions/create", body, nil); err != nil {
		return fmt.Errorf("create model version %s: %w", name, err)
	}
	return nil
}

// EndRun marks the run terminated with status.
func (c *HTTPClient) EndRun(ctx context.Context, run *Run, status string) error {
	body := map[string]any{
		"run_id":   run.ID,
		"status":   status,
		"end_time": c.now().UnixMilli(),
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/runs/update", body, nil); err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

func (c *HTTPClient) ensureExperiment(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	path := "/api/2.0/mlflow/experiments/get-by-name?experiment_name=" + url.QueryEscape(name)
	err := c.do(ctx, http.MethodGet, path, nil, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != codeNotFound {
		return "", fmt.Errorf("get experiment %s: %w", name, err)
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/mlflow/experiments/create",
		map[string]any{"name": name}, &created); err != nil {
		return "", fmt.Errorf("create experiment %s: %w", name, err)
	}
	return created.ExperimentID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *HTTPClient) send(req *http.Request, out any) error {
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding tracking response: %w", err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTrackingUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrTrackingRequest, err)
}
