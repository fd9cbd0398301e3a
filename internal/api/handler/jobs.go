package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
	"github.com/kiranshivaraju/modeltrain/internal/intake"
	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// Submitter defines the intake the start handler depends on.
type Submitter interface {
	Submit(ctx context.Context, data []byte, contentType, name string) (string, error)
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, trackingID string) (*models.Job, error)
	List(ctx context.Context) iter.Seq2[models.JobSummary, error]
}

type startResponse struct {
	TrackingID string `json:"trackingId"`
}

// JobView is the wire form of a job record.
type JobView struct {
	TrackingID string           `json:"trackingId"`
	Name       string           `json:"name"`
	Status     models.JobStatus `json:"status"`
	Progress   int              `json:"progress"`
	Result     json.RawMessage  `json:"result"`
	Error      *string          `json:"error"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// NewJobView converts a job record. A result that is valid JSON is embedded
// as is; anything else is returned as a JSON string.
func NewJobView(job *models.Job) JobView {
	v := JobView{
		TrackingID: job.TrackingID,
		Name:       job.Name,
		Status:     job.Status,
		Progress:   job.Progress,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.Result != "" {
		if json.Valid([]byte(job.Result)) {
			v.Result = json.RawMessage(job.Result)
		} else {
			quoted, _ := json.Marshal(job.Result)
			v.Result = quoted
		}
	}
	if job.Error != "" {
		msg := job.Error
		v.Error = &msg
	}
	return v
}

// NewStartHandler returns an http.HandlerFunc for POST /start.
func NewStartHandler(svc Submitter, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			response.Error(w, http.StatusBadRequest, response.CodeMissingName, "query parameter name is required", nil)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
					"dataset exceeds the upload limit", map[string]int64{"limitBytes": tooLarge.Limit})
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "could not read request body", nil)
			return
		}
		if len(data) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeEmptyPayload, "request body must contain the dataset", nil)
			return
		}

		id, err := svc.Submit(r.Context(), data, r.Header.Get("Content-Type"), name)
		switch {
		case err == nil:
			response.JSON(w, startResponse{TrackingID: id})
		case errors.Is(err, intake.ErrMissingName):
			response.Error(w, http.StatusBadRequest, response.CodeMissingName, "query parameter name is required", nil)
		case errors.Is(err, intake.ErrStaging), errors.Is(err, intake.ErrEmptyPayload):
			// The failure is recorded on the job; the caller polls it like any other.
			response.JSON(w, startResponse{TrackingID: id})
		case errors.Is(err, intake.ErrDispatch):
			response.Error(w, http.StatusServiceUnavailable, response.CodeDispatchFailed,
				"the job could not be queued and was marked failed", map[string]string{"trackingId": id})
		default:
			zap.S().Errorw("submission failed", "name", name, "error", err)
			response.Error(w, http.StatusServiceUnavailable, response.CodeStoreUnavailable,
				"the job store is not available", nil)
		}
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{trackingId}.
func NewStatusHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "trackingId")

		job, err := jobs.Get(r.Context(), id)
		if errors.Is(err, jobstore.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "no job with this tracking id", nil)
			return
		}
		if err != nil {
			zap.S().Errorw("failed to read job", "tracking_id", id, "error", err)
			response.Error(w, http.StatusServiceUnavailable, response.CodeStoreUnavailable,
				"the job store is not available", nil)
			return
		}

		response.JSON(w, NewJobView(job))
	}
}

// NewStatusListHandler returns an http.HandlerFunc for GET /status.
func NewStatusListHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := []models.JobSummary{}
		for s, err := range jobs.List(r.Context()) {
			if err != nil {
				zap.S().Errorw("failed to list jobs", "error", err)
				response.Error(w, http.StatusServiceUnavailable, response.CodeStoreUnavailable,
					"the job store is not available", nil)
				return
			}
			summaries = append(summaries, s)
		}

		response.JSON(w, summaries)
	}
}
