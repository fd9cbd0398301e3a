// Package worker runs training jobs taken from the work queue and records
// every step of their lifecycle in the job store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/internal/metrics"
	"github.com/kiranshivaraju/modeltrain/internal/store"
	"github.com/kiranshivaraju/modeltrain/internal/tracking"
	"github.com/kiranshivaraju/modeltrain/internal/training"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// Progress milestones reported while a job runs.
const (
	ProgressStarted   = 0
	ProgressParsed    = 10
	ProgressSplit     = 30
	ProgressBuilt     = 50
	ProgressFitted    = 70
	ProgressPredicted = 80
	ProgressScored    = 90
	ProgressDone      = 100
)

// Objects reads and removes staged datasets.
type Objects interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Tracker records runs in an experiment tracking server.
type Tracker interface {
	StartRun(ctx context.Context, experiment, runName string) (*tracking.Run, error)
	LogParam(ctx context.Context, run *tracking.Run, key, value string) error
	LogMetric(ctx context.Context, run *tracking.Run, key string, value float64) error
	LogArtifact(ctx context.Context, run *tracking.Run, path string, data []byte) error
	RegisterModel(ctx context.Context, run *tracking.Run, name, artifactPath string) error
	EndRun(ctx context.Context, run *tracking.Run, status string) error
}

// MachineRecorder mirrors training status into the machines table.
type MachineRecorder interface {
	RecordTraining(ctx context.Context, name string, opts ...store.TrainingOption) error
}

// Worker executes the training protocol for one work item at a time.
type Worker struct {
	jobs     jobstore.Store
	objects  Objects
	tracker  Tracker
	machines MachineRecorder
	cfg      training.Config
}

type Option func(*Worker)

// WithTracker enables experiment tracking. Without it tracking is skipped.
func WithTracker(t Tracker) Option {
	return func(w *Worker) {
		w.tracker = t
	}
}

// WithMachines enables the machines table mirror.
func WithMachines(m MachineRecorder) Option {
	return func(w *Worker) {
		w.machines = m
	}
}

func New(jobs jobstore.Store, objects Objects, cfg training.Config, opts ...Option) *Worker {
	w := &Worker{
		jobs:    jobs,
		objects: objects,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process runs item to a terminal job state. It returns an error only when
// the item must stay unacknowledged: the job could not be read, or its
// terminal state could not be written.
func (w *Worker) Process(ctx context.Context, item models.WorkItem) error {
	done := metrics.TrackJob()
	defer done()

	log := zap.S().With("tracking_id", item.TrackingID, "name", item.DatasetName, "delivery_id", item.ID)

	job, err := w.jobs.Get(ctx, item.TrackingID)
	if errors.Is(err, jobstore.ErrNotFound) {
		log.Warnw("dropping work item for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", item.TrackingID, err)
	}
	if job.Status.Terminal() {
		log.Infow("skipping redelivered work item for finished job", "status", job.Status)
		return nil
	}

	r := &run{w: w, item: item, log: log}
	return r.execute(ctx)
}

// run is the state of one protocol execution.
type run struct {
	w    *Worker
	item models.WorkItem
	log  *zap.SugaredLogger

	// stopped is set once the job is terminal, written by this run or by
	// another delivery.
	stopped bool
}

func (r *run) execute(ctx context.Context) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if r.stopped {
			// The job is already terminal; leave its record alone.
			r.log.Errorw("panic after job finished", "panic", rec)
			return
		}
		r.log.Errorw("panic during training", "panic", rec)
		err = r.fail(ctx, fmt.Sprintf("internal error: %v", rec))
	}()

	if err := r.advance(ctx, ProgressStarted, jobstore.WithStatus(models.JobStatusRunning)); err != nil || r.stopped {
		return err
	}

	data, err := r.w.objects.Get(ctx, r.item.ObjectKey)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("fetching dataset: %v", err))
	}
	if len(data) == 0 {
		return r.fail(ctx, fmt.Sprintf("fetching dataset: object %s is empty", r.item.ObjectKey))
	}

	ds, err := training.ParseCSV(data)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("parsing dataset: %v", err))
	}
	if err := r.advance(ctx, ProgressParsed); err != nil || r.stopped {
		return err
	}

	split, err := training.TrainTestSplit(ds.X, ds.Y, r.w.cfg.TestSize, r.w.cfg.Seed)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("splitting dataset: %v", err))
	}
	if err := r.advance(ctx, ProgressSplit); err != nil || r.stopped {
		return err
	}

	pipeline := training.NewPipeline(r.item.DatasetName, r.w.cfg)
	if err := r.advance(ctx, ProgressBuilt); err != nil || r.stopped {
		return err
	}

	if err := pipeline.Fit(split.XTrain, split.YTrain); err != nil {
		return r.fail(ctx, fmt.Sprintf("fitting model: %v", err))
	}
	if err := r.advance(ctx, ProgressFitted); err != nil || r.stopped {
		return err
	}

	pred, err := pipeline.Predict(split.XTest)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("predicting: %v", err))
	}
	if err := r.advance(ctx, ProgressPredicted); err != nil || r.stopped {
		return err
	}

	acc, err := training.Accuracy(pred, split.YTest)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("scoring: %v", err))
	}
	if err := r.advance(ctx, ProgressScored); err != nil || r.stopped {
		return err
	}

	result := training.Metrics{
		Accuracy:     acc,
		TrainSamples: len(split.YTrain),
		TestSamples:  len(split.YTest),
		Classes:      len(pipeline.Classifier.Classes),
	}
	r.track(ctx, pipeline, result, data)

	if err := r.w.objects.Delete(ctx, r.item.ObjectKey); err != nil {
		r.log.Warnw("failed to delete staged dataset", "key", r.item.ObjectKey, "error", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("encoding result: %v", err))
	}
	return r.finish(ctx, models.JobStatusCompleted,
		jobstore.WithProgress(ProgressDone),
		jobstore.WithResult(string(payload)),
	)
}

// advance records progress. A failed write is turned into a FAILED job.
func (r *run) advance(ctx context.Context, progress int, opts ...jobstore.UpdateOption) error {
	opts = append(opts, jobstore.WithProgress(progress))
	err := r.w.jobs.Update(ctx, r.item.TrackingID, opts...)
	if errors.Is(err, jobstore.ErrInvalidTransition) {
		r.log.Infow("job already finished by another delivery, stopping", "error", err)
		r.stopped = true
		return nil
	}
	if err != nil {
		return r.fail(ctx, fmt.Sprintf("recording progress: %v", err))
	}

	r.log.Infow("job progress", "status", models.JobStatusRunning, "progress", progress)
	r.mirror(ctx, models.JobStatusRunning, progress)
	return nil
}

func (r *run) fail(ctx context.Context, msg string) error {
	r.log.Warnw("training failed", "error", msg)
	return r.finish(ctx, models.JobStatusFailed, jobstore.WithError(msg))
}

// finish writes a terminal status. Its error is the only one Process returns
// for a job that was read successfully.
func (r *run) finish(ctx context.Context, status models.JobStatus, opts ...jobstore.UpdateOption) error {
	opts = append(opts, jobstore.WithStatus(status))
	err := r.w.jobs.Update(ctx, r.item.TrackingID, opts...)
	if errors.Is(err, jobstore.ErrInvalidTransition) {
		r.stopped = true
		r.log.Infow("job already finished by another delivery", "status", status)
		return nil
	}
	if err != nil {
		r.log.Errorw("failed to record terminal status", "status", status, "error", err)
		return fmt.Errorf("record %s status for job %s: %w", status, r.item.TrackingID, err)
	}
	r.stopped = true

	metrics.IncreaseJobsFinished(string(status))
	r.log.Infow("job finished", "status", status)

	var progress *int
	if status == models.JobStatusCompleted {
		p := ProgressDone
		progress = &p
	}
	r.mirrorStatus(ctx, status, progress)
	return nil
}

func (r *run) mirror(ctx context.Context, status models.JobStatus, progress int) {
	r.mirrorStatus(ctx, status, &progress)
}

func (r *run) mirrorStatus(ctx context.Context, status models.JobStatus, progress *int) {
	if r.w.machines == nil {
		return
	}
	opts := []store.TrainingOption{store.WithStatus(string(status))}
	if progress != nil {
		opts = append(opts, store.WithProgress(*progress))
	}
	if err := r.w.machines.RecordTraining(ctx, r.item.DatasetName, opts...); err != nil {
		r.log.Warnw("failed to mirror training state to machines table", "error", err)
	}
}

// track records the run in the tracking server. Failures are logged only.
func (r *run) track(ctx context.Context, pipeline *training.Pipeline, result training.Metrics, dataset []byte) {
	t := r.w.tracker
	if t == nil {
		return
	}

	name := r.item.DatasetName
	tr, err := t.StartRun(ctx, name, name+"-"+r.item.TrackingID)
	if err != nil {
		r.log.Warnw("experiment tracking unavailable for job", "error", err)
		return
	}

	status := tracking.RunStatusFinished
	if err := r.logRun(ctx, tr, pipeline, result, dataset); err != nil {
		r.log.Warnw("failed to record training run", "run_id", tr.ID, "error", err)
		status = tracking.RunStatusFailed
	}
	if err := t.EndRun(ctx, tr, status); err != nil {
		r.log.Warnw("failed to close training run", "run_id", tr.ID, "error", err)
	}
}

func (r *run) logRun(ctx context.Context, tr *tracking.Run, pipeline *training.Pipeline, result training.Metrics, dataset []byte) error {
	t := r.w.tracker
	cfg := r.w.cfg
	name := r.item.DatasetName

	params := map[string]string{
		"test_size":      strconv.FormatFloat(cfg.TestSize, 'g', -1, 64),
		"seed":           strconv.FormatUint(cfg.Seed, 10),
		"pca_components": strconv.Itoa(cfg.Components),
		"max_iterations": strconv.Itoa(cfg.MaxIterations),
		"learning_rate":  strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
	}
	for k, v := range params {
		if err := t.LogParam(ctx, tr, k, v); err != nil {
			return err
		}
	}
	if err := t.LogMetric(ctx, tr, "accuracy", result.Accuracy); err != nil {
		return err
	}

	artifact, err := pipeline.MarshalArtifact()
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	if err := t.LogArtifact(ctx, tr, "model/"+name+".json", artifact); err != nil {
		return err
	}
	descriptor, err := tracking.NewModelDescriptor(tr, "model", name+".json", time.Now()).Marshal()
	if err != nil {
		return err
	}
	if err := t.LogArtifact(ctx, tr, "model/"+tracking.MLmodelFile, descriptor); err != nil {
		return err
	}
	if err := t.LogArtifact(ctx, tr, "datasets/"+name+".csv", dataset); err != nil {
		return err
	}
	return t.RegisterModel(ctx, tr, name, "model")
}
