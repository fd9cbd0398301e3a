package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/config"
	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/internal/metrics"
	"github.com/kiranshivaraju/modeltrain/internal/queue"
	"github.com/kiranshivaraju/modeltrain/internal/storage"
	"github.com/kiranshivaraju/modeltrain/internal/training"
)

const probeTimeout = 5 * time.Second

// backends are the shared stores used by the API and the worker.
type backends struct {
	jobs    *jobstore.RedisStore
	queue   *queue.RedisQueue
	objects *storage.MinioStore
}

// openBackends connects to Redis, the queue and object storage and probes
// each one so a misconfigured process fails at startup.
func openBackends(ctx context.Context, c *config.Config, consumer string) (*backends, error) {
	jobs, err := jobstore.NewRedisStore(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	q, err := queue.NewRedisQueue(c.Queue.URL, c.Queue.Name, consumer)
	if err != nil {
		_ = jobs.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	objects, err := storage.NewMinioStore(
		storage.WithEndpoint(c.Storage.Endpoint),
		storage.WithBucket(c.Storage.Bucket),
		storage.WithAccessKey(c.Storage.AccessKey),
		storage.WithSecretKey(c.Storage.SecretKey),
		storage.WithSSL(c.Storage.UseSSL),
	)
	if err != nil {
		_ = jobs.Close()
		_ = q.Close()
		return nil, fmt.Errorf("open object storage: %w", err)
	}

	b := &backends{jobs: jobs, queue: q, objects: objects}
	if err := b.probe(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := b.jobs.Ping(ctx); err != nil {
		return fmt.Errorf("job store unreachable: %w", err)
	}
	if err := b.queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue unreachable: %w", err)
	}
	created, err := b.objects.EnsureBucket(ctx)
	if err != nil {
		return fmt.Errorf("object storage unreachable: %w", err)
	}
	if created {
		zap.S().Infow("created dataset bucket", "bucket", b.objects.Bucket())
	}
	return nil
}

func (b *backends) Close() {
	if err := b.jobs.Close(); err != nil {
		zap.S().Warnw("close job store", "error", err)
	}
	if err := b.queue.Close(); err != nil {
		zap.S().Warnw("close queue", "error", err)
	}
}

// registerHTTPMetrics attaches the request metrics of one process to the
// default registry.
func registerHTTPMetrics(service string) *metrics.Middleware {
	m := metrics.NewMiddleware(service)
	m.MustRegister(prometheus.DefaultRegisterer)
	return m
}

func trainingConfig(c config.TrainingConfig) training.Config {
	tc := training.DefaultConfig()
	tc.TestSize = c.TestSize
	tc.Seed = c.Seed
	tc.MaxIterations = c.MaxIterations
	tc.LearningRate = c.LearningRate
	return tc
}
