package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the trainer processes.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Tracking TrackingConfig
	Worker   WorkerConfig
	Training TrainingConfig
}

type ServerConfig struct {
	Port         int      `envconfig:"TRAINER_PORT" default:"8080"`
	Env          string   `envconfig:"TRAINER_ENV" default:"development"`
	AdminPort    int      `envconfig:"WORKER_ADMIN_PORT" default:"9090"`
	MachinesPort int      `envconfig:"MACHINES_PORT" default:"8081"`
	CORSOrigins  []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	LogLevel     string   `envconfig:"LOG_LEVEL" default:"info"`

	// TrustProxyHeaders keys rate limits and logs on X-Forwarded-For.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	// SubmitRateLimit is the per-client limit on POST /start per minute; 0 disables it.
	SubmitRateLimit int   `envconfig:"SUBMIT_RATE_LIMIT" default:"60"`
	MaxUploadBytes  int64 `envconfig:"MAX_UPLOAD_BYTES" default:"67108864"`
}

type RedisConfig struct {
	URL string `envconfig:"REDIS_URL"`
}

type QueueConfig struct {
	URL  string `envconfig:"QUEUE_URL"`
	Name string `envconfig:"QUEUE_NAME" default:"training"`
}

type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxConns        int           `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DATABASE_MIN_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"5m"`
}

type StorageConfig struct {
	Endpoint  string `envconfig:"S3_ENDPOINT"`
	AccessKey string `envconfig:"S3_ACCESS_KEY"`
	SecretKey string `envconfig:"S3_SECRET_KEY"`
	Bucket    string `envconfig:"S3_BUCKET" default:"datasets"`
	UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

type TrackingConfig struct {
	URI      string        `envconfig:"MLFLOW_TRACKING_URI"`
	Username string        `envconfig:"MLFLOW_TRACKING_USERNAME"`
	Password string        `envconfig:"MLFLOW_TRACKING_PASSWORD"`
	Timeout  time.Duration `envconfig:"MLFLOW_TIMEOUT" default:"30s"`
}

type WorkerConfig struct {
	Name        string        `envconfig:"WORKER_NAME"`
	Concurrency int           `envconfig:"WORKER_CONCURRENCY" default:"1"`
	PollTimeout time.Duration `envconfig:"WORKER_POLL_TIMEOUT" default:"5s"`

	// HeartbeatTTL is how long other workers wait before reclaiming the
	// items of a worker that stopped heartbeating.
	HeartbeatTTL time.Duration `envconfig:"WORKER_HEARTBEAT_TTL" default:"30s"`
	RetryBackoff time.Duration `envconfig:"WORKER_RETRY_BACKOFF" default:"5s"`
}

type TrainingConfig struct {
	TestSize      float64 `envconfig:"TRAIN_TEST_SIZE" default:"0.2"`
	Seed          uint64  `envconfig:"TRAIN_SEED" default:"42"`
	MaxIterations int     `envconfig:"TRAIN_MAX_ITERATIONS" default:"500"`
	LearningRate  float64 `envconfig:"TRAIN_LEARNING_RATE" default:"0.1"`
}

// TrackingEnabled reports whether an MLflow server is configured.
func (c TrackingConfig) TrackingEnabled() bool {
	return c.URI != ""
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Requirements that only apply to one process are checked by RequireTrainer
// and RequireDatabase.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if cfg.Queue.URL == "" {
		cfg.Queue.URL = cfg.Redis.URL
	}
	if cfg.Worker.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		cfg.Worker.Name = host
	}
	cfg.Server.LogLevel = strings.ToLower(cfg.Server.LogLevel)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, port := range map[string]int{
		"TRAINER_PORT":      c.Server.Port,
		"WORKER_ADMIN_PORT": c.Server.AdminPort,
		"MACHINES_PORT":     c.Server.MachinesPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	for name, u := range map[string]string{"REDIS_URL": c.Redis.URL, "QUEUE_URL": c.Queue.URL} {
		if u != "" && !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
			return fmt.Errorf("%s must start with redis:// or rediss://, got %q", name, u)
		}
	}

	if c.Server.SubmitRateLimit < 0 {
		return fmt.Errorf("SUBMIT_RATE_LIMIT must not be negative, got %d", c.Server.SubmitRateLimit)
	}
	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if strings.TrimSpace(c.Queue.Name) == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}

	if c.Tracking.URI != "" &&
		!strings.HasPrefix(c.Tracking.URI, "http://") && !strings.HasPrefix(c.Tracking.URI, "https://") {
		return fmt.Errorf("MLFLOW_TRACKING_URI must start with http:// or https://, got %q", c.Tracking.URI)
	}

	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS must be between 0 and DATABASE_MAX_CONNS, got %d", c.Database.MinConns)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.PollTimeout < time.Second {
		return fmt.Errorf("WORKER_POLL_TIMEOUT must be at least 1s, got %s", c.Worker.PollTimeout)
	}

	if c.Worker.HeartbeatTTL < 3*time.Second {
		return fmt.Errorf("WORKER_HEARTBEAT_TTL must be at least 3s, got %s", c.Worker.HeartbeatTTL)
	}
	if c.Worker.RetryBackoff < 0 {
		return fmt.Errorf("WORKER_RETRY_BACKOFF must not be negative, got %s", c.Worker.RetryBackoff)
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("TRAIN_TEST_SIZE must be between 0 and 1 exclusive, got %v", c.Training.TestSize)
	}
	if c.Training.MaxIterations < 1 {
		return fmt.Errorf("TRAIN_MAX_ITERATIONS must be at least 1, got %d", c.Training.MaxIterations)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("TRAIN_LEARNING_RATE must be positive, got %v", c.Training.LearningRate)
	}

	return nil
}

// RequireTrainer checks the settings needed by the serve and worker processes.
func (c *Config) RequireTrainer() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("S3_BUCKET must not be empty")
	}
	return nil
}

// RequireDatabase checks the settings needed by the machines and migrate processes.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
