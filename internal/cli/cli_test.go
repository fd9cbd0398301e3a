package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kiranshivaraju/modeltrain/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := newLogger(tt.level)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := newLogger("verbose")
	assert.Error(t, err)
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "machines", "migrate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestTrainingConfig(t *testing.T) {
	tc := trainingConfig(config.TrainingConfig{
		TestSize:      0.25,
		Seed:          7,
		MaxIterations: 100,
		LearningRate:  0.05,
	})

	assert.Equal(t, 0.25, tc.TestSize)
	assert.Equal(t, uint64(7), tc.Seed)
	assert.Equal(t, 100, tc.MaxIterations)
	assert.Equal(t, 0.05, tc.LearningRate)
	assert.Equal(t, 2, tc.Components)
}

func TestConnectTracker_Disabled(t *testing.T) {
	assert.Nil(t, connectTracker(context.Background(), config.TrackingConfig{}))
}

func TestConnectTracker_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := connectTracker(context.Background(), config.TrackingConfig{
		URI:     "http://" + addr,
		Timeout: time.Second,
	})
	assert.Nil(t, client)
}

func TestConnectMachines_NotConfigured(t *testing.T) {
	machines, closeFn := connectMachines(context.Background(), config.DatabaseConfig{})
	assert.Nil(t, machines)
	closeFn()
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newHTTPServer(0, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ListenerClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	srv := newHTTPServer(0, http.NotFoundHandler())
	err = serve(context.Background(), srv, ln)
	assert.Error(t, err)
}
