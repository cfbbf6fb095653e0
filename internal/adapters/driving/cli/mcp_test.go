package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPServeCmd_HasPortFlag(t *testing.T) {
	flag := mcpServeCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "port flag should exist")
	assert.Equal(t, "p", flag.Shorthand)
	assert.Equal(t, "0", flag.DefValue)
}

func TestMCPServeCmd_RequiresPredictionService(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()
	SetServices(Services{})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"mcp", "serve"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prediction service is required")
}

func TestMCPServeCmd_RunsBackgroundWorkers(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	sched := &mockScheduler{started: make(chan struct{})}
	watched := make(chan struct{})
	SetServices(Services{
		Prediction: ts.prediction,
		Scheduler:  sched,
		WatchConfig: func(ctx context.Context) error {
			close(watched)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"mcp", "serve", "--port", "18765"})
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	select {
	case <-sched.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler not started")
	}
	select {
	case <-watched:
	case <-time.After(5 * time.Second):
		t.Fatal("config watcher not started")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(35 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Contains(t, buf.String(), "MCP server listening on http://localhost:18765")
}
