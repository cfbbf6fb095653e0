package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShow(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.config.values["cache.result_ttl"] = "30m"
	ts.config.values["cache.redis.password"] = "supersecret"
	ts.config.values["mode.screening_threshold"] = int64(50)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"config", "show"})

	require.NoError(t, rootCmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "/tmp/foldline/config.toml")
	assert.Contains(t, out, `cache.result_ttl = "30m"`)
	assert.Contains(t, out, "mode.screening_threshold = 50")
	assert.Contains(t, out, "cache.redis.password = ****cret")
	assert.NotContains(t, out, "supersecret")
	assert.Contains(t, out, "Active model version: v1")
}

func TestConfigShow_Empty(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"config"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "No values set; defaults are in effect.")
}

func TestConfigSet(t *testing.T) {
	t.Run("stores typed value and reloads", func(t *testing.T) {
		ts, cleanup := setupTestServices()
		defer cleanup()

		buf := new(bytes.Buffer)
		rootCmd.SetOut(buf)
		rootCmd.SetArgs([]string{"config", "set", "concurrency.max_parallel", "8"})

		require.NoError(t, rootCmd.Execute())
		assert.Equal(t, int64(8), ts.config.values["concurrency.max_parallel"])
		assert.Equal(t, 1, ts.settings.reloads)
		assert.Contains(t, buf.String(), "Set concurrency.max_parallel = 8")
	})

	t.Run("existing string stays string", func(t *testing.T) {
		ts, cleanup := setupTestServices()
		defer cleanup()
		ts.config.values["model.version"] = "v1"

		rootCmd.SetOut(new(bytes.Buffer))
		rootCmd.SetArgs([]string{"config", "set", "model.version", "3"})

		require.NoError(t, rootCmd.Execute())
		assert.Equal(t, "3", ts.config.values["model.version"])
	})

	t.Run("rolls back rejected value", func(t *testing.T) {
		ts, cleanup := setupTestServices()
		defer cleanup()
		ts.config.values["mode.accuracy_threshold"] = 0.8
		ts.settings.reloadErr = errors.New("config: mode.accuracy_threshold must be within [0,1]")

		buf := new(bytes.Buffer)
		rootCmd.SetOut(buf)
		rootCmd.SetErr(buf)
		rootCmd.SetArgs([]string{"config", "set", "mode.accuracy_threshold", "4.5"})

		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rejected mode.accuracy_threshold")
		assert.Equal(t, 0.8, ts.config.values["mode.accuracy_threshold"])
	})

	t.Run("store error", func(t *testing.T) {
		ts, cleanup := setupTestServices()
		defer cleanup()
		ts.config.setErr = errors.New("read-only file system")

		buf := new(bytes.Buffer)
		rootCmd.SetOut(buf)
		rootCmd.SetErr(buf)
		rootCmd.SetArgs([]string{"config", "set", "cache.backend", "sqlite"})

		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to set cache.backend")
		assert.Zero(t, ts.settings.reloads)
	})
}

func TestConfigPath(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"config", "path"})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "/tmp/foldline/config.toml\n", buf.String())
}

func TestParseConfigValue(t *testing.T) {
	assert.Equal(t, int64(42), parseConfigValue("42"))
	assert.Equal(t, 0.5, parseConfigValue("0.5"))
	assert.Equal(t, true, parseConfigValue("true"))
	assert.Equal(t, "15m", parseConfigValue("15m"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "****5678", maskSecret("12345678"))
}
