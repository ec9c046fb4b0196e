package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.DBDSN)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, logging.INFO, cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-db", "postgres://x", "-max-concurrent-jobs", "5", "-log-level", "debug", "-log-json"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", cfg.DBDSN)
	assert.Equal(t, 5, cfg.MaxConcurrentJobs)
	assert.Equal(t, logging.DEBUG, cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
}

func TestLoadEnvVarsFillDefaults(t *testing.T) {
	t.Setenv("CATALOG_DB_DSN", "sqlite://env.db")
	t.Setenv("CATALOG_MAX_CONCURRENT_JOBS", "7")
	os.Unsetenv("CATALOG_LOG_LEVEL")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://env.db", cfg.DBDSN)
	assert.Equal(t, 7, cfg.MaxConcurrentJobs)
}
