package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgresql://localhost/bank")
	t.Setenv("AMQP_URL", "amqp://localhost:5672/")
	t.Setenv("METRICS_PORT", "")
	t.Setenv("WORKERS", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.MetricsPort)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "development", cfg.Env)
}

func TestLoadRequiredVars(t *testing.T) {
	t.Setenv("DB_SOURCE", "")
	t.Setenv("AMQP_URL", "amqp://localhost:5672/")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DB_SOURCE", "postgresql://localhost/bank")
	t.Setenv("AMQP_URL", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadWorkers(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgresql://localhost/bank")
	t.Setenv("AMQP_URL", "amqp://localhost:5672/")

	t.Setenv("WORKERS", "12")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Workers)

	t.Setenv("WORKERS", "zero")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("WORKERS", "0")
	_, err = Load()
	require.Error(t, err)
}
