package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8887/ocpp", cfg.SupervisionURL)
	assert.Equal(t, "templates/stations.yaml", cfg.StationTemplateFile)
	assert.Equal(t, 8888, cfg.APIPort)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 600, cfg.HeartbeatInterval)
	assert.Equal(t, 60, cfg.MeterValueSampleInterval)
	assert.Equal(t, 30*time.Second, cfg.StatisticsFlushInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SUPERVISION_URL", "ws://csms.example/ocpp")
	t.Setenv("API_PORT", "9000")
	t.Setenv("HEARTBEAT_INTERVAL", "120")
	t.Setenv("STATISTICS_FLUSH_INTERVAL", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://csms.example/ocpp", cfg.SupervisionURL)
	assert.Equal(t, 9000, cfg.APIPort)
	assert.Equal(t, 120, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.StatisticsFlushInterval)
}

func TestLoadConfigRejectsInvalidPort(t *testing.T) {
	t.Setenv("API_PORT", "not-a-port")

	_, err := LoadConfig()
	assert.Error(t, err)
}
