package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the simulator configuration
type Config struct {
	// CSMS connection
	SupervisionURL string

	// Station templates
	StationTemplateFile string

	// HTTP control API
	APIPort int

	// Worker channel bridge (optional, empty disables the bridge)
	NATSURL string

	// Performance statistics
	StatisticsFile          string
	StatisticsFlushInterval time.Duration

	// OCPP defaults
	HeartbeatInterval        int
	MeterValueSampleInterval int

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8888"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %v", err)
	}

	heartbeatInterval, err := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %v", err)
	}

	meterValueSampleInterval, err := strconv.Atoi(getEnv("METER_VALUE_SAMPLE_INTERVAL", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid METER_VALUE_SAMPLE_INTERVAL: %v", err)
	}

	statsFlushInterval, err := time.ParseDuration(getEnv("STATISTICS_FLUSH_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid STATISTICS_FLUSH_INTERVAL: %v", err)
	}

	return &Config{
		SupervisionURL:      getEnv("SUPERVISION_URL", "ws://localhost:8887/ocpp"),
		StationTemplateFile: getEnv("STATION_TEMPLATE", "templates/stations.yaml"),

		APIPort: apiPort,

		NATSURL: getEnv("NATS_URL", ""),

		StatisticsFile:          getEnv("STATISTICS_FILE", "statistics.json"),
		StatisticsFlushInterval: statsFlushInterval,

		HeartbeatInterval:        heartbeatInterval,
		MeterValueSampleInterval: meterValueSampleInterval,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

// SetupLogger configures the global logger
func (c *Config) SetupLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Helper function to get environment variables with fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
