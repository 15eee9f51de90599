package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime settings of the counter toolbox.
// It's populated from environment variables.
type Config struct {
	Enabled        bool
	ServiceName    string
	ReportEndpoint string
	Timeout        time.Duration `json:"timeout_s"`
	MaxRetries     int           `json:"max_retries"`
	FailureDumpDir string        `json:"failure_dump_dir"`
	ConfigDir      string        `json:"config_dir"`
}

// Load reads configuration from environment variables and returns a Config struct.
func Load() *Config {
	return &Config{
		Enabled:        getEnvAsBool("UIPROBE_ENABLED", true),
		ServiceName:    getEnv("UIPROBE_SERVICE_NAME", "uiprobe"),
		ReportEndpoint: getEnv("UIPROBE_REPORT_ENDPOINT", "/debug/counters"),
		Timeout:        getEnvAsDuration("UIPROBE_TIMEOUT_S", 120*time.Second),
		MaxRetries:     getEnvAsInt("UIPROBE_MAX_RETRIES", 0),
		FailureDumpDir: getEnv("UIPROBE_FAILURE_DUMP_DIR", os.TempDir()),
		ConfigDir:      getEnv("UIPROBE_CONFIG_DIR", "."),
	}
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsBool reads a boolean environment variable or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsInt reads an integer environment variable or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration reads a duration environment variable (in seconds) or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return time.Duration(intValue) * time.Second
		}
	}
	return defaultValue
}
