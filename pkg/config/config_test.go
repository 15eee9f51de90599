package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Load()

		assert.True(t, cfg.Enabled)
		assert.Equal(t, "uiprobe", cfg.ServiceName)
		assert.Equal(t, "/debug/counters", cfg.ReportEndpoint)
		assert.Equal(t, 120*time.Second, cfg.Timeout)
		assert.Equal(t, 0, cfg.MaxRetries)
		assert.Equal(t, os.TempDir(), cfg.FailureDumpDir)
		assert.Equal(t, ".", cfg.ConfigDir)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("UIPROBE_ENABLED", "false")
		t.Setenv("UIPROBE_REPORT_ENDPOINT", "/counters")
		t.Setenv("UIPROBE_TIMEOUT_S", "30")
		t.Setenv("UIPROBE_MAX_RETRIES", "2")
		t.Setenv("UIPROBE_FAILURE_DUMP_DIR", "/tmp/dumps")
		t.Setenv("UIPROBE_CONFIG_DIR", "/etc/uiprobe")

		cfg := Load()

		assert.False(t, cfg.Enabled)
		assert.Equal(t, "/counters", cfg.ReportEndpoint)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, 2, cfg.MaxRetries)
		assert.Equal(t, "/tmp/dumps", cfg.FailureDumpDir)
		assert.Equal(t, "/etc/uiprobe", cfg.ConfigDir)
	})

	t.Run("malformed values keep defaults", func(t *testing.T) {
		t.Setenv("UIPROBE_ENABLED", "maybe")
		t.Setenv("UIPROBE_MAX_RETRIES", "two")

		cfg := Load()

		assert.True(t, cfg.Enabled)
		assert.Equal(t, 0, cfg.MaxRetries)
	})
}
