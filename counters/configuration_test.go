package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelativeURLConfigurationKey_Equal(t *testing.T) {
	testCases := []struct {
		name  string
		left  string
		exact bool
		right string
		equal bool
	}{
		{"absolute and relative share a path", "http://app.test/orders", false, "/orders", true},
		{"case is ignored", "/Orders/List", false, "/orders/list", true},
		{"prefix matches without exact", "/orders", false, "http://app.test/orders/42?tab=items", true},
		{"exact requires the same path", "/orders", true, "http://app.test/orders/42", false},
		{"exact matches the same path", "/orders/42", true, "http://other.test/orders/42", true},
		{"query takes part in the match", "/search?q=a", true, "/search?q=b", false},
		{"different paths", "/orders", false, "/customers", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			left, err := NewRelativeURLConfigurationKey(tc.left, tc.exact)
			require.NoError(t, err)
			right, err := NewRelativeURLConfigurationKey(tc.right, false)
			require.NoError(t, err)

			assert.Equal(t, tc.equal, left.Equal(right))
			assert.Equal(t, tc.equal, right.Equal(left))
		})
	}

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRelativeURLConfigurationKey("http://[::1", false)
		assert.Error(t, err)
	})

	t.Run("nil keys never match", func(t *testing.T) {
		key, err := NewRelativeURLConfigurationKey("/", false)
		require.NoError(t, err)
		assert.False(t, key.Equal(nil))
		assert.False(t, key.Equal(&RelativeURLConfigurationKey{}))
	})
}

func TestRunningPhaseCounterConfiguration_Lookup(t *testing.T) {
	var cfg RunningPhaseCounterConfiguration
	first, _ := NewRelativeURLConfigurationKey("/admin", false)
	second, _ := NewRelativeURLConfigurationKey("/admin/reports", false)

	cfg.Add(first, PhaseCounterConfiguration{NavigationThreshold: ThresholdConfiguration{DbReaderReadThreshold: 1}})
	cfg.Add(second, PhaseCounterConfiguration{NavigationThreshold: ThresholdConfiguration{DbReaderReadThreshold: 2}})

	probeKey, _ := NewRelativeURLConfigurationKey("https://app.test/admin/reports/daily", false)
	got, ok := cfg.Lookup(probeKey)
	require.True(t, ok)
	assert.Equal(t, 1, got.NavigationThreshold.DbReaderReadThreshold, "The first matching override wins")

	other, _ := NewRelativeURLConfigurationKey("/shop", false)
	_, ok = cfg.Lookup(other)
	assert.False(t, ok)

	_, ok = cfg.Lookup(nil)
	assert.False(t, ok)
}

func TestDefaultConfigurations(t *testing.T) {
	cfg := DefaultConfigurations()

	assert.True(t, cfg.Setup.NavigationThreshold.Disable)
	assert.True(t, cfg.Setup.PhaseThreshold.Disable)
	assert.True(t, cfg.Running.PhaseThreshold.Disable)

	for _, th := range []ThresholdConfiguration{
		cfg.Running.NavigationThreshold,
		cfg.Running.PageLoadThreshold,
		cfg.Running.SessionThreshold,
		cfg.Running.RequestThreshold,
	} {
		assert.False(t, th.Disable)
		assert.Equal(t, 11, th.DbCommandExecutionThreshold)
		assert.Equal(t, 22, th.DbCommandTextExecutionThreshold)
		assert.Equal(t, 11, th.DbReaderReadThreshold)
	}
	assert.Empty(t, cfg.Running.Overrides)
}

func TestExcludeCommandText(t *testing.T) {
	filter := ExcludeCommandText(`^SELECT @@`, `(?i)hangfire`)

	assert.True(t, filter(NewCommandExecuteKey("SELECT @@VERSION")))
	assert.True(t, filter(NewReaderReadKey("select * from HangFire.Job")))
	assert.False(t, filter(NewCommandTextExecuteKey("SELECT * FROM orders")))

	assert.Panics(t, func() { ExcludeCommandText(`(`) })

	_, err := CompileExcludeFilter(`[`)
	assert.Error(t, err)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "setup", PhaseSetup.String())
	assert.Equal(t, "running", PhaseRunning.String())
	assert.Equal(t, "unknown", Phase(9).String())
}
