package uitest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fllarpy/uiprobe/counters"
)

func TestWriteFailureDump(t *testing.T) {
	collector := counters.NewDataCollector()
	collector.Increment(counters.NewCommandExecuteKey("SELECT 1"))
	collector.Increment(counters.NewCommandExecuteKey("SELECT 1"))

	browser := &fakeBrowser{source: "<html></html>", screenshotErr: errors.New("no window")}
	dir, err := writeFailureDump(t.TempDir(), "checkout page", 1, collector, browser, "", collector.DumpSummary())

	assert.ErrorContains(t, err, "screenshot: no window")
	assert.NoFileExists(t, filepath.Join(dir, DumpScreenshotFile))
	assert.FileExists(t, filepath.Join(dir, DumpPageSourceFile))
	assert.Contains(t, filepath.Base(dir), "checkout_page-1-")

	data, err := os.ReadFile(filepath.Join(dir, DumpCountersFile))
	require.NoError(t, err)
	var dump dumpedCounters
	require.NoError(t, yaml.Unmarshal(data, &dump))
	assert.Equal(t, "setup", dump.Phase)
	require.Len(t, dump.Counters, 1)
	assert.Equal(t, counters.KindCommandExecute, dump.Counters[0].Kind)
	assert.Equal(t, 2, dump.Counters[0].Value)
}

func TestSummaryDiff(t *testing.T) {
	assert.Empty(t, summaryDiff("same", "same"))

	patch := summaryDiff("", "DbCommandExecute 2")
	assert.Contains(t, patch, "@@")
	assert.Contains(t, patch, "+DbCommandExecute 2")
}
