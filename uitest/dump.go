package uitest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tebeka/selenium"
	"gopkg.in/yaml.v3"

	"github.com/fllarpy/uiprobe/counters"
)

// Files of a failure dump.
const (
	DumpCountersFile   = "counters.yaml"
	DumpSummaryFile    = "summary.txt"
	DumpSummaryDiff    = "summary.diff"
	DumpPageSourceFile = "page.html"
	DumpScreenshotFile = "screenshot.png"
)

type dumpedCounter struct {
	Kind  string `yaml:"kind"`
	Key   string `yaml:"key"`
	Value int    `yaml:"value"`
}

type dumpedCounters struct {
	Phase    string          `yaml:"phase"`
	Counters []dumpedCounter `yaml:"counters"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// writeFailureDump writes what is known about a failed attempt into a new
// directory below root. Parts that cannot be captured are skipped and
// reported in the returned error.
func writeFailureDump(root, testName string, attempt int, collector *counters.DataCollector, browser selenium.WebDriver, previousSummary, summary string) (string, error) {
	name := unsafeName.ReplaceAllString(testName, "_")
	dir := filepath.Join(root, fmt.Sprintf("%s-%d-%s", name, attempt, time.Now().Format("20060102T150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, err
	}

	var errs []error
	write := func(file string, data []byte) {
		if err := os.WriteFile(filepath.Join(dir, file), data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}

	dump := dumpedCounters{Phase: collector.Phase().String()}
	for _, c := range collector.Counters() {
		dump.Counters = append(dump.Counters, dumpedCounter{Kind: c.Key.Kind(), Key: c.Key.Dump(), Value: counters.IntValue(c.Value)})
	}
	if data, err := yaml.Marshal(dump); err != nil {
		errs = append(errs, err)
	} else {
		write(DumpCountersFile, data)
	}

	write(DumpSummaryFile, []byte(summary))
	write(DumpSummaryDiff, []byte(summaryDiff(previousSummary, summary)))

	if browser != nil {
		if source, err := browser.PageSource(); err != nil {
			errs = append(errs, fmt.Errorf("page source: %w", err))
		} else {
			write(DumpPageSourceFile, []byte(source))
		}
		if png, err := browser.Screenshot(); err != nil {
			errs = append(errs, fmt.Errorf("screenshot: %w", err))
		} else {
			write(DumpScreenshotFile, png)
		}
	}
	return dir, errors.Join(errs...)
}

// summaryDiff renders the change from the previous failed attempt's summary
// as a patch. The first attempt is diffed against nothing.
func summaryDiff(previous, current string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(previous, current, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(previous, diffs))
}
