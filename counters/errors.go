package counters

import (
	"errors"
	"fmt"
)

// ErrCounterThreshold matches every *CounterThresholdError with errors.Is.
var ErrCounterThreshold = errors.New("counter threshold exceeded")

// CounterThresholdError reports a counter that exceeded its configured limit.
type CounterThresholdError struct {
	// Probe is nil when the collector's own aggregate was asserted.
	Probe     Probe
	Headline  string
	Key       Key
	Value     Value
	Setting   string
	Threshold int
}

func (e *CounterThresholdError) Error() string {
	return fmt.Sprintf("%s: %s = %d exceeded\n%s\n%s\n%s",
		ErrCounterThreshold, e.Setting, e.Threshold, e.Headline, e.Key.Dump(), e.Value.Dump())
}

func (e *CounterThresholdError) Is(target error) bool { return target == ErrCounterThreshold }

// PostponedCounterError wraps an assertion error raised outside of the test
// context and surfaced later by AssertCounter.
type PostponedCounterError struct {
	Err error
}

func (e *PostponedCounterError) Error() string {
	return "postponed counter assertion: " + e.Err.Error()
}

func (e *PostponedCounterError) Unwrap() error { return e.Err }
