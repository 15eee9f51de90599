// Package counters counts the database work an application performs while a
// UI test drives it and fails the test when a scope exceeds its budget.
//
// Instrumented data-access decorators report every command execution and row
// read to a DataCollector. The collector forwards them to the running probes
// attached to it: one per browser navigation, page load, request or
// persistence session. Closing a probe asserts its counters against the
// ThresholdConfiguration of its scope type. Probes that run inside the
// application rather than on the test goroutine postpone their assertion
// errors; the test orchestrator surfaces them through AssertCounter.
package counters
