// Package http_reporter provides an HTTP handler that exposes the counter
// report of a test run in JSON format. Test tooling polls it to see which
// scopes were closed and which of them exceeded a threshold.
//
// The package implements the standard http.Handler interface and can be
// mounted on any HTTP router or used with the standard library's http package.
package http_reporter
