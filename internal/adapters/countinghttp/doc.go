// Package countinghttp opens counter probes at the HTTP boundary: a
// middleware for the application under test and a RoundTripper for test code
// that calls the application directly.
package countinghttp
