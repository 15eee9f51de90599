// Package http_middleware plugs the counter probes into an application's
// HTTP stack. It wraps handlers so that every request and every page load is
// a counter scope and exposes the counter report on a debug endpoint.
//
// The middleware is designed to be used with the standard library's
// net/http package and with routers that accept func(http.Handler) http.Handler.
package http_middleware
