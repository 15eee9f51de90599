// Package countingsql decorates database/sql drivers so that every command
// execution and every row read is reported to a counters.Incrementer.
//
// Executions are counted before they reach the wrapped driver, so failed
// attempts are counted too. Row reads are counted only when the wrapped
// reader produced a row.
package countingsql
