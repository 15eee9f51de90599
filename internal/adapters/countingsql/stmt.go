package countingsql

import (
	"context"
	"database/sql/driver"
	"sync"

	"github.com/fllarpy/uiprobe/counters"
)

type countingStmt struct {
	realStmt driver.Stmt
	conn     *countingConn
	query    string

	// skipNext is set when the first execution was already counted on the
	// connection's fast path.
	skipNext bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ driver.Stmt              = (*countingStmt)(nil)
	_ driver.StmtExecContext   = (*countingStmt)(nil)
	_ driver.StmtQueryContext  = (*countingStmt)(nil)
	_ driver.NamedValueChecker = (*countingStmt)(nil)
)

func (s *countingStmt) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.realStmt.Close() })
	return s.closeErr
}

func (s *countingStmt) NumInput() int { return s.realStmt.NumInput() }

func (s *countingStmt) count(sink counters.Incrementer, params []counters.Parameter) *counters.ReaderReadKey {
	if s.skipNext {
		s.skipNext = false
		if sink == nil || s.query == "" {
			return nil
		}
		return counters.NewReaderReadKey(s.query, params...)
	}
	return countCommand(sink, s.query, params)
}

//nolint:staticcheck // Exec is part of driver.Stmt.
func (s *countingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.count(s.conn.rec.sink, valueParameters(args))
	return s.realStmt.Exec(args)
}

//nolint:staticcheck // Query is part of driver.Stmt.
func (s *countingStmt) Query(args []driver.Value) (driver.Rows, error) {
	sink := s.conn.rec.sink
	readKey := s.count(sink, valueParameters(args))
	rows, err := s.realStmt.Query(args)
	if err != nil {
		return nil, err
	}
	return newRows(rows, readKey, sink), nil
}

func (s *countingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	sink := s.conn.rec.target(ctx)
	if ex, ok := s.realStmt.(driver.StmtExecContext); ok {
		s.count(sink, namedParameters(args))
		return ex.ExecContext(ctx, args)
	}

	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.count(sink, namedParameters(args))
	//nolint:staticcheck // fallback for statements without StmtExecContext.
	return s.realStmt.Exec(values)
}

func (s *countingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	sink := s.conn.rec.target(ctx)

	var (
		rows driver.Rows
		err  error
	)
	if qx, ok := s.realStmt.(driver.StmtQueryContext); ok {
		readKey := s.count(sink, namedParameters(args))
		rows, err = qx.QueryContext(ctx, args)
		if err != nil {
			return nil, err
		}
		return newRows(rows, readKey, sink), nil
	}

	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	readKey := s.count(sink, namedParameters(args))
	//nolint:staticcheck // fallback for statements without StmtQueryContext.
	rows, err = s.realStmt.Query(values)
	if err != nil {
		return nil, err
	}
	return newRows(rows, readKey, sink), nil
}

// CheckNamedValue defers to the statement, then to the connection, then to
// a column converter, and finally to the database/sql default conversion.
func (s *countingStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.realStmt.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	if checker, ok := s.conn.realConn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	//nolint:staticcheck // ColumnConverter is still honoured by database/sql.
	if cc, ok := s.realStmt.(driver.ColumnConverter); ok && nv.Ordinal > 0 {
		v, err := cc.ColumnConverter(nv.Ordinal - 1).ConvertValue(nv.Value)
		if err != nil {
			return err
		}
		if !driver.IsValue(v) {
			return driver.ErrSkip
		}
		nv.Value = v
		return nil
	}
	return driver.ErrSkip
}
