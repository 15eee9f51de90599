package countingsql

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
)

type countingConn struct {
	realConn driver.Conn
	rec      recorder

	// precounted holds the query whose fast-path attempt returned
	// driver.ErrSkip after being counted; database/sql retries it through
	// PrepareContext on the same connection.
	precounted string

	closeOnce sync.Once
	closeErr  error
}

var (
	_ driver.Conn               = (*countingConn)(nil)
	_ driver.ConnPrepareContext = (*countingConn)(nil)
	_ driver.ConnBeginTx        = (*countingConn)(nil)
	_ driver.QueryerContext     = (*countingConn)(nil)
	_ driver.ExecerContext      = (*countingConn)(nil)
	_ driver.Pinger             = (*countingConn)(nil)
	_ driver.SessionResetter    = (*countingConn)(nil)
	_ driver.Validator          = (*countingConn)(nil)
	_ driver.NamedValueChecker  = (*countingConn)(nil)
)

func newConn(conn driver.Conn, rec recorder) *countingConn {
	return &countingConn{realConn: conn, rec: rec}
}

func (c *countingConn) Prepare(query string) (driver.Stmt, error) {
	skip := c.takePrecounted(query)
	stmt, err := c.realConn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return c.newStmt(stmt, query, skip), nil
}

func (c *countingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	skip := c.takePrecounted(query)
	if pc, ok := c.realConn.(driver.ConnPrepareContext); ok {
		stmt, err := pc.PrepareContext(ctx, query)
		if err != nil {
			return nil, err
		}
		return c.newStmt(stmt, query, skip), nil
	}

	stmt, err := c.realConn.Prepare(query)
	if err != nil {
		return nil, err
	}
	select {
	default:
	case <-ctx.Done():
		_ = stmt.Close()
		return nil, ctx.Err()
	}
	return c.newStmt(stmt, query, skip), nil
}

// takePrecounted reports whether query is the retry of a counted fast-path
// attempt. The mark is cleared by every prepare, successful or not.
func (c *countingConn) takePrecounted(query string) bool {
	skip := c.precounted != "" && c.precounted == query
	c.precounted = ""
	return skip
}

func (c *countingConn) newStmt(stmt driver.Stmt, query string, skipNext bool) *countingStmt {
	return &countingStmt{realStmt: stmt, conn: c, query: query, skipNext: skipNext}
}

func (c *countingConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.realConn.Close() })
	return c.closeErr
}

//nolint:staticcheck // Begin is part of driver.Conn.
func (c *countingConn) Begin() (driver.Tx, error) { return c.realConn.Begin() }

func (c *countingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.realConn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}

	if opts.Isolation != 0 {
		return nil, errors.New("countingsql: driver does not support non-default isolation level")
	}
	if opts.ReadOnly {
		return nil, errors.New("countingsql: driver does not support read-only transactions")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	//nolint:staticcheck // fallback for drivers without ConnBeginTx.
	return c.realConn.Begin()
}

// Context-aware exec/query

func (c *countingConn) QueryContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Rows, error) {
	sink := c.rec.target(ctx)

	var (
		rows driver.Rows
		err  error
	)
	switch qx := c.realConn.(type) {
	case driver.QueryerContext:
		readKey := countCommand(sink, q, namedParameters(a))
		rows, err = qx.QueryContext(ctx, q, a)
		if err == nil {
			return newRows(rows, readKey, sink), nil
		}
	case driver.Queryer: //nolint:staticcheck // legacy fast path
		values, verr := namedValueToValue(a)
		if verr != nil {
			return nil, verr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		readKey := countCommand(sink, q, namedParameters(a))
		rows, err = qx.Query(q, values)
		if err == nil {
			return newRows(rows, readKey, sink), nil
		}
	default:
		return nil, driver.ErrSkip
	}

	if errors.Is(err, driver.ErrSkip) {
		c.precounted = q
	}
	return nil, err
}

func (c *countingConn) ExecContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Result, error) {
	sink := c.rec.target(ctx)

	var (
		res driver.Result
		err error
	)
	switch ex := c.realConn.(type) {
	case driver.ExecerContext:
		countCommand(sink, q, namedParameters(a))
		res, err = ex.ExecContext(ctx, q, a)
	case driver.Execer: //nolint:staticcheck // legacy fast path
		values, verr := namedValueToValue(a)
		if verr != nil {
			return nil, verr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		countCommand(sink, q, namedParameters(a))
		res, err = ex.Exec(q, values)
	default:
		return nil, driver.ErrSkip
	}

	if errors.Is(err, driver.ErrSkip) {
		c.precounted = q
	}
	return res, err
}

func (c *countingConn) Ping(ctx context.Context) error {
	if p, ok := c.realConn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *countingConn) ResetSession(ctx context.Context) error {
	if r, ok := c.realConn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *countingConn) IsValid() bool {
	if v, ok := c.realConn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *countingConn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.realConn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}
