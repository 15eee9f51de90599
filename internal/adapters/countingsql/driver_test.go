package countingsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/uiprobe/counters"
)

// recordingSink keeps every increment in order.
type recordingSink struct {
	mu   sync.Mutex
	keys []counters.Key
}

func (s *recordingSink) Increment(key counters.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
}

func (s *recordingSink) count(want counters.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.Equal(want) {
			n++
		}
	}
	return n
}

func (s *recordingSink) countKind(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.Kind() == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
}

// setupTestDB registers a counting sqlite driver under a name unique to the
// test and seeds a users table.
func setupTestDB(t *testing.T, sink counters.Incrementer) *sql.DB {
	t.Helper()

	driverName := fmt.Sprintf("sqlite3-counting-%s", strings.ReplaceAll(t.Name(), "/", "-"))
	Register(driverName, &sqlite3.SQLiteDriver{}, sink)

	db, err := sql.Open(driverName, ":memory:")
	require.NoError(t, err, "Failed to open in-memory DB")
	// Every connection of an in-memory database sees its own schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob'), (3, 'Charlie');
	`)
	require.NoError(t, err, "Failed to create schema and seed data")
	return db
}

func TestCountingDriver_Executions(t *testing.T) {
	t.Run("each execution counts once per key kind", func(t *testing.T) {
		sink := &recordingSink{}
		db := setupTestDB(t, sink)
		sink.reset()

		for i := 1; i <= 3; i++ {
			var name string
			require.NoError(t, db.QueryRow("SELECT name FROM users WHERE id = ?", i).Scan(&name))
		}

		assert.Equal(t, 3, sink.count(counters.NewCommandTextExecuteKey("SELECT name FROM users WHERE id = ?")))
		assert.Equal(t, 3, sink.countKind(counters.KindCommandExecute))
		assert.Equal(t, 3, sink.countKind(counters.KindReaderRead))
	})

	t.Run("parameters separate execution keys", func(t *testing.T) {
		sink := &recordingSink{}
		db := setupTestDB(t, sink)
		sink.reset()

		for i := 0; i < 2; i++ {
			_, err := db.Exec("UPDATE users SET name = ? WHERE id = ?", "Dave", 1)
			require.NoError(t, err)
		}
		_, err := db.Exec("UPDATE users SET name = ? WHERE id = ?", "Eve", 2)
		require.NoError(t, err)

		text := counters.NewCommandTextExecuteKey("UPDATE users SET name = ? WHERE id = ?")
		assert.Equal(t, 3, sink.count(text))

		distinct := map[string]int{}
		for _, k := range sink.keys {
			if k.Kind() == counters.KindCommandExecute {
				distinct[k.Identity()]++
			}
		}
		assert.Len(t, distinct, 2)
	})

	t.Run("failed executions are counted", func(t *testing.T) {
		sink := &recordingSink{}
		db := setupTestDB(t, sink)
		sink.reset()

		_, err := db.Exec("INSERT INTO missing (id) VALUES (1)")
		require.Error(t, err)

		assert.Equal(t, 1, sink.countKind(counters.KindCommandTextExecute))
	})
}

func TestCountingDriver_Reads(t *testing.T) {
	sink := &recordingSink{}
	db := setupTestDB(t, sink)
	sink.reset()

	rows, err := db.Query("SELECT name FROM users ORDER BY id")
	require.NoError(t, err)
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, names)
	// The final call that reports the end of data is not a read.
	assert.Equal(t, 3, sink.count(counters.NewReaderReadKey("SELECT name FROM users ORDER BY id")))
	assert.Equal(t, 1, sink.countKind(counters.KindCommandExecute))

	t.Run("empty result reads nothing", func(t *testing.T) {
		sink.reset()
		rows, err := db.Query("SELECT name FROM users WHERE id = 42")
		require.NoError(t, err)
		assert.False(t, rows.Next())
		require.NoError(t, rows.Close())

		assert.Equal(t, 1, sink.countKind(counters.KindCommandExecute))
		assert.Equal(t, 0, sink.countKind(counters.KindReaderRead))
	})
}

func TestCountingDriver_PreparedStatements(t *testing.T) {
	sink := &recordingSink{}
	db := setupTestDB(t, sink)
	sink.reset()

	stmt, err := db.Prepare("SELECT name FROM users WHERE id = ?")
	require.NoError(t, err)
	defer stmt.Close()

	// Preparing is not an execution.
	assert.Equal(t, 0, sink.countKind(counters.KindCommandExecute))

	for i := 1; i <= 2; i++ {
		var name string
		require.NoError(t, stmt.QueryRow(i).Scan(&name))
	}
	_, err = stmt.Exec(3)
	require.NoError(t, err)

	assert.Equal(t, 3, sink.count(counters.NewCommandTextExecuteKey("SELECT name FROM users WHERE id = ?")))
	assert.Equal(t, 2, sink.countKind(counters.KindReaderRead))
}

func TestCountingDriver_Transactions(t *testing.T) {
	sink := &recordingSink{}
	db := setupTestDB(t, sink)
	sink.reset()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	_, err = tx.Exec("DELETE FROM users WHERE id = ?", 3)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, sink.countKind(counters.KindCommandTextExecute))
}

func TestContextWithCollector(t *testing.T) {
	registered := &recordingSink{}
	db := setupTestDB(t, registered)
	registered.reset()

	perRequest := &recordingSink{}
	ctx := ContextWithCollector(context.Background(), perRequest)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n))
	assert.Equal(t, 3, n)

	assert.Equal(t, 1, perRequest.countKind(counters.KindCommandExecute))
	assert.Equal(t, 1, perRequest.countKind(counters.KindReaderRead))
	assert.Empty(t, registered.keys)

	sink, ok := CollectorFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, perRequest, sink)

	_, ok = CollectorFromContext(context.Background())
	assert.False(t, ok)
}

func TestWrapConnector_WithDataCollector(t *testing.T) {
	collector := counters.NewDataCollector()
	connector := WrapConnector(NewDSNConnector(&sqlite3.SQLiteDriver{}, ":memory:"), collector)
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	defer db.Close()

	require.NoError(t, db.Ping())
	_, err := db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	got := collector.Counters()
	require.Len(t, got, 2)
	assert.Equal(t, counters.KindCommandExecute, got[0].Key.Kind())
	assert.Equal(t, 1, counters.IntValue(got[0].Value))
	assert.Equal(t, counters.KindCommandTextExecute, got[1].Key.Kind())
}

func TestRegister(t *testing.T) {
	t.Run("nil driver panics", func(t *testing.T) {
		assert.Panics(t, func() { Register("countingsql-nil", nil, nil) })
	})

	t.Run("duplicate name panics", func(t *testing.T) {
		Register("countingsql-dup", &sqlite3.SQLiteDriver{}, nil)
		assert.Panics(t, func() { Register("countingsql-dup", &sqlite3.SQLiteDriver{}, nil) })
	})

	t.Run("nil sink counts nothing", func(t *testing.T) {
		Register("countingsql-nosink", &sqlite3.SQLiteDriver{}, nil)
		db, err := sql.Open("countingsql-nosink", ":memory:")
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec("CREATE TABLE t (id INTEGER)")
		assert.NoError(t, err)
	})
}

// skippingConn is a driver connection whose fast paths always decline, as
// drivers do when they cannot execute without preparing.
type skippingConn struct {
	driver.Conn
}

func (c skippingConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return nil, driver.ErrSkip
}

func (c skippingConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return nil, driver.ErrSkip
}

type skippingDriver struct {
	real driver.Driver
}

func (d skippingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.real.Open(name)
	if err != nil {
		return nil, err
	}
	return skippingConn{Conn: conn}, nil
}

func TestCountingDriver_SkippedFastPathCountsOnce(t *testing.T) {
	sink := &recordingSink{}
	Register("countingsql-skip", skippingDriver{real: &sqlite3.SQLiteDriver{}}, sink)
	db, err := sql.Open("countingsql-skip", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (id) VALUES (1), (2)")
	require.NoError(t, err)
	sink.reset()

	rows, err := db.Query("SELECT id FROM t")
	require.NoError(t, err)
	for rows.Next() {
	}
	require.NoError(t, rows.Close())

	assert.Equal(t, 1, sink.countKind(counters.KindCommandExecute))
	assert.Equal(t, 1, sink.countKind(counters.KindCommandTextExecute))
	assert.Equal(t, 2, sink.countKind(counters.KindReaderRead))
}

// flakyPrepareConn declines the fast paths and fails its next prepare.
type flakyPrepareConn struct {
	skippingConn
	failNext bool
}

func (c *flakyPrepareConn) Prepare(query string) (driver.Stmt, error) {
	if c.failNext {
		c.failNext = false
		return nil, errors.New("prepare failed")
	}
	return c.skippingConn.Prepare(query)
}

func TestCountingConn_FailedRetryPrepareIsNotCarriedOver(t *testing.T) {
	real, err := (&sqlite3.SQLiteDriver{}).Open(":memory:")
	require.NoError(t, err)
	sink := &recordingSink{}
	conn := newConn(&flakyPrepareConn{skippingConn: skippingConn{Conn: real}, failNext: true}, recorder{sink: sink})
	defer conn.Close()

	ctx := context.Background()
	const query = "SELECT 1"

	_, err = conn.QueryContext(ctx, query, nil)
	require.ErrorIs(t, err, driver.ErrSkip)
	_, err = conn.PrepareContext(ctx, query)
	require.Error(t, err)
	assert.Equal(t, 1, sink.countKind(counters.KindCommandExecute))

	stmt, err := conn.Prepare(query)
	require.NoError(t, err)
	defer stmt.Close()
	rows, err := stmt.(driver.StmtQueryContext).QueryContext(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	assert.Equal(t, 2, sink.countKind(counters.KindCommandExecute), "A later prepare of the same text counts its first execution")
}

func TestCountingDriver_ReaderThresholdInNavigation(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		wantErr bool
	}{
		{name: "reads at the threshold pass", limit: 2},
		{name: "one read over the threshold fails", limit: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := counters.DefaultConfigurations()
			cfg.Running.NavigationThreshold.DbReaderReadThreshold = 2
			collector := counters.NewDataCollector(counters.WithConfigurations(cfg))
			collector.StartPhase(counters.PhaseRunning)
			db := setupTestDB(t, collector)

			ctx := context.Background()
			probe := counters.NewNavigationProbe(ctx, collector, &url.URL{Scheme: "http", Host: "localhost", Path: "/users"})
			rows, err := db.QueryContext(ctx, "SELECT id FROM users ORDER BY id LIMIT ?", tt.limit)
			require.NoError(t, err)
			read := 0
			for rows.Next() {
				read++
			}
			require.NoError(t, rows.Err())
			require.NoError(t, rows.Close())
			require.Equal(t, tt.limit, read)

			err = probe.Close()
			if !tt.wantErr {
				assert.NoError(t, err, "The final Next that reports no row is not a read")
				return
			}
			var thresholdErr *counters.CounterThresholdError
			require.ErrorAs(t, err, &thresholdErr)
			assert.Equal(t, "DbReaderReadThreshold", thresholdErr.Setting)
			assert.Equal(t, 3, counters.IntValue(thresholdErr.Value))
		})
	}
}
