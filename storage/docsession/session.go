// Package docsession is a small document session over database/sql. It is
// the persistence session SessionProbe wraps: documents are stored as JSON in
// a single table, and every statement goes through whatever (counting)
// connection the *sql.DB was opened on.
package docsession

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/sjson"

	"github.com/fllarpy/uiprobe/counters"
)

// ErrNotFound is returned by Get when no document has the requested id.
var ErrNotFound = errors.New("document not found")

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session implements counters.Session. It does not own the database.
type Session struct {
	db       *sql.DB
	numbered bool

	mu sync.Mutex
	tx *sql.Tx
}

var _ counters.Session = (*Session)(nil)

// Option configures a Session.
type Option func(*Session)

// WithNumberedPlaceholders makes the session write $1, $2, ... placeholders,
// as PostgreSQL expects.
func WithNumberedPlaceholders() Option {
	return func(s *Session) { s.numbered = true }
}

// New returns a session on db.
func New(db *sql.DB, opts ...Option) *Session {
	s := &Session{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the documents table.
func (s *Session) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *Session) conn() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Session) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts or replaces document under id. The stored body carries the id
// in its "id" field.
func (s *Session) Save(ctx context.Context, collection, id string, document any) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	if len(body) == 0 || body[0] != '{' {
		return fmt.Errorf("encode %s/%s: document must be a JSON object", collection, id)
	}
	if body, err = sjson.SetBytes(body, "id", id); err != nil {
		return fmt.Errorf("stamp %s/%s: %w", collection, id, err)
	}

	_, err = s.conn().ExecContext(ctx, s.bind(
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body`),
		collection, id, string(body))
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Session) Delete(ctx context.Context, collection, id string) error {
	_, err := s.conn().ExecContext(ctx, s.bind(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get decodes the document into out.
func (s *Session) Get(ctx context.Context, collection, id string, out any) error {
	var body string
	err := s.conn().QueryRowContext(ctx, s.bind(`SELECT body FROM documents WHERE collection = ? AND id = ?`), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal([]byte(body), out)
}

// Query returns the documents of collection whose value at the JSONPath
// expression path equals value, ordered by id.
func (s *Session) Query(ctx context.Context, collection, path string, value any) ([]json.RawMessage, error) {
	want, err := normalize(value)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	rows, err := s.conn().QueryContext(ctx, s.bind(`SELECT body FROM documents WHERE collection = ? ORDER BY id`), collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		got, err := jsonpath.Get(path, doc)
		if err != nil {
			// Documents without the path do not match.
			continue
		}
		if reflect.DeepEqual(got, want) {
			out = append(out, json.RawMessage(body))
		}
	}
	return out, rows.Err()
}

// normalize gives value the shape encoding/json decodes it to, so that 30
// and 30.0 compare equal.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var v any
	err = json.Unmarshal(raw, &v)
	return v, err
}

// BeginTransaction routes the following operations through a transaction
// until Flush.
func (s *Session) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Flush commits the open transaction, if any.
func (s *Session) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close rolls back a transaction that was never flushed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
