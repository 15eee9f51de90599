package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fllarpy/uiprobe/counters"
	"github.com/fllarpy/uiprobe/internal/adapters/countingsql"
)

// Supported providers.
const (
	ProviderSQLite = "sqlite3"
	// ProviderPostgres uses the pgx driver.
	ProviderPostgres = "pgx"
	// ProviderPQ uses the lib/pq driver.
	ProviderPQ = "postgres"
)

// Open returns a database whose commands are counted on sink and traced with
// otelsql. The connection is verified with a ping.
func Open(ctx context.Context, provider, dataSourceName string, sink counters.Incrementer, opts ...otelsql.Option) (*sql.DB, error) {
	connector, system, err := newConnector(provider, dataSourceName)
	if err != nil {
		return nil, err
	}

	opts = append([]otelsql.Option{otelsql.WithAttributes(system)}, opts...)
	db := otelsql.OpenDB(countingsql.WrapConnector(connector, sink), opts...)
	if provider == ProviderSQLite && strings.Contains(dataSourceName, ":memory:") {
		// Every connection to an in-memory database sees its own schema.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", provider, err)
	}
	return db, nil
}

func newConnector(provider, dataSourceName string) (driver.Connector, attribute.KeyValue, error) {
	switch provider {
	case ProviderSQLite:
		return countingsql.NewDSNConnector(&sqlite3.SQLiteDriver{}, dataSourceName), semconv.DBSystemSqlite, nil
	case ProviderPostgres:
		cfg, err := pgx.ParseConfig(dataSourceName)
		if err != nil {
			return nil, attribute.KeyValue{}, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return stdlib.GetConnector(*cfg), semconv.DBSystemPostgreSQL, nil
	case ProviderPQ:
		connector, err := pq.NewConnector(dataSourceName)
		if err != nil {
			return nil, attribute.KeyValue{}, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return connector, semconv.DBSystemPostgreSQL, nil
	default:
		return nil, attribute.KeyValue{}, fmt.Errorf("unsupported database provider %q", provider)
	}
}
