package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fllarpy/uiprobe"
	"github.com/fllarpy/uiprobe/counters"
	httpinstrumentation "github.com/fllarpy/uiprobe/instrumentation/http"
	sqlinstrumentation "github.com/fllarpy/uiprobe/instrumentation/sql"
	"github.com/fllarpy/uiprobe/storage/docsession"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	probe, _, env, err := uiprobe.SetupFromEnv(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize counter probe", zap.Error(err))
	}
	defer probe.Shutdown(ctx)
	collector := probe.Collector()
	collector.StartPhase(counters.PhaseRunning)

	db, err := sqlinstrumentation.Open(ctx, sqlinstrumentation.ProviderSQLite, "file:uiprobe-example?cache=shared&mode=memory", collector)
	if err != nil {
		logger.Fatal("failed to open instrumented db connection", zap.Error(err))
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		logger.Fatal("failed to create table", zap.Error(err))
	}
	documents := docsession.New(db)
	if err := documents.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate documents", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", helloHandler)
	mux.HandleFunc("/db", dbHandler(db))
	mux.HandleFunc("/db-error", dbErroringHandler(db))
	mux.HandleFunc("/n-plus-one", nPlusOneHandler(db))
	mux.HandleFunc("/documents", documentsHandler(collector, documents))

	handler := httpinstrumentation.NewMiddleware(mux, "http-server", collector, logger)

	root := http.NewServeMux()
	root.Handle(env.ReportEndpoint, probe.Handler())
	root.Handle("/", handler)

	logger.Info("Starting server", zap.String("service", env.ServiceName), zap.String("addr", ":8080"))
	logger.Info("Endpoints",
		zap.String("db", "http://localhost:8080/db"),
		zap.String("db_error", "http://localhost:8080/db-error"),
		zap.String("n_plus_one", "http://localhost:8080/n-plus-one"),
		zap.String("documents", "http://localhost:8080/documents"),
		zap.String("report", "http://localhost:8080"+env.ReportEndpoint))

	if err := http.ListenAndServe(":8080", root); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("could not start server", zap.Error(err))
	}
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "<html><body>Hello from the counted server!</body></html>")
}

func dbHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row := db.QueryRowContext(r.Context(), "SELECT 'John Doe' as name")
		var name string
		if err := row.Scan(&name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "User name from DB: %s\n", name)
	}
}

func dbErroringHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := db.ExecContext(r.Context(), "SELECT * FROM non_existent_table"); err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, "This should not be reached.")
	}
}

// nPlusOneHandler runs the same statement 30 times, which exceeds the default
// request threshold for command texts.
func nPlusOneHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 30; i++ {
			var name string
			_ = db.QueryRowContext(r.Context(), "SELECT name FROM users WHERE id = ?", i).Scan(&name)
		}
		fmt.Fprintln(w, "Executed 30 queries with the same text.")
	}
}

// documentsHandler saves ?n= documents inside a session probe.
func documentsHandler(collector *counters.DataCollector, documents *docsession.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("n"))
		if err != nil || n <= 0 {
			n = 1
		}

		session := counters.NewSessionProbe(r.Context(), collector, documents)
		defer session.Close()

		if err := session.BeginTransaction(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for i := 0; i < n; i++ {
			id := strconv.Itoa(i)
			if err := session.Save(r.Context(), "notes", id, map[string]any{"title": "note " + id}); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if err := session.Flush(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Saved %d documents.\n", n)
	}
}
