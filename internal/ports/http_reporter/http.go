package http_reporter

import (
	"encoding/json"
	"net/http"

	"github.com/fllarpy/uiprobe/domain"
)

// NewHandler creates an HTTP handler that serves the report from the given store.
// It fetches a snapshot of the current report and serves it as a JSON response.
// The query parameter violations_only=true drops the recent scopes.
func NewHandler(store domain.StoreReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		snapshot := store.GetSnapshot()
		if r.URL.Query().Get("violations_only") == "true" {
			snapshot.Recent = nil
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			http.Error(w, "Failed to encode report to JSON", http.StatusInternalServerError)
		}
	})
}
