package handler

import (
	"context"
	"net/http"
)

// Pinger checks a backing dependency, typically the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is the liveness probe.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Ready is the readiness probe. It fails while the database is
// unreachable so traffic waits for a working store.
func Ready(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"database"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
