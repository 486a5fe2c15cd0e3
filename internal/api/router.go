package api

import (
	"net/http"

	"github.com/rs/zerolog"
)

// NewRouter wires a's handlers onto a Go 1.22+ pattern-based ServeMux,
// wrapped with request-id tagging and access logging.
func NewRouter(a *API, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.Installed)
	mux.HandleFunc("POST /{$}", a.Enqueue)
	mux.HandleFunc("GET /tasks/{id}", a.TaskStatus)
	mux.HandleFunc("POST /tasks/{id}/push", a.PushTask)

	return requestID(accessLog(log)(mux))
}
