package core

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"platemask/internal/types"
)

// Pinger reports backing-store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter assembles the chi router: the global middleware chain, the health
// endpoint, and the domain routes contributed by the registrars.
//
// Middleware ordering matters: Recoverer is outermost so it catches panics
// from everything below, the request ID must exist before logging, and the
// security headers go on before any handler can write.
func NewRouter(logger *slog.Logger, store Pinger, registrars ...func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Recoverer(logger))
	r.Use(RequestIDMiddleware)
	r.Use(SecurityHeaders)
	r.Use(RequestLogger(logger))

	r.Get("/health", handleHealth(store))

	for _, register := range registrars {
		register(r)
	}

	return r
}

// handleHealth reports liveness and database connectivity.
func handleHealth(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				Error(w, r, types.NewAppError(
					types.ErrCodeInternalDB,
					"database unreachable",
					err,
				))
				return
			}
		}
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
	}
}
