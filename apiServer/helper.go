package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/loreweave/loreweave/internal/chain"
	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/activity"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps the domain error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, resolver.ErrAuthorization):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Kind: "authorization"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, activity.ErrVerification):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "verification"})
	case errors.Is(err, chain.ErrVersionNotFound):
		s.log.Error("edit chain integrity fault", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "integrity"})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "internal"})
	}
}

// defaultAuth trusts the X-Actor header. Real deployments replace it
// via WithAuth with their session layer.
func defaultAuth(r *http.Request) (string, error) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		return "", fmt.Errorf("missing X-Actor header")
	}
	return actor, nil
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option {
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}
