package willhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/ruteri/will-escrow-backend/metrics"
)

// classify maps a service error to its HTTP status, error class and body.
// Internal errors are reported without detail.
func classify(err error) (int, string, ErrorResponse) {
	var (
		validationErr *interfaces.ValidationError
		authErr       *interfaces.AuthError
		stateErr      *interfaces.StateError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation", ErrorResponse{Error: validationErr.Error(), Field: validationErr.Field}
	case errors.As(err, &authErr):
		if authErr.Forbidden {
			return http.StatusForbidden, "auth", ErrorResponse{Error: authErr.Error()}
		}
		return http.StatusUnauthorized, "auth", ErrorResponse{Error: authErr.Error()}
	case errors.As(err, &stateErr):
		return http.StatusConflict, "state", ErrorResponse{Error: stateErr.Error(), Status: stateErr.Status.String()}
	case errors.Is(err, interfaces.ErrDuplicateWill):
		return http.StatusConflict, "duplicate", ErrorResponse{Error: err.Error()}
	case errors.Is(err, interfaces.ErrWillNotFound):
		return http.StatusNotFound, "not_found", ErrorResponse{Error: err.Error()}
	case errors.Is(err, interfaces.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "ledger_unavailable", ErrorResponse{Error: interfaces.ErrLedgerUnavailable.Error()}
	case errors.Is(err, interfaces.ErrIntegrity):
		return http.StatusInternalServerError, "integrity", ErrorResponse{Error: interfaces.ErrIntegrity.Error()}
	default:
		return http.StatusInternalServerError, "internal", ErrorResponse{Error: "internal error"}
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, recorder *metrics.Recorder, err error) {
	code, class, body := classify(err)
	recorder.RequestError(class)

	if code >= http.StatusInternalServerError {
		log.Error("Request failed", "err", err, slog.String("class", class))
	} else {
		log.Debug("Request rejected", "err", err, slog.String("class", class))
	}

	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
