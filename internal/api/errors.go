package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	httputil "github.com/wolfeidau/tenancy/internal/http"
	"github.com/wolfeidau/tenancy/internal/tenancy"
)

// writeError maps the tenancy error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var accessErr *tenancy.AccessError
	hasAccessErr := errors.As(err, &accessErr)

	switch {
	case errors.Is(err, tenancy.ErrNotFound):
		msg := "This company no longer exists."
		if hasAccessErr {
			msg = accessErr.Message()
		}
		httputil.WriteError(w, r, http.StatusNotFound, "not_found", msg)
	case errors.Is(err, tenancy.ErrDenied):
		msg := "You don't have access to this company."
		if hasAccessErr {
			msg = accessErr.Message()
		}
		httputil.WriteError(w, r, http.StatusForbidden, "denied", msg)
	case errors.Is(err, tenancy.ErrInvalidArgument):
		httputil.WriteError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, tenancy.ErrSessionEnded):
		httputil.WriteError(w, r, http.StatusConflict, "session_ended", "Your session ended before the request completed.")
	case errors.Is(err, tenancy.ErrEventualConsistencyTimeout):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Write not confirmed in time")
		httputil.WriteError(w, r, http.StatusGatewayTimeout, "consistency_timeout", "The change was saved but is not visible yet. Please retry.")
	case errors.Is(err, tenancy.ErrTransientStore):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Transient store failure")
		httputil.WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "The service is temporarily unavailable. Please retry.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, r, http.StatusServiceUnavailable, "cancelled", "The request was cancelled.")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		httputil.WriteError(w, r, http.StatusInternalServerError, "internal", "Internal error.")
	}
}
