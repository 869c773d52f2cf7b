package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

// errorStatus maps an error onto a status code and the category reported to
// the client. Unknown, expired and revoked keys share one response so that a
// caller cannot tell which keys exist.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apikey.ErrUnknownKey),
		errors.Is(err, apikey.ErrKeyExpired),
		errors.Is(err, apikey.ErrKeyRevoked):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apikey.ErrInsufficientLevel):
		return http.StatusForbidden, "insufficient_level"
	case errors.Is(err, apikey.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, apikey.ErrExhaustedRetries):
		return http.StatusServiceUnavailable, "exhausted_retries"
	case errors.Is(err, apikey.ErrInvalidUserID):
		return http.StatusBadRequest, "invalid_user_id"
	case errors.Is(err, apikey.ErrUnknownAccessLevel):
		return http.StatusBadRequest, "unknown_access_level"
	case errors.Is(err, apikey.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// outcome is the label used in logs and spans; it is never sent to clients.
func outcome(err error) string {
	switch {
	case errors.Is(err, apikey.ErrUnknownKey):
		return apikey.OutcomeDenyUnknown
	case errors.Is(err, apikey.ErrKeyExpired):
		return apikey.DenyExpired.String()
	case errors.Is(err, apikey.ErrKeyRevoked):
		return apikey.DenyRevoked.String()
	case errors.Is(err, apikey.ErrInsufficientLevel):
		return apikey.DenyInsufficientLevel.String()
	case errors.Is(err, apikey.ErrStoreUnavailable):
		return apikey.OutcomeStoreUnavailable
	default:
		return "error"
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="apikeyd", error="invalid_token"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(h.retryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Warn("Request failed",
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
