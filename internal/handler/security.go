package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

var (
	errMissingCredentials = errors.New("missing bearer token")
	errUnsupportedScheme  = errors.New("unsupported authorization scheme")
)

type principalKey struct{}

// PrincipalFromContext returns the principal stored by RequireLevel.
func PrincipalFromContext(ctx context.Context) (*apikey.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*apikey.Principal)
	return p, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingCredentials
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", errUnsupportedScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingCredentials
	}
	return token, nil
}

// authenticate validates the bearer token against level and writes the
// failure response itself. It returns nil when the request was rejected.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, level apikey.AccessLevel) *apikey.Principal {
	ctx := r.Context()

	token, err := bearerToken(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="apikeyd"`)
		msg := "unauthorized"
		if errors.Is(err, errUnsupportedScheme) {
			msg = err.Error()
		}
		writeError(w, http.StatusUnauthorized, msg)
		return nil
	}

	p, err := h.validator.Validate(ctx, token, level)
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetAttributes(attribute.String("apikey.outcome", outcome(err)))
		zctx.From(ctx).Debug("Key rejected",
			zap.String("outcome", outcome(err)),
			zap.String("level", string(level)),
		)
		h.writeErr(w, r, err)
		return nil
	}

	span.SetAttributes(
		attribute.String("apikey.outcome", "allow"),
		attribute.String("apikey.user_id", p.UserID),
	)
	return p
}

// RequireLevel admits only requests carrying a key that grants level and
// stores the principal in the request context.
func (h *Handler) RequireLevel(level apikey.AccessLevel, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := h.authenticate(w, r, level)
		if p == nil {
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		ctx = zctx.With(ctx, zap.String("principal", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate serves GET /api/v1/auth?level=L. It reports who the key acts
// for when it grants L (COMPLETION by default).
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	level := apikey.LevelCompletion
	if l := r.URL.Query().Get("level"); l != "" {
		level = apikey.AccessLevel(l)
	}
	if !h.policy.Known(level) {
		writeError(w, http.StatusBadRequest, "unknown_access_level")
		return
	}

	p := h.authenticate(w, r, level)
	if p == nil {
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("key_id")
	e.Str(p.KeyID)
	e.FieldStart("user_id")
	e.Str(p.UserID)
	e.FieldStart("access_level")
	e.Str(string(p.AccessLevel))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
