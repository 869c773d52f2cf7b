package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

const maxBodyBytes = 64 << 10

type issueKeyRequest struct {
	UserID      string
	AccessLevel apikey.AccessLevel
	DateExpiry  *time.Time
	Comment     string
}

func (req *issueKeyRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			s, err := d.Str()
			req.UserID = s
			return err
		case "access_level":
			s, err := d.Str()
			req.AccessLevel = apikey.AccessLevel(s)
			return err
		case "comment":
			s, err := d.Str()
			req.Comment = s
			return err
		case "date_expiry":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return errors.Wrap(err, "date_expiry")
			}
			req.DateExpiry = &t
			return nil
		default:
			return d.Skip()
		}
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// IssueKey serves POST /api/v1/keys. The plaintext secret appears only in
// this response.
func (h *Handler) IssueKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var req issueKeyRequest
	if err := req.Decode(jx.DecodeBytes(body)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.AccessLevel == "" {
		req.AccessLevel = apikey.LevelCompletion
	}

	issued, err := h.issuer.Issue(ctx, apikey.IssueRequest{
		UserID:      req.UserID,
		AccessLevel: req.AccessLevel,
		Expiry:      req.DateExpiry,
		Comment:     req.Comment,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	rec := issued.Record
	zctx.From(ctx).Info("Key issued",
		zap.String("key_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("access_level", string(rec.AccessLevel)),
		zap.String("digest_prefix", rec.DigestPrefix()),
	)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rec.ID)
	e.FieldStart("secret")
	e.Str(issued.Secret.Reveal())
	e.FieldStart("secret_digest")
	e.Str(rec.SecretDigest)
	e.FieldStart("user_id")
	e.Str(rec.UserID)
	e.FieldStart("access_level")
	e.Str(string(rec.AccessLevel))
	e.FieldStart("date_expiry")
	if rec.DateExpiry != nil {
		e.Str(rec.DateExpiry.Format(time.RFC3339))
	} else {
		e.Null()
	}
	e.FieldStart("created_at")
	e.Str(rec.CreatedAt.Format(time.RFC3339Nano))
	e.ObjEnd()

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, &e)
}

// RevokeKey serves POST /api/v1/keys/{digest}/revoke with body
// {"user_id": "..."}. Revoking twice succeeds.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	digest := strings.ToLower(r.PathValue("digest"))
	if !secret.IsDigest(digest) {
		writeError(w, http.StatusBadRequest, "invalid_digest")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var userID string
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "user_id" {
			return d.Skip()
		}
		s, err := d.Str()
		userID = strings.TrimSpace(s)
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}

	if err := h.revoke(ctx, userID, digest); err != nil {
		if !errors.Is(err, apikey.ErrNotFound) {
			err = fmt.Errorf("%w: %w", apikey.ErrStoreUnavailable, err)
		}
		h.writeErr(w, r, err)
		return
	}

	zctx.From(ctx).Info("Key revoked",
		zap.String("user_id", userID),
		zap.String("digest_prefix", digest[:12]),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(ctx context.Context, userID, digest string) error {
	if h.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.storeTimeout)
		defer cancel()
	}
	return h.revoker.Revoke(ctx, userID, digest)
}
