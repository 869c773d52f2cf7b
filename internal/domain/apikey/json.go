package apikey

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode writes r as a JSON object using the persisted field names.
func (r *Record) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("user_id")
	e.Str(r.UserID)
	e.FieldStart("access_level")
	e.Str(string(r.AccessLevel))
	e.FieldStart("secret_digest")
	e.Str(r.SecretDigest)
	e.FieldStart("comment")
	e.Str(r.Comment)
	e.FieldStart("date_expiry")
	if r.DateExpiry != nil {
		e.Str(r.DateExpiry.UTC().Format(time.RFC3339Nano))
	} else {
		e.Null()
	}
	e.FieldStart("status")
	e.Str(string(r.Status))
	e.FieldStart("created_at")
	e.Str(r.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Decode reads a JSON object produced by Encode. Unknown fields are skipped.
// A missing status decodes as ACTIVE.
func (r *Record) Decode(d *jx.Decoder) error {
	*r = Record{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, &r.ID)
		case "user_id":
			return decodeStr(d, &r.UserID)
		case "access_level":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			r.AccessLevel = AccessLevel(s)
		case "secret_digest":
			return decodeStr(d, &r.SecretDigest)
		case "comment":
			return decodeStr(d, &r.Comment)
		case "date_expiry":
			if d.Next() == jx.Null {
				return d.Null()
			}
			t, err := decodeTime(d)
			if err != nil {
				return errors.Wrap(err, "date_expiry")
			}
			r.DateExpiry = &t
		case "status":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			r.Status = Status(s)
		case "created_at":
			t, err := decodeTime(d)
			if err != nil {
				return errors.Wrap(err, "created_at")
			}
			r.CreatedAt = t
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decode api key record")
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	return nil
}

func decodeStr(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
