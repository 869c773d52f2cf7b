package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/secret"
)

func newKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"user"},
		Short:   "Create, list, revoke and export API keys",
	}
	cmd.AddCommand(
		newKeyCreateCmd(c),
		newKeyListCmd(c),
		newKeyRevokeCmd(c),
		newKeyExportCmd(c),
	)
	return cmd
}

// parseExpiry accepts "now", RFC 3339, or a local "2006-01-02[T15:04:05]"
// timestamp. An empty string means no expiry.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return nil, nil
	case "now":
		t := now.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.Errorf("invalid expiry %q: want now or an ISO 8601 timestamp", s)
}

func newKeyCreateCmd(c *cli) *cobra.Command {
	var (
		userID  string
		level   string
		expires string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key and print its secret once",
		Example: `  keyctl key create --user user1 --expires 2030-01-01T00:00:00Z --comment "CI"
  keyctl key create --user ops --level ADMIN`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			expiry, err := parseExpiry(expires, c.now())
			if err != nil {
				return err
			}
			issuer, err := c.issuer()
			if err != nil {
				return err
			}
			issued, err := issuer.Issue(cmd.Context(), apikey.IssueRequest{
				UserID:      userID,
				AccessLevel: apikey.AccessLevel(level),
				Expiry:      expiry,
				Comment:     comment,
			})
			if err != nil {
				return errors.Wrap(err, "issue key")
			}

			rec := issued.Record
			c.lg.Info("Key created",
				zap.String("user_id", rec.UserID),
				zap.String("digest_prefix", rec.DigestPrefix()),
			)
			fmt.Fprintln(c.stderr, "Key created")
			fmt.Fprintln(c.stderr, "User:   ", rec.UserID)
			fmt.Fprintln(c.stderr, "Level:  ", rec.AccessLevel)
			fmt.Fprintln(c.stderr, "Expires:", formatExpiry(rec.DateExpiry))
			fmt.Fprintln(c.stderr, "Comment:", orDash(rec.Comment))
			fmt.Fprintln(c.stderr, "Hash:   ", rec.DigestPrefix())
			fmt.Fprint(c.stderr, "Plain API key: ")
			fmt.Fprintln(c.stdout, issued.Secret.Reveal())
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user the key acts for (required)")
	cmd.Flags().StringVarP(&level, "level", "l", string(apikey.LevelCompletion), "access level")
	cmd.Flags().StringVarP(&expires, "expires", "e", "", "expiration time: now or ISO 8601")
	cmd.Flags().StringVarP(&comment, "comment", "t", "", "arbitrary text stored with the key")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

const listFormat = "%-12.12s  %-20s  %-7s  %-16s  %-10s  %s\n"

func newKeyListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list [hash-prefix]",
		Aliases: []string{"ls"},
		Short:   "List keys, optionally filtered by digest prefix",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix string
			if len(args) == 1 {
				prefix = strings.ToLower(args[0])
			}
			if !secret.IsDigestPrefix(prefix) {
				return errors.Errorf("hash prefix %q is not hex", prefix)
			}

			recs, err := c.list(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			now := c.now()
			fmt.Fprintf(c.stdout, listFormat, "Hash", "Expires", "Status", "User", "Level", "Comment")
			fmt.Fprintf(c.stdout, listFormat, strings.Repeat("-", 12), strings.Repeat("-", 20),
				strings.Repeat("-", 7), strings.Repeat("-", 16), strings.Repeat("-", 10), "-------")
			for i := range recs {
				r := &recs[i]
				fmt.Fprintf(c.stdout, listFormat,
					r.DigestPrefix(),
					formatExpiry(r.DateExpiry),
					displayStatus(r, now),
					r.UserID,
					r.AccessLevel,
					r.Comment,
				)
			}
			return nil
		},
	}
}

func newKeyRevokeCmd(c *cli) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "revoke <hash-prefix>",
		Short: "Revoke the key matching a unique digest prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := strings.ToLower(args[0])
			if prefix == "" || !secret.IsDigestPrefix(prefix) {
				return errors.Errorf("hash prefix %q is not hex", args[0])
			}

			recs, err := c.list(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			switch len(recs) {
			case 0:
				return errors.New("key not found")
			case 1:
			default:
				return errors.New("more than one key matches; specify more of the hash prefix")
			}

			rec := recs[0]
			owner := userID
			if owner == "" {
				owner = rec.UserID
			}

			ctx, cancel := c.storeContext(cmd.Context())
			defer cancel()
			if err := c.db.Store.Revoke(ctx, owner, rec.SecretDigest); err != nil {
				if errors.Is(err, apikey.ErrNotFound) {
					return errors.Errorf("key %s does not belong to %q", rec.DigestPrefix(), owner)
				}
				return errors.Wrap(err, "revoke key")
			}

			c.lg.Info("Key revoked",
				zap.String("user_id", owner),
				zap.String("digest_prefix", rec.DigestPrefix()),
			)
			fmt.Fprintln(c.stderr, "Key revoked:", rec.DigestPrefix())
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "expected owner of the key (default: the key's owner)")
	return cmd
}

func (c *cli) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Store.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Store.Timeout)
}

func (c *cli) list(ctx context.Context, prefix string) ([]apikey.Record, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	recs, err := c.db.Store.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list keys")
	}
	return recs, nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func displayStatus(r *apikey.Record, now time.Time) string {
	if r.Status == apikey.StatusActive && r.Expired(now) {
		return "EXPIRED"
	}
	return string(r.Status)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
