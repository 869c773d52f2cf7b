package main

import (
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/domain/apikey"
)

func newKeyExportCmd(c *cli) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every key record as gzip-compressed JSON lines",
		Long: `Write every key record, digests only, as gzip-compressed JSON lines.
Plaintext secrets are never stored and therefore never exported.`,
		Example: `  keyctl key export --out keys.jsonl.gz
  keyctl key export --out - | gunzip | head`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := c.list(cmd.Context(), "")
			if err != nil {
				return err
			}

			var w io.Writer = c.stdout
			if out != "-" {
				f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return errors.Wrap(err, "create export file")
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			if err := writeExport(w, recs); err != nil {
				return err
			}
			c.lg.Info("Keys exported", zap.Int("count", len(recs)), zap.String("out", out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", `output file, "-" for stdout (required)`)
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// writeExport gzips one JSON document per record.
func writeExport(w io.Writer, recs []apikey.Record) error {
	zw := pgzip.NewWriter(w)

	var e jx.Encoder
	for i := range recs {
		e.Reset()
		recs[i].Encode(&e)
		if _, err := zw.Write(append(e.Bytes(), '\n')); err != nil {
			_ = zw.Close()
			return errors.Wrap(err, "write export")
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "flush export")
	}
	return nil
}
