package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/internal/app"
	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/storage"
)

// cli carries state shared by all subcommands. Tests preset cfg and db to
// skip config loading and store dialing.
type cli struct {
	configPath string

	lg     *zap.Logger
	cfg    *app.Config
	db     *storage.Handle
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func newCLI() *cli {
	return &cli{
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage apikeyd API keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.close(cmd.Context())
		},
	}
	cmd.SetOut(c.stdout)
	cmd.SetErr(c.stderr)
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to configuration file (default ./config.yaml, /etc/apikeyd/config.yaml)")

	cmd.AddCommand(newKeyCmd(c))
	return cmd
}

func (c *cli) open(ctx context.Context) error {
	if c.lg == nil {
		lg, err := zap.NewDevelopment()
		if err != nil {
			return errors.Wrap(err, "create logger")
		}
		c.lg = lg
	}
	if c.cfg == nil {
		cfg, err := app.LoadFileConfig(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	}
	if c.db == nil {
		db, err := storage.Open(ctx, c.lg, c.cfg.Store)
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		c.db = db
	}
	return nil
}

func (c *cli) close(ctx context.Context) error {
	_ = c.lg.Sync()
	if c.db == nil {
		return nil
	}
	return c.db.Close(ctx)
}

func (c *cli) issuer() (*apikey.Issuer, error) {
	policy, err := c.cfg.Policy()
	if err != nil {
		return nil, err
	}
	return apikey.NewIssuer(c.db.Store, c.cfg.Codec(), policy,
		apikey.WithIssueAttempts(c.cfg.Keys.IssueAttempts),
		apikey.WithIssuerTimeout(c.cfg.Store.Timeout),
	), nil
}
