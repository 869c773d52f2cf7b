// Command seed-db loads sample API keys into the configured store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/apikeyd/db"
	"github.com/xenking/apikeyd/internal/app"
	"github.com/xenking/apikeyd/internal/storage"
)

func main() {
	var (
		configPath string
		seedFile   string
	)
	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&seedFile, "file", "", "seed file (default: embedded db/seed/api_keys.yaml)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, configPath, seedFile); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, configPath, seedFile string) error {
	cfg, err := app.LoadFileConfig(configPath)
	if err != nil {
		return err
	}

	data := db.SampleKeys
	if seedFile != "" {
		lg.Info("Reading seed file", zap.String("path", seedFile))
		if data, err = os.ReadFile(seedFile); err != nil {
			return errors.Wrap(err, "read seed file")
		}
	}
	seed, err := parseSeed(data)
	if err != nil {
		return err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	h, err := storage.Open(ctx, lg, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() { _ = h.Close(context.Background()) }()

	s := &seeder{
		lg:     lg,
		store:  h.Store,
		codec:  cfg.Codec(),
		policy: policy,
		getenv: os.Getenv,
	}
	return s.apply(ctx, seed)
}
