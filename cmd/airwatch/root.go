package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/breatheroute/airwatch/internal/app"
	"github.com/breatheroute/airwatch/internal/config"
)

const serviceName = "airwatch-cli"

// cliContext is shared by all sub-commands.
type cliContext struct {
	out   io.Writer
	store string

	cfg *config.Config
	log zerolog.Logger
}

// rootCommand creates the root command. Results are written to out; logs go
// to the configured log output.
func rootCommand(out io.Writer) *cobra.Command {
	cc := &cliContext{out: out}

	rootCmd := &cobra.Command{
		Use:           "airwatch",
		Short:         "Air quality batch ingestion and maintenance",
		Version:       Version,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&cc.store, "store", "", "Store backend: postgres or memory (default from STORE_BACKEND)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cc.store != "" {
			cfg.App.StoreBackend = cc.store
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		cc.cfg = cfg
		cc.log = app.NewLogger(cfg.App, serviceName, Version)
		return nil
	}

	rootCmd.AddCommand(
		ingestCommand(cc),
		migrateCommand(cc),
		resetCommand(cc),
		tokenCommand(cc),
	)

	return rootCmd
}

// open builds the services and applies the schema. The caller must Close
// the returned App.
func (cc *cliContext) open(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cc.cfg, app.Options{
		Logger:     cc.log,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return nil, err
	}
	if err := a.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return a, nil
}
