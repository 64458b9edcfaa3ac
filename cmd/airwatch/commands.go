package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/breatheroute/airwatch/internal/auth"
)

func ingestCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file.csv]...",
		Short: "Ingest one or more CSV batches",
		Long: `Ingest validates, completes and stores each CSV file as one batch.
Files are ingested concurrently; a batch is stored entirely or not at all.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Ingest.IngestFiles(cmd.Context(), args)
			for i, r := range results {
				if r == nil {
					continue
				}
				fmt.Fprintf(cc.out, "%s: batch %s inserted %d reports for %s, %d cells imputed, %d alerts\n",
					args[i], r.BatchID, r.Inserted, strings.Join(r.Cities, ", "), r.Imputed, len(r.Alerts))
				for _, w := range r.Warnings {
					fmt.Fprintf(cc.out, "  warning: %s\n", w)
				}
			}
			return err
		},
	}
}

func migrateCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := cc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cc.out, "schema is up to date")
			return nil
		},
	}
}

func resetCommand(cc *cliContext) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all cities, reports and alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("refusing to reset without --yes")
			}

			a, err := cc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Reset(cmd.Context()); err != nil {
				return err
			}
			cc.log.Warn().Str("subject", "cli").Msg("store reset")
			fmt.Fprintln(cc.out, "store reset")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm that all data should be deleted")
	return cmd
}

func tokenCommand(cc *cliContext) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the reset endpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cc.cfg.UsesDefaultSigningKey() {
				cc.log.Warn().Msg("using default admin JWT signing key - not secure for production")
			}

			tokens := auth.NewJWTService(auth.JWTConfig{
				SigningKey: cc.cfg.Auth.AdminSigningKey,
				TTL:        cc.cfg.Auth.AdminTokenTTL,
			})
			token, expiresAt, err := tokens.GenerateAdminToken(subject)
			if err != nil {
				return err
			}

			fmt.Fprintln(cc.out, token)
			cc.log.Info().Str("subject", subject).Str("expires_at", expiresAt.Format(time.RFC3339)).Msg("admin token minted")
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "Subject recorded in the token and in reset logs")
	return cmd
}
