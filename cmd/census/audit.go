package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/platform/db"
	"github.com/ehr/census/internal/platform/hipaa"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the census access log",
	}

	var before string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete access records older than a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if before == "" {
				return fmt.Errorf("--before is required")
			}
			cutoff, err := time.Parse("2006-01-02", before)
			if err != nil {
				return fmt.Errorf("invalid --before %q: want YYYY-MM-DD", before)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL is required to purge the access log")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := hipaa.NewAccessLog(pool).PurgeBefore(ctx, cutoff, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d access record(s) before %s.\n", n, before)
			return nil
		},
	}
	purgeCmd.Flags().StringVar(&before, "before", "", "Delete records accessed before this date (YYYY-MM-DD)")
	cmd.AddCommand(purgeCmd)

	return cmd
}
