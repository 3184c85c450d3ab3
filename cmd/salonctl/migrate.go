package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"salon-gateway/config"
	"salon-gateway/internal/domain"
	"salon-gateway/internal/infra"
	"salon-gateway/internal/repository"
	"salon-gateway/internal/usecase"
	"salon-gateway/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage the decrypt batch history schema. Connects to DATABASE_URL directly.",
	}
	cmd.AddCommand(migrateUpCmd(), migrateStatusCmd())
	return cmd
}

// newMigrationService はDATABASE_URLに接続し、埋め込みSQLを読むMigrationServiceを作る。
func newMigrationService() (*usecase.MigrationService, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// CLIではSQLトレースを出さない
	cfg.OtelEnabled = false
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.FS), nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetLogLoggerLevel(slog.LevelWarn)

			svc, err := newMigrationService()
			if err != nil {
				return err
			}
			applied, err := svc.ApplyMigrations(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), failure(fmt.Sprintf("Applied %d migration(s) before the failure", applied)))
				return fmt.Errorf("migration failed: %w", err)
			}

			if applied == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), success("No pending migrations"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("Applied %d migration(s)", applied)))
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetLogLoggerLevel(slog.LevelWarn)

			svc, err := newMigrationService()
			if err != nil {
				return err
			}
			list, err := svc.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")
			for _, m := range list {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				status := color.YellowString("pending")
				if m.Status == domain.MigrationStatusApplied {
					status = color.GreenString("applied")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, status, appliedAt)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
}
