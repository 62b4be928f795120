// Package main provides botctl, the operator CLI of the commerce agent.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/config"
	"github.com/capitalize-ai/commerce-agent/internal/functions"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "botctl",
		Short:         "Operate the commerce agent database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newMigrateCmd(), newSeedFunctionsCmd(), newEnableFunctionsCmd(), newBillingCmd())
	return rootCmd
}

func openDB() (*gorm.DB, *logger.Logger, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	db, err := repository.OpenPostgres(cfg.DatabaseURL, repository.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return db, log, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB()
			if err != nil {
				return err
			}
			if err := repository.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
			return nil
		},
	}
}

func newSeedFunctionsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-functions",
		Short: "Upsert function definitions from a YAML catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			fns, err := functions.LoadCatalog(f)
			if err != nil {
				return err
			}

			db, log, err := openDB()
			if err != nil {
				return err
			}
			registry := functions.NewDefaultRegistry(functions.Deps{}, log)
			tenants := repository.NewTenantRepository(db)

			out := cmd.OutOrStdout()
			for i := range fns {
				if !registry.Has(fns[i].Name) {
					fmt.Fprintf(out, "warning: %s has no handler and will answer %q\n", fns[i].Name, functions.NotFound)
				}
				if err := tenants.UpsertFunction(cmd.Context(), &fns[i]); err != nil {
					return fmt.Errorf("failed to upsert %s: %w", fns[i].Name, err)
				}
			}
			fmt.Fprintf(out, "%d functions upserted\n", len(fns))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "functions.yaml", "catalog file")
	return cmd
}

func newEnableFunctionsCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "enable-functions NAME...",
		Short: "Enable functions for a tenant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB()
			if err != nil {
				return err
			}
			if err := repository.NewTenantRepository(db).EnableFunctions(cmd.Context(), tenantID, args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d functions enabled for %s\n", len(args), tenantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newBillingCmd() *cobra.Command {
	var (
		from, to, tenantID string
		asJSON             bool
	)
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Print token usage and cost per tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toT, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			db, log, err := openDB()
			if err != nil {
				return err
			}
			billing := service.NewBillingService(
				repository.NewConversationRepository(db),
				repository.NewTenantRepository(db),
				log,
			)
			report, err := billing.Report(cmd.Context(), fromT, toT, tenantID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tMODEL\tPROMPT\tCOMPLETION\tCOST\tPRICE")
			for _, row := range report.Rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					row.TenantName, row.ModelName, row.PromptTokens, row.CompletionTokens,
					row.TotalCost.StringFixed(4), row.TotalPrice.StringFixed(4))
			}
			fmt.Fprintf(w, "TOTAL\t\t\t\t%s\t\n", report.TotalCost.StringFixed(4))
			return w.Flush()
		},
	}
	now := time.Now()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	cmd.Flags().StringVar(&from, "from", firstOfMonth.Format(time.DateOnly), "start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", firstOfMonth.AddDate(0, 1, 0).Format(time.DateOnly), "end date, exclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "only this tenant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
