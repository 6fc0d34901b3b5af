package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ces-budgetfix/internal/backup"
	"github.com/ces-budgetfix/internal/config"
	"github.com/ces-budgetfix/internal/coordinator"
	"github.com/ces-budgetfix/internal/debug"
	"github.com/ces-budgetfix/internal/report"
	"github.com/ces-budgetfix/internal/web"
)

var (
	log = logrus.New()

	cfgPath         string
	debugMode       bool
	excelOverride   string
	accountOverride string
)

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	debug.SetLogger(log)

	if err := config.LoadEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}

	rootCmd := &cobra.Command{
		Use:   "budgetfix",
		Short: "CES budget correction pipeline",
		Long:  `Regenerates Community Energy Scheme site budgets with the corrected seasonal profile and degradation schedule, reconciling the onboarding workbook against the database before any change is made.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugMode {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "budgetfix.yaml", "YAML config file (defaults apply if absent)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&excelOverride, "excel", "", "override the workbook path")
	rootCmd.PersistentFlags().StringVar(&accountOverride, "account", "", "override the account name")

	rootCmd.AddCommand(createAnalyzeCmd())
	rootCmd.AddCommand(createStatementsCmd())
	rootCmd.AddCommand(createExecuteCmd())
	rootCmd.AddCommand(createListSitesCmd())
	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if excelOverride != "" {
		cfg.ExcelFile = excelOverride
	}
	if accountOverride != "" {
		cfg.AccountName = accountOverride
	}
	return cfg, cfg.Validate()
}

// createAnalyzeCmd reconciles the workbook against the database and reports
// what an execution would change, without touching any data.
func createAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Reconcile sites and report planned changes without modifying data",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			result, stats, err := p.reconcile(cmd.Context())
			if err != nil {
				return err
			}
			plans, failures, err := p.buildPlans(result)
			if err != nil {
				return err
			}

			rep := p.newReport("analyze", result, failures)
			if err := rep.WriteFile(p.cfg.ReportFile); err != nil {
				return err
			}

			totalRows := 0
			for _, plan := range plans {
				totalRows += len(plan.Records)
			}
			summary := result.Summarize()

			fmt.Println("=== Budget Correction Analysis ===")
			fmt.Printf("Workbook:         %s\n", p.cfg.ExcelFile)
			fmt.Printf("Rows processed:   %d\n", stats.RowsProcessed)
			fmt.Printf("Matched sites:    %d\n", summary.Matched)
			fmt.Printf("Source only:      %d\n", summary.SourceOnly)
			fmt.Printf("Database only:    %d\n", summary.DatabaseOnly)
			fmt.Printf("Not members:      %d\n", summary.NotMember)
			fmt.Printf("Anomalies:        %d\n", summary.Anomalies)
			fmt.Printf("Input failures:   %d\n", len(failures))
			fmt.Printf("Rows to install:  %d (%d sites x %d months)\n", totalRows, len(plans), p.cfg.HorizonYears*12)
			fmt.Printf("Report written:   %s\n", p.cfg.ReportFile)
			return nil
		},
	}
}

// createStatementsCmd renders the correction as a reviewable SQL script
// instead of executing it.
func createStatementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statements",
		Short: "Write the correction as a SQL script for manual review and apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			result, _, err := p.reconcile(cmd.Context())
			if err != nil {
				return err
			}
			plans, failures, err := p.buildPlans(result)
			if err != nil {
				return err
			}

			if err := report.WriteSQLFile(p.cfg.StatementFile, p.cfg.AccountName, plans); err != nil {
				return err
			}

			rep := p.newReport("statements", result, failures)
			if err := rep.WriteFile(p.cfg.ReportFile); err != nil {
				return err
			}

			fmt.Println("=== SQL Statements Generated ===")
			fmt.Printf("Sites:          %d\n", len(plans))
			fmt.Printf("SQL file:       %s\n", p.cfg.StatementFile)
			fmt.Printf("Report written: %s\n", p.cfg.ReportFile)
			fmt.Println("Review the script before applying; it runs as a single transaction.")
			return nil
		},
	}
}

// createExecuteCmd runs the correction against the database.
func createExecuteCmd() *cobra.Command {
	var (
		confirm       string
		dryRun        bool
		skipUnchanged bool
		label         string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute the budget correction against the database",
		Long:  `Replaces each matched site's budget rows with its regenerated matrix. Every site is snapshotted to a CSV backup before its rows are deleted; a failure restores the snapshot and halts the run. Requires --confirm=YES.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && confirm != "YES" {
				return fmt.Errorf("refusing to modify data without --confirm=YES (or use --dry-run)")
			}

			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()
			ctx := cmd.Context()

			result, _, err := p.reconcile(ctx)
			if err != nil {
				return err
			}
			plans, failures, err := p.buildPlans(result)
			if err != nil {
				return err
			}

			if dryRun {
				totalRows := 0
				for _, plan := range plans {
					totalRows += len(plan.Records)
				}
				fmt.Println("=== Dry Run (no changes made) ===")
				fmt.Printf("Sites to correct: %d\n", len(plans))
				fmt.Printf("Rows to install:  %d\n", totalRows)
				fmt.Printf("Input failures:   %d\n", len(failures))
				return nil
			}

			if err := p.tracker.EnsureSchema(ctx); err != nil {
				return err
			}
			runID := uuid.New().String()
			if err := p.tracker.StartRun(ctx, runID, label, len(plans), ""); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"run_id": runID, "sites": len(plans)}).Info("Starting correction run")

			sizer := coordinator.NewBatchSizer(p.cfg.InitialBatchSize, p.cfg.MaxBatchSize,
				p.cfg.BatchGrowthStep, p.cfg.BatchGrowthAfter)
			coord := coordinator.New(p.store, backup.NewWriter(p.cfg.BackupDir), p.tracker, sizer,
				coordinator.Options{MaxRetries: p.cfg.MaxRetries, SkipUnchanged: skipUnchanged}, log)

			progress, runErr := coord.Run(ctx, runID, plans)

			if err := p.tracker.CompleteRun(ctx, runID, progress.Committed, progress.Skipped,
				progress.Failed, progress.RowsDeleted, progress.RowsInserted); err != nil {
				log.WithError(err).Warn("Failed to record run completion")
			}

			rep := p.newReport("execute", result, failures)
			rep.RunID = runID
			rep.Execution = &progress
			rep.Samples = p.spotCheck(ctx, result, plans, progress)
			if err := rep.WriteFile(p.cfg.ReportFile); err != nil {
				log.WithError(err).Error("Failed to write validation report")
			}

			fmt.Println("=== Budget Correction Run ===")
			fmt.Printf("Run ID:          %s\n", runID)
			fmt.Printf("Sites committed: %d\n", progress.Committed)
			fmt.Printf("Sites skipped:   %d\n", progress.Skipped)
			fmt.Printf("Sites failed:    %d\n", progress.Failed)
			fmt.Printf("Sites untouched: %d\n", progress.Untouched)
			fmt.Printf("Rows deleted:    %d\n", progress.RowsDeleted)
			fmt.Printf("Rows inserted:   %d\n", progress.RowsInserted)
			fmt.Printf("Spot checks:     %d (passed: %v)\n", len(rep.Samples), rep.SamplesOK())
			fmt.Printf("Report written:  %s\n", p.cfg.ReportFile)

			if runErr != nil {
				return runErr
			}
			if !rep.SamplesOK() {
				return fmt.Errorf("spot checks failed; see %s", p.cfg.ReportFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&confirm, "confirm", "", "must be YES to modify data")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the run without modifying data")
	cmd.Flags().BoolVar(&skipUnchanged, "skip-unchanged", false, "skip sites whose stored rows already match")
	cmd.Flags().StringVar(&label, "label", "ces-profile-correction", "run label recorded in the audit trail")
	return cmd
}

// createListSitesCmd lists the scheme's database sites with their budget row
// counts.
func createListSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-sites",
		Short: "List scheme sites in the database with budget row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()
			ctx := cmd.Context()

			sites, err := p.store.SchemeSites(ctx, p.cfg.AccountName)
			if err != nil {
				return err
			}

			fmt.Printf("=== Scheme Sites (%s) ===\n", p.cfg.AccountName)
			for _, site := range sites {
				count, err := p.store.CountSiteBudgets(ctx, site.SiteID)
				if err != nil {
					return err
				}
				fmt.Printf("%-20s %-36s %d budget rows\n", site.SchemeRef, site.SiteID, count)
			}
			fmt.Printf("Total: %d sites\n", len(sites))
			return nil
		},
	}
}

// createValidateCmd spot-checks persisted budgets against the corrected
// profile without modifying anything.
func createValidateCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Spot-check persisted budgets against the corrected profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()
			ctx := cmd.Context()

			result, _, err := p.reconcile(ctx)
			if err != nil {
				return err
			}
			plans, failures, err := p.buildPlans(result)
			if err != nil {
				return err
			}

			checked := plans
			if !all {
				checked = samplePlans(plans, p.cfg.SampleSize)
			}

			validator := p.newValidator()
			annuals := annualByRef(result)

			var samples []report.SiteCheck
			for _, plan := range checked {
				rows, err := p.store.SiteBudgets(ctx, plan.SiteID)
				if err != nil {
					return err
				}
				samples = append(samples, validator.CheckSite(plan.SiteID, plan.SchemeRef,
					annuals[plan.SchemeRef], report.FromRows(rows)))
			}

			rep := p.newReport("validate", result, failures)
			rep.Samples = samples
			if err := rep.WriteFile(p.cfg.ReportFile); err != nil {
				return err
			}

			passed := 0
			for _, sample := range samples {
				if sample.OK {
					passed++
				}
			}
			fmt.Println("=== Budget Validation ===")
			fmt.Printf("Sites checked:  %d\n", len(samples))
			fmt.Printf("Passed:         %d\n", passed)
			fmt.Printf("Failed:         %d\n", len(samples)-passed)
			fmt.Printf("Report written: %s\n", p.cfg.ReportFile)

			if passed != len(samples) {
				return fmt.Errorf("%d sites failed validation; see %s", len(samples)-passed, p.cfg.ReportFile)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "check every matched site instead of a sample")
	return cmd
}

// createServeCmd starts the read-only review server.
func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the validation report and audit trail over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := p.tracker.EnsureSchema(ctx); err != nil {
				return err
			}

			server := web.NewServer(p.cfg.ListenAddr, p.cfg.ReportFile, p.tracker, log)
			return server.Start(ctx)
		},
	}
}

// createPingCmd tests database connectivity.
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer p.Close()
			ctx := cmd.Context()

			fmt.Println("Database connection successful!")

			sites, err := p.store.SchemeSites(ctx, p.cfg.AccountName)
			if err != nil {
				return err
			}
			fmt.Printf("Scheme sites: %d\n", len(sites))

			var budgets int
			if err := p.conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM site_budgets").Scan(&budgets); err != nil {
				return fmt.Errorf("failed to count budget rows: %w", err)
			}
			fmt.Printf("Budget rows:  %d\n", budgets)
			return nil
		},
	}
}
