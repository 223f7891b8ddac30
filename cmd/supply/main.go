package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/models/reports"
	"github.com/mmdatafocus/mto_backend/workflow"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// run flags
var (
	runStart  string
	runDays   int
	runDryRun bool

	exportRunId int
	exportOut   string
)

var rootCmd = &cobra.Command{
	Use:           "supply",
	Short:         "Supply reconciliation for make-to-order production",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supply reconciliation once",
	Long: `Allocate stock and incoming purchase orders to every confirmed customer
order delivering inside the window, then create purchase orders for the
aggregate shortfall.

Examples:
  supply run                          # Window from today, SUPPLY_WINDOW_DAYS long
  supply run --start 2026-11-02 --days 7
  supply run --dry-run                # Compute only, write nothing`,
	RunE: runOnce,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the reconciliation daily at SUPPLY_SCHEDULE_TIME",
	RunE:  runSchedule,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the shortfall sheet of a stored run to an xlsx file",
	RunE:  runExport,
}

func init() {
	runCmd.Flags().StringVar(&runStart, "start", "", "Window start date (YYYY-MM-DD), defaults to today")
	runCmd.Flags().IntVar(&runDays, "days", 0, "Window length in days, defaults to SUPPLY_WINDOW_DAYS")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Compute allocations without persisting anything")

	exportCmd.Flags().IntVar(&exportRunId, "run-id", 0, "Supply run id (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file, defaults to supply-run-<id>.xlsx")
	_ = exportCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(runCmd, scheduleCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) *workflow.Engine {
	config.ConnectDatabaseWithRetry()
	if config.RedisConfigured() {
		if err := config.ConnectRedisWithRetry(ctx, 5); err != nil {
			config.GetLogger().WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; using file lock: " + err.Error())
		}
	}
	return workflow.NewEngine(config.GetDB(), config.LoadSupplyConfig())
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := connect(ctx)
	opts := e.DefaultRunOptions()
	if s := strings.TrimSpace(runStart); s != "" {
		start, err := time.ParseInLocation(time.DateOnly, s, e.Config.Location())
		if err != nil {
			return fmt.Errorf("invalid --start %q: %w", s, err)
		}
		opts.WindowStart, opts.WindowEnd = e.Config.Window(start)
	}
	if runDays > 0 {
		opts.WindowEnd = opts.WindowStart.AddDate(0, 0, runDays)
	}
	if cmd.Flags().Changed("dry-run") {
		opts.DryRun = runDryRun
	}

	run := e.RunReconciliation(ctx, opts)
	printRun(run)
	if run.Outcome == models.SupplyRunOutcomeError {
		return fmt.Errorf("supply run %d failed at %s: %s", run.ID, deref(run.ErrorStage), deref(run.ErrorMessage))
	}
	return nil
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := connect(ctx)
	logger := config.GetLogger()
	if !e.Config.Enabled {
		logger.WithFields(logrus.Fields{"field": "schedule"}).Warn("SUPPLY_ENABLED is false; scheduler not started")
		return nil
	}
	spec, err := e.Config.CronSpec()
	if err != nil {
		return err
	}

	c := cron.NewWithLocation(e.Config.Location())
	err = c.AddFunc(spec, func() {
		run := e.RunReconciliation(ctx, e.DefaultRunOptions())
		logger.WithFields(logrus.Fields{
			"run_id":  run.ID,
			"outcome": run.Outcome,
		}).Info("scheduled supply run finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"spec":     spec,
		"timezone": e.Config.Location().String(),
	}).Info("supply scheduler started")

	<-ctx.Done()
	c.Stop()
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	config.ConnectDatabaseWithRetry()
	run, err := models.GetSupplyRun(config.GetDB().WithContext(cmd.Context()), exportRunId)
	if err != nil {
		return fmt.Errorf("load supply run %d: %w", exportRunId, err)
	}
	out := exportOut
	if out == "" {
		out = fmt.Sprintf("supply-run-%d.xlsx", run.ID)
	}
	if err := reports.ExportShortfalls(run, out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func printRun(run *models.SupplyRun) {
	fmt.Printf("run %d (%s) %s\n", run.ID, run.WeekLabel, run.Outcome)
	fmt.Printf("  window        %s .. %s\n", run.WindowStart.Format(time.DateOnly), run.WindowEnd.Format(time.DateOnly))
	fmt.Printf("  orders        %d scanned, %d touched, %d skipped\n", run.OrdersScanned, run.OrdersTouched, run.OrdersSkipped)
	fmt.Printf("  stock         %s reserved on %d lines\n", run.StockReservedQty.String(), run.StockReservationLines)
	fmt.Printf("  incoming      %s reserved on %d lines\n", run.PoReservedQty.String(), run.PoReservationLines)
	fmt.Printf("  shortfall     %s across %d components\n", run.ShortfallQty.String(), run.ShortfallComponents)
	fmt.Printf("  POs created   %d\n", run.PurchaseOrdersCreated)
	if run.DryRun {
		fmt.Println("  dry run: nothing persisted")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
