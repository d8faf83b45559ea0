package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crmsync/internal/api"
	"crmsync/internal/config"
	"crmsync/internal/logging"
	"crmsync/internal/results"
	"crmsync/internal/schedule"
	syncrun "crmsync/internal/sync"
	"crmsync/internal/warehouse"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "crmsync",
		Short: "Sync Pipedrive CRM data into Google Sheets",
		Long: `crmsync fetches deals, organizations, activities, leads, users and notes from
Pipedrive, republishes them to a Google Sheets spreadsheet and builds the monthly
organization x owner "Analysis" table.

Examples:
  crmsync config init
  crmsync sync
  crmsync sync --only Deals,Analysis --dry-run
  crmsync fetch Deals --output deals.csv
  crmsync analyze
  crmsync schedule --cron "0 6 * * *"`,
		Version: version,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "Create and inspect the crmsync configuration file",
	}

	endpointsCmd = &cobra.Command{
		Use:   "endpoints",
		Short: "Inspect configured endpoints",
		Long:  "List the Pipedrive endpoints crmsync fetches and the sheets they feed",
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.crmsync/config.yaml)")
	rootCmd.PersistentFlags().StringSlice("env-file", nil, "Env files to load (default ./.env)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every endpoint and publish all tables",
		Long:  "Fetch all configured endpoints, build the Analysis table and publish everything to the selected sinks",
		Args:  cobra.NoArgs,
		Run:   syncCmdHandler,
	}
	syncCmd.Flags().Bool("dry-run", false, "Fetch and aggregate without writing anything")
	syncCmd.Flags().StringSlice("only", nil, "Restrict the run to these endpoints (use Analysis for the aggregation)")
	syncCmd.Flags().StringSlice("sink", nil, "Override outputs.sinks (sheets, xlsx, csv, duckdb)")
	syncCmd.Flags().Int("max-rows", 10, "Rows to preview per table in dry-run mode")

	fetchCmd := &cobra.Command{
		Use:   "fetch [endpoint]",
		Short: "Fetch one endpoint",
		Long:  "Fetch all records of one endpoint and print a preview or export them",
		Args:  cobra.ExactArgs(1),
		Run:   fetchCmdHandler,
	}
	fetchCmd.Flags().StringP("output", "o", "", "Export to file instead of printing")
	fetchCmd.Flags().String("format", "", "Export format: csv, tsv, json (default from file extension)")
	fetchCmd.Flags().Int("max-rows", 20, "Rows to preview")
	fetchCmd.Flags().Bool("flatten", false, "Flatten nested objects into field.sub columns")

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Build the monthly Analysis table",
		Long:  "Fetch the Analysis inputs and print the organization x owner x month table without publishing",
		Args:  cobra.NoArgs,
		Run:   analyzeCmdHandler,
	}
	analyzeCmd.Flags().StringP("output", "o", "", "Export to file instead of printing")
	analyzeCmd.Flags().String("format", "", "Export format: csv, tsv, json (default from file extension)")
	analyzeCmd.Flags().Int("max-rows", 50, "Rows to preview")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run sync on a cron schedule",
		Long:  "Run a full sync every time the cron expression fires until interrupted",
		Args:  cobra.NoArgs,
		Run:   scheduleCmdHandler,
	}
	scheduleCmd.Flags().String("cron", "", "Cron expression (overrides schedule.cron)")
	scheduleCmd.Flags().String("timezone", "", "IANA timezone for the cron expression")
	scheduleCmd.Flags().StringSlice("sink", nil, "Override outputs.sinks (sheets, xlsx, csv, duckdb)")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Long:  "List recent runs recorded in the DuckDB warehouse",
		Args:  cobra.NoArgs,
		Run:   historyCmdHandler,
	}
	historyCmd.Flags().Int("limit", 10, "Number of runs to show")
	historyCmd.Flags().Bool("targets", false, "Show per-target outcomes")

	endpointsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured endpoints",
		Run:   endpointsListCmdHandler,
	}
	endpointsCmd.AddCommand(endpointsListCmd)

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration after file, env and defaults are merged",
		Run:   configShowCmdHandler,
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Write the default configuration to the config path. Secrets stay in the environment.",
		Run:   configInitCmdHandler,
	}
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd, configInitCmd)

	rootCmd.AddCommand(syncCmd, fetchCmd, analyzeCmd, scheduleCmd, historyCmd, endpointsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitOnError prints err and exits with status 1.
func exitOnError(what string, err error) {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(os.Stderr, "Error: %s:\n", what)
		for _, p := range cfgErr.Problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		if cfgErr.Err != nil {
			fmt.Fprintf(os.Stderr, "  (%v)\n", cfgErr.Err)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	os.Exit(1)
}

// loadConfig reads env files and the config file named by the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger) {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		exitOnError("Failed to load env file", err)
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		exitOnError("Failed to load configuration", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	return cfg, logging.New(cfg.Log, os.Stderr, verbose)
}

func applySinkFlag(cmd *cobra.Command, cfg *config.Config) {
	if sinks, _ := cmd.Flags().GetStringSlice("sink"); len(sinks) > 0 {
		cfg.Outputs.Sinks = sinks
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newPaginator(cfg *config.Config, logger *slog.Logger) *api.Paginator {
	client, err := api.NewClient(cfg.Pipedrive, nil)
	if err != nil {
		exitOnError("Failed to create Pipedrive client", err)
	}
	return api.NewPaginator(client, cfg.Pipedrive.PageSize, logger)
}

func syncCmdHandler(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig(cmd)
	applySinkFlag(cmd, cfg)

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	only, _ := cmd.Flags().GetStringSlice("only")
	maxRows, _ := cmd.Flags().GetInt("max-rows")

	validate := cfg.Validate
	if dryRun {
		validate = cfg.ValidateFetch
	}
	if err := validate(); err != nil {
		exitOnError("Invalid configuration", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var sinks *sinkSet
	if !dryRun {
		var err error
		sinks, err = openSinks(ctx, cfg, logger)
		if err != nil {
			exitOnError("Failed to open output sinks", err)
		}
		defer sinks.Close()
	}

	runner := syncrun.NewRunner(cfg, newPaginator(cfg, logger), sinks.Publishers(), logger)
	if rec := sinks.Recorder(); rec != nil {
		runner.SetRecorder(rec)
	}

	if dryRun {
		fmt.Println("🧪 Dry run: nothing will be written")
	}
	fmt.Printf("🔄 Syncing %d endpoint(s) to %s...\n", len(cfg.Endpoints), strings.Join(cfg.Outputs.Sinks, ", "))

	report, err := runner.Run(ctx, syncrun.Options{DryRun: dryRun, Only: only})
	if err != nil {
		exitOnError("Invalid selection", err)
	}

	printReport(report)
	if dryRun {
		opts := results.DefaultDisplayOptions()
		opts.MaxRows = maxRows
		for _, t := range report.Tables {
			fmt.Println()
			fmt.Printf("📄 %s (%d rows)\n", t.Name, t.Len())
			for _, line := range results.FormatTable(t, opts) {
				fmt.Println(line)
			}
		}
	}
}

func printReport(report *syncrun.Report) {
	fmt.Println()
	fmt.Printf("📋 Run %s\n", report.RunID)
	fmt.Println()

	for _, e := range report.Endpoints {
		if e.Err != nil {
			fmt.Printf("  ⚠️  %-15s %6d records  (ended early: %v)\n", e.Name, e.Records, e.Err)
			continue
		}
		fmt.Printf("  ✅ %-15s %6d records  %d page(s) in %v\n", e.Name, e.Records, e.Pages, e.Duration.Round(time.Millisecond))
	}

	if report.Analysis.Ran {
		fmt.Printf("  📊 %-15s %6d rows\n", "Analysis", report.Analysis.Rows)
		if len(report.Analysis.MissingInputs) > 0 {
			fmt.Printf("     ⚠️  incomplete inputs: %s\n", strings.Join(report.Analysis.MissingInputs, ", "))
		}
		if n := len(report.Analysis.Issues); n > 0 {
			fmt.Printf("     💡 %d value(s) could not be interpreted and were treated as empty\n", n)
		}
	}

	if len(report.Targets) > 0 {
		fmt.Println()
		fmt.Println("📤 Published:")
		for _, t := range report.Targets {
			if t.Err != nil {
				fmt.Printf("  ❌ %-25s → %-7s %v\n", t.Target, t.Sink, t.Err.Err)
				continue
			}
			fmt.Printf("  ✅ %-25s → %-7s %d rows\n", t.Target, t.Sink, t.Rows)
		}
	}
	if len(report.Skipped) > 0 {
		fmt.Printf("\n⏭️  Skipped (no rows): %s\n", strings.Join(report.Skipped, ", "))
	}

	fmt.Println()
	switch {
	case report.Err != nil:
		fmt.Printf("🛑 Run interrupted: %v\n", report.Err)
	case report.OK():
		fmt.Printf("✅ Sync completed in %v\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	default:
		fmt.Printf("⚠️  Sync completed with %d endpoint and %d publish failure(s)\n",
			len(report.FailedEndpoints()), len(report.PublishErrors()))
	}
}

func fetchCmdHandler(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig(cmd)
	if err := cfg.ValidateFetch(); err != nil {
		exitOnError("Invalid configuration", err)
	}

	ep, ok := cfg.Endpoint(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown endpoint '%s'\n", args[0])
		fmt.Println("💡 Run 'crmsync endpoints list' to see configured endpoints")
		os.Exit(1)
	}

	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	maxRows, _ := cmd.Flags().GetInt("max-rows")
	flatten, _ := cmd.Flags().GetBool("flatten")

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("🔄 Fetching %s (%s, %s pagination)...\n", ep.Name, ep.Path, ep.Pagination)
	res := newPaginator(cfg, logger).FetchAll(ctx, ep)
	if res.Err != nil {
		fmt.Printf("⚠️  Stream ended early: %v\n", res.Err)
	}
	fmt.Printf("✅ %d records from %d page(s) in %v\n", len(res.Records), res.Pages, res.Duration.Round(time.Millisecond))

	opts := results.TableOptions{Flatten: flatten || cfg.Tables.Flatten, Separator: cfg.Tables.FlattenSeparator}
	table := results.FromRecords(ep.Sheet, res.Records, opts)
	showOrExport(table, output, format, maxRows)
}

func analyzeCmdHandler(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig(cmd)
	if err := cfg.ValidateFetch(); err != nil {
		exitOnError("Invalid configuration", err)
	}
	cfg.Analysis.Enabled = true

	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	maxRows, _ := cmd.Flags().GetInt("max-rows")

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("🔄 Fetching %s...\n", strings.Join(cfg.Analysis.InputEndpoints(), ", "))
	runner := syncrun.NewRunner(cfg, newPaginator(cfg, logger), nil, logger)
	report, err := runner.Run(ctx, syncrun.Options{DryRun: true, Only: []string{config.AnalysisTarget}})
	if err != nil {
		exitOnError("Invalid selection", err)
	}

	for _, e := range report.FailedEndpoints() {
		fmt.Printf("⚠️  %s ended early: %v\n", e.Name, e.Err)
	}
	if report.Err != nil {
		fmt.Printf("🛑 Interrupted: %v\n", report.Err)
		return
	}

	var table *results.Table
	for _, t := range report.Tables {
		if t.Name == cfg.Analysis.Sheet {
			table = t
		}
	}
	if table == nil {
		fmt.Println("📝 No Analysis table was built")
		return
	}
	fmt.Printf("📊 %d rows\n", table.Len())
	showOrExport(table, output, format, maxRows)
}

func showOrExport(table *results.Table, output, format string, maxRows int) {
	if output == "" {
		opts := results.DefaultDisplayOptions()
		opts.MaxRows = maxRows
		fmt.Println()
		for _, line := range results.FormatTable(table, opts) {
			fmt.Println(line)
		}
		return
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	}
	if err := results.ExportToFile(table, results.ExportFormat(format), output); err != nil {
		exitOnError("Failed to export", err)
	}
	fmt.Printf("💾 Exported %d rows to %s\n", table.Len(), output)
}

func scheduleCmdHandler(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig(cmd)
	applySinkFlag(cmd, cfg)
	if spec, _ := cmd.Flags().GetString("cron"); spec != "" {
		cfg.Schedule.Cron = spec
	}
	if tz, _ := cmd.Flags().GetString("timezone"); tz != "" {
		cfg.Schedule.Timezone = tz
	}
	if err := cfg.Validate(); err != nil {
		exitOnError("Invalid configuration", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		exitOnError("Failed to open output sinks", err)
	}
	defer sinks.Close()

	runner := syncrun.NewRunner(cfg, newPaginator(cfg, logger), sinks.Publishers(), logger)
	if rec := sinks.Recorder(); rec != nil {
		runner.SetRecorder(rec)
	}

	job := func(ctx context.Context) {
		report, err := runner.Run(ctx, syncrun.Options{})
		if err != nil {
			logger.Error("scheduled sync failed", "error", err)
			return
		}
		logger.Info("scheduled sync done",
			"run_id", report.RunID,
			"ok", report.OK(),
			"failed_endpoints", len(report.FailedEndpoints()),
			"failed_targets", len(report.PublishErrors()))
	}

	scheduler, err := schedule.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, job, logger)
	if err != nil {
		exitOnError("Invalid schedule", err)
	}

	fmt.Printf("⏰ Scheduled sync on '%s', next run at %s\n",
		cfg.Schedule.Cron, scheduler.Next(time.Now()).Format("2006-01-02 15:04:05 MST"))
	fmt.Println("💡 Press Ctrl+C to stop")

	if err := scheduler.Run(ctx); err != nil {
		exitOnError("Scheduler stopped", err)
	}
	fmt.Println("👋 Scheduler stopped")
}

func historyCmdHandler(cmd *cobra.Command, args []string) {
	cfg, logger := loadConfig(cmd)
	if cfg.Outputs.DuckDBPath == "" {
		fmt.Println("📝 No run history: outputs.duckdb_path is not configured")
		fmt.Println("💡 Set CRMSYNC_DUCKDB_PATH or outputs.duckdb_path and add 'duckdb' to outputs.sinks")
		return
	}

	limit, _ := cmd.Flags().GetInt("limit")
	showTargets, _ := cmd.Flags().GetBool("targets")

	wh, err := warehouse.Open(cfg.Outputs.DuckDBPath, logger)
	if err != nil {
		exitOnError("Failed to open warehouse", err)
	}
	defer wh.Close()

	runs, err := wh.ListRuns(context.Background(), limit)
	if err != nil {
		exitOnError("Failed to list runs", err)
	}
	if len(runs) == 0 {
		fmt.Println("📝 No runs recorded yet")
		return
	}

	fmt.Printf("📋 Recent runs (%d):\n", len(runs))
	fmt.Println()
	fmt.Printf("%-36s %-19s %-9s %-9s %-9s %-8s %-8s\n", "Run ID", "Started", "Duration", "Endpoints", "Targets", "Records", "Analysis")
	fmt.Println(strings.Repeat("-", 106))
	for _, run := range runs {
		status := "✅"
		if run.EndpointsFailed > 0 || run.TargetsFailed > 0 {
			status = "⚠️"
		}
		fmt.Printf("%-36s %-19s %-9v %d/%-7d %d/%-7d %-8d %-8d %s\n",
			run.RunID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			run.EndpointsOK, run.EndpointsOK+run.EndpointsFailed,
			run.TargetsOK, run.TargetsOK+run.TargetsFailed,
			run.Records, run.AnalysisRows, status)

		if showTargets {
			for _, t := range run.Targets {
				if t.Error != "" {
					fmt.Printf("    ❌ %s → %s: %s\n", t.Target, t.Sink, t.Error)
				} else {
					fmt.Printf("    ✅ %s → %s: %d rows\n", t.Target, t.Sink, t.Rows)
				}
			}
		}
	}
}

func endpointsListCmdHandler(cmd *cobra.Command, args []string) {
	cfg, _ := loadConfig(cmd)

	fmt.Printf("📋 Configured endpoints (%d):\n", len(cfg.Endpoints))
	fmt.Println()
	fmt.Printf("%-15s %-28s %-8s %-4s %-26s %s\n", "Name", "Path", "Paging", "API", "Sheet", "Status")
	fmt.Println(strings.Repeat("-", 96))
	for _, ep := range cfg.Endpoints {
		status := "enabled"
		if ep.Disabled {
			status = "disabled"
		}
		fmt.Printf("%-15s %-28s %-8s %-4s %-26s %s\n", ep.Name, ep.Path, ep.Pagination, ep.APIVersion, ep.Sheet, status)
	}

	if cfg.Analysis.Enabled {
		fmt.Println()
		fmt.Printf("📊 Analysis → %s (inputs: %s)\n", cfg.Analysis.Sheet, strings.Join(cfg.Analysis.InputEndpoints(), ", "))
	}
}

func configShowCmdHandler(cmd *cobra.Command, args []string) {
	fmt.Println("📋 Current crmsync Configuration:")
	fmt.Println()

	cfg, _ := loadConfig(cmd)

	// Display config path
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath, _ = config.GetConfigPath()
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("📁 Config Location: %s\n", configPath)
	} else {
		fmt.Printf("📁 Config Location: %s (not found, using defaults)\n", configPath)
	}
	fmt.Println()

	// Pipedrive
	fmt.Printf("🌐 Pipedrive URL: %s\n", cfg.Pipedrive.ResolvedBaseURL())
	if cfg.Pipedrive.APIKey != "" {
		fmt.Printf("🔑 Pipedrive API Key: %s (configured)\n", mask(cfg.Pipedrive.APIKey))
	} else {
		fmt.Println("❌ Pipedrive API Key: Not configured")
	}
	fmt.Printf("📄 Page Size: %d, Timeout: %v\n", cfg.Pipedrive.PageSize, cfg.Pipedrive.Timeout)
	fmt.Println()

	// Google
	if cfg.Google.SpreadsheetID != "" {
		fmt.Printf("📗 Spreadsheet: %s\n", cfg.Google.SpreadsheetID)
	} else {
		fmt.Println("❌ Spreadsheet: Not configured")
	}
	switch {
	case cfg.Google.CredentialsJSON != "":
		fmt.Println("🔐 Google Credentials: [HIDDEN] (inline JSON)")
	case cfg.Google.CredentialsFile != "":
		fmt.Printf("🔐 Google Credentials: %s\n", cfg.Google.CredentialsFile)
	default:
		fmt.Println("❌ Google Credentials: Not configured")
	}
	fmt.Println()

	// Outputs
	fmt.Printf("📤 Sinks: %s\n", strings.Join(cfg.Outputs.Sinks, ", "))
	if cfg.Outputs.XLSXPath != "" {
		fmt.Printf("   xlsx:   %s\n", cfg.Outputs.XLSXPath)
	}
	if cfg.Outputs.CSVDir != "" {
		fmt.Printf("   csv:    %s\n", cfg.Outputs.CSVDir)
	}
	if cfg.Outputs.DuckDBPath != "" {
		fmt.Printf("   duckdb: %s\n", cfg.Outputs.DuckDBPath)
	}
	fmt.Printf("🗂️  Endpoints: %d, Analysis: %t, Flatten: %t\n", len(cfg.Endpoints), cfg.Analysis.Enabled, cfg.Tables.Flatten)
	fmt.Printf("⏰ Schedule: %s\n", cfg.Schedule.Cron)

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Println("⚠️  Problems:")
			for _, p := range cfgErr.Problems {
				fmt.Printf("   - %s\n", p)
			}
		}
	}
}

func configInitCmdHandler(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaultPath, err := config.GetConfigPath()
		if err != nil {
			exitOnError("Failed to resolve config path", err)
		}
		path = defaultPath
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	if err := config.Save(config.Default(), path); err != nil {
		exitOnError("Failed to write configuration", err)
	}

	fmt.Printf("✅ Configuration written to %s\n", path)
	fmt.Println("💡 Set PIPEDRIVE_API_KEY, PIPEDRIVE_COMPANY, SPREADSHEET_ID and GOOGLE_CREDENTIALS_FILE in the environment or .env")
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
