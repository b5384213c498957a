package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"creditmemo-reconciliation-service/cmd/reconciler/config"
	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/ledger/gcsattach"
	"creditmemo-reconciliation-service/internal/ledger/memory"
	"creditmemo-reconciliation-service/internal/ledger/sqlstore"
	"creditmemo-reconciliation-service/internal/outcome"
	"creditmemo-reconciliation-service/internal/parsers"
	"creditmemo-reconciliation-service/internal/reconciler"
	"creditmemo-reconciliation-service/internal/reporter"
	"creditmemo-reconciliation-service/internal/runlock"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Post extracted credit memos to the ledger",
	Long: `Reconcile loads extracted credit memo documents and posts them to the ledger.

Journal entry groups are posted against the customer's open invoice, vendor
credit groups are matched to vendor return authorizations by bill number, and
short-ship or unknown codes are reported as skipped. Each document ends with
one outcome per group: created, skipped or failed.

The input is a single JSON extraction file or a directory of them. A rendered
copy with the same base name (memo-9001.pdf next to memo-9001.json) is attached
to every transaction created from the document.

Examples:
  # Dry run against a fixture ledger
  reconciler reconcile --input extracted/ --fixture ledger.json

  # Post to the MySQL ledger, storing attachments in Cloud Storage
  reconciler reconcile --input extracted/ --ledger mysql --mysql-dsn "$DSN" \
    --gcs-bucket credit-memo-scans

  # Spreadsheet report, published to Pub/Sub, guarded by a Redis run lock
  reconciler reconcile --input extracted/ --ledger mysql --format xlsx --output run.xlsx \
    --pubsub-project finance --pubsub-topic credit-memo-runs --redis-addr localhost:6379

  # With progress indicators, stopping at the first failed document
  reconciler reconcile --input extracted/ --fixture ledger.json --progress --stop-on-error`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Input and ledger flags
	reconcileCmd.Flags().StringP("input", "i", "", "extraction JSON file or directory of files (required)")
	reconcileCmd.Flags().String("ledger", config.BackendMemory, "ledger backend: memory, mysql")
	reconcileCmd.Flags().String("fixture", "", "ledger fixture file for the memory backend")
	reconcileCmd.Flags().String("mysql-dsn", "", "MySQL DSN for the mysql backend")
	reconcileCmd.Flags().Bool("auto-migrate", false, "create missing ledger tables before the run")
	reconcileCmd.Flags().String("gcs-bucket", "", "Cloud Storage bucket for transaction attachments")

	// Output flags
	reconcileCmd.Flags().StringP("format", "f", "console", "report format: console, json, csv, yaml, xlsx")
	reconcileCmd.Flags().StringP("output", "o", "", "report file path (default: stdout)")
	reconcileCmd.Flags().String("pubsub-project", "", "Google Cloud project of the report topic")
	reconcileCmd.Flags().String("pubsub-topic", "", "Pub/Sub topic receiving the run report")

	// Run flags
	reconcileCmd.Flags().String("redis-addr", "", "Redis address for the run lock (default: no lock)")
	reconcileCmd.Flags().Duration("lock-ttl", runlock.DefaultConfig().TTL, "run lock expiry")
	reconcileCmd.Flags().Bool("stop-on-error", false, "stop after the first document with a failed outcome")

	// UI flags
	reconcileCmd.Flags().Bool("progress", false, "show progress indicators")

	// Bind flags to viper
	bindings := map[string]string{
		config.KeyInput:         "input",
		config.KeyLedgerBackend: "ledger",
		config.KeyLedgerFixture: "fixture",
		"mysql.dsn":             "mysql-dsn",
		"mysql.auto_migrate":    "auto-migrate",
		"attachments.bucket":    "gcs-bucket",
		"report.format":         "format",
		config.KeyOutput:        "output",
		"pubsub.project_id":     "pubsub-project",
		"pubsub.topic":          "pubsub-topic",
		"redis.addr":            "redis-addr",
		"redis.lock_ttl":        "lock-ttl",
		"run.stop_on_error":     "stop-on-error",
		"progress":              "progress",
	}
	for key, flag := range bindings {
		viper.BindPFlag(key, reconcileCmd.Flags().Lookup(flag))
	}
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	return validateSettings(viper.GetViper())
}

// validateSettings checks the settings a run cannot start without
func validateSettings(v *viper.Viper) error {
	input := v.GetString(config.KeyInput)
	if input == "" {
		return errors.ValidationError(errors.CodeMissingField, "input", nil, nil).
			WithSuggestion("pass --input with an extraction file or directory")
	}
	if _, err := os.Stat(input); err != nil {
		if os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, input, err)
		}
		return errors.FileError(errors.CodeFilePermission, input, err)
	}

	if err := config.ValidateBackend(v); err != nil {
		return err
	}
	if v.GetString(config.KeyLedgerBackend) == config.BackendMemory {
		if err := validateFileExists(v.GetString(config.KeyLedgerFixture), "ledger fixture"); err != nil {
			return err
		}
	}

	// Validate output file directory exists if specified
	if outputFile := v.GetString(config.KeyOutput); outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeDirectoryError, dir, err).
					WithSuggestion("create the output directory first")
			}
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("description", description)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return reconcile(ctx, viper.GetViper(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// reconcile runs one batch end to end: load, post, report and publish
func reconcile(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("cli")
	verbose := v.GetBool("verbose")
	input := v.GetString(config.KeyInput)

	if verbose {
		fmt.Fprintf(stderr, "Starting reconciliation...\n")
		fmt.Fprintf(stderr, "Input: %s\n", input)
		fmt.Fprintf(stderr, "Ledger: %s\n", v.GetString(config.KeyLedgerBackend))
		fmt.Fprintf(stderr, "Report format: %s\n", v.GetString("report.format"))
		if outputFile := v.GetString(config.KeyOutput); outputFile != "" {
			fmt.Fprintf(stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	reconcilerConfig, err := config.CreateReconcilerConfig(v)
	if err != nil {
		return err
	}
	loaderConfig, err := config.CreateLoaderConfig(v)
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(v)
	if err != nil {
		return err
	}
	publisherConfig, err := config.CreatePublisherConfig(v)
	if err != nil {
		return err
	}
	lockConfig, err := config.CreateLockConfig(v)
	if err != nil {
		return err
	}

	loader, err := parsers.NewLoader(loaderConfig, log)
	if err != nil {
		return err
	}
	batch, err := loader.Load(input)
	if err != nil {
		return err
	}
	if verbose && len(batch.Rejected) > 0 {
		errs := make([]error, 0, len(batch.Rejected))
		for _, rejected := range batch.Rejected {
			errs = append(errs, rejected.Err)
		}
		fmt.Fprintln(stderr, FormatRejections(errs))
		fmt.Fprintf(stderr, "Rejections: %s\n", batch.RejectionSummary().Error())
	}

	store, closeLedger, err := openLedger(ctx, v, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	engine, err := reconciler.NewEngine(reconcilerConfig, store, log)
	if err != nil {
		return err
	}
	orchestrator, err := reconciler.NewOrchestrator(engine, reconcilerConfig, log)
	if err != nil {
		return err
	}

	if v.GetBool("progress") {
		orchestrator.AddProgressCallback(func(progress *reconciler.Progress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete)",
				progress.CompletedDocuments, progress.TotalDocuments,
				progress.CurrentDocument, progress.PercentComplete)
		})
	}

	if lockConfig.Enabled() {
		lock, err := runlock.New(ctx, lockConfig, log)
		if err != nil {
			return err
		}
		defer lock.Close()
		orchestrator.WithRunLock(lock)
	}

	report, runErr := orchestrator.Run(ctx, batch)
	if v.GetBool("progress") {
		fmt.Fprintf(stderr, "\n") // New line after progress
	}
	if report == nil {
		return runErr
	}

	if err := writeReport(report, reportConfig, v.GetString(config.KeyOutput), stdout, log); err != nil {
		return err
	}

	if publisherConfig.Enabled() {
		publishReport(ctx, publisherConfig, report, log)
	}

	// Show completion message
	if verbose {
		fmt.Fprintf(stderr, "\nReconciliation finished in %v.\n", report.Duration())
		fmt.Fprintf(stderr, "Processed %d documents: %d fully posted, %d partial, %d skipped, %d failed.\n",
			report.Totals.Documents, report.Totals.DocumentsProcessed, report.Totals.DocumentsPartial,
			report.Totals.DocumentsSkipped, report.Totals.DocumentsFailed)
		fmt.Fprintf(stderr, "Created %d journal entries and %d vendor credits totalling %s.\n",
			report.Totals.JournalEntries, report.Totals.VendorCredits, report.Totals.AmountPosted.StringFixed(2))
	}

	if runErr != nil {
		return runErr
	}
	if report.HasFailures() {
		return errors.ReconciliationError(errors.CodeProcessingError, "reconciliation run",
			fmt.Errorf("%d failed outcomes across %d failed documents", report.Totals.OutcomesFailed, report.Totals.DocumentsFailed)).
			WithContext("run_id", report.RunID).
			WithSuggestion("review the FAILED lines of the report and rerun the affected documents")
	}
	return nil
}

// openLedger opens the configured ledger backend and returns a function releasing it
func openLedger(ctx context.Context, v *viper.Viper, log logger.Logger) (ledger.Ledger, func(), error) {
	if v.GetString(config.KeyLedgerBackend) != config.BackendMySQL {
		path := v.GetString(config.KeyLedgerFixture)
		store, err := memory.LoadFixture(path)
		if err != nil {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		log.WithField("fixture", path).Info("Using in-memory ledger; nothing is written to the real ledger")
		return store, func() {}, nil
	}

	sqlConfig, err := config.CreateSQLConfig(v)
	if err != nil {
		return nil, nil, err
	}

	var uploader sqlstore.Uploader
	var gcs *gcsattach.Uploader
	if attach := config.CreateAttachmentConfig(v); attach.Enabled() {
		gcs, err = gcsattach.New(ctx, attach, log)
		if err != nil {
			return nil, nil, err
		}
		uploader = gcs
	}

	store, err := sqlstore.Open(ctx, sqlConfig, uploader, log)
	if err != nil {
		if gcs != nil {
			_ = gcs.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close ledger connection")
		}
		if gcs != nil {
			if err := gcs.Close(); err != nil {
				log.WithError(err).Warn("Failed to close storage client")
			}
		}
	}
	return store, closeFn, nil
}

func writeReport(report *outcome.RunReport, reportConfig *reporter.ReportConfig, outputFile string, stdout io.Writer, log logger.Logger) error {
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	// Determine output destination
	output := stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer file.Close()
		output = file
	}

	return generator.GenerateReportSafely(report, output)
}

func publishReport(ctx context.Context, publisherConfig reporter.PublisherConfig, report *outcome.RunReport, log logger.Logger) {
	publisher, err := reporter.NewPublisher(ctx, publisherConfig, log)
	if err != nil {
		log.WithError(err).Warn("Run report not published")
		return
	}
	defer publisher.Close()
	publisher.PublishBestEffort(ctx, report)
}
