package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

type options struct {
	outputDir      string
	count          int
	startDate      string
	minAmount      string
	maxAmount      string
	seed           uint64
	maxParts       int
	shortShipRatio float64
	freightRatio   float64
	unmatchedRatio float64
	duplicateRatio float64
	journalSuffix  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "datagen",
		Short: "Generate credit documents and a matching ledger fixture",
		Long: `Generates extraction documents under <output-dir>/input and a ledger
fixture at <output-dir>/ledger.json, ready for:

  reconciler reconcile -i <output-dir>/input --fixture <output-dir>/ledger.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output-dir", "o", "generated", "directory to write the data set to")
	flags.IntVarP(&opts.count, "count", "n", 100, "number of documents")
	flags.StringVar(&opts.startDate, "start-date", "2024-01-01", "first invoice date (YYYY-MM-DD)")
	flags.StringVar(&opts.minAmount, "min-amount", "5.00", "smallest line amount")
	flags.StringVar(&opts.maxAmount, "max-amount", "500.00", "largest line amount")
	flags.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed for reproducible output")
	flags.IntVar(&opts.maxParts, "max-parts", 3, "maximum part lines per document")
	flags.Float64Var(&opts.shortShipRatio, "short-ship-ratio", 0.1, "share of documents with a short-ship line")
	flags.Float64Var(&opts.freightRatio, "freight-ratio", 0.3, "share of documents carrying freight")
	flags.Float64Var(&opts.unmatchedRatio, "unmatched-ratio", 0.05, "share of documents with no ledger counterpart")
	flags.Float64Var(&opts.duplicateRatio, "duplicate-ratio", 0.05, "share of documents whose journal entry already exists")
	flags.StringVar(&opts.journalSuffix, "journal-suffix", "-CM", "journal entry number suffix used by the reconciler")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	log := logger.GetGlobalLogger().WithComponent("datagen")

	start, err := time.Parse("2006-01-02", opts.startDate)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "start-date", opts.startDate, err)
	}
	minAmount, err := decimal.NewFromString(opts.minAmount)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidAmount, "min-amount", opts.minAmount, err)
	}
	maxAmount, err := decimal.NewFromString(opts.maxAmount)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidAmount, "max-amount", opts.maxAmount, err)
	}
	if opts.count <= 0 || !minAmount.IsPositive() || maxAmount.LessThan(minAmount) {
		return errors.New(errors.CategoryValidation, errors.CodeInvalidFormat,
			"count must be positive and 0 < min-amount <= max-amount")
	}

	gen := &Generator{
		Count:          opts.count,
		StartDate:      start,
		MinAmount:      minAmount,
		MaxAmount:      maxAmount,
		Seed:           opts.seed,
		ShortShipRatio: opts.shortShipRatio,
		FreightRatio:   opts.freightRatio,
		UnmatchedRatio: opts.unmatchedRatio,
		DuplicateRatio: opts.duplicateRatio,
		MaxParts:       opts.maxParts,
		JournalSuffix:  opts.journalSuffix,
	}
	scenario := gen.Generate()
	if err := scenario.Write(opts.outputDir); err != nil {
		return errors.FileError(errors.CodeDirectoryError, opts.outputDir, err)
	}

	log.WithFields(logger.Fields{
		"documents":      len(scenario.Documents),
		"open_invoices":  len(scenario.Fixture.OpenInvoices),
		"authorizations": len(scenario.Fixture.Authorizations),
		"seed":           opts.seed,
	}).Info("Data set generated")
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d documents in %s (seed %d)\n", len(scenario.Documents), opts.outputDir, opts.seed)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
			os.Exit(reconcilerErr.GetExitCode())
		}
		os.Exit(1)
	}
}
