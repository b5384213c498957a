// Package reporter renders reconciliation run reports and hands them to the
// notification collaborator.
//
// Supported output formats:
//   - Console: human-readable summary and per-document detail for a terminal
//   - JSON: the run report as structured data
//   - CSV: one row per outcome, for spreadsheets and manual remediation
//   - YAML: the run report with amounts as fixed-point strings
//   - XLSX: a summary sheet plus one sheet per outcome bucket
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatYAML    OutputFormat = "yaml"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatYAML, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format must not be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `mapstructure:"format" json:"format"`

	// Detail level options
	IncludeCreated bool `mapstructure:"include_created" json:"include_created"`
	IncludeSkipped bool `mapstructure:"include_skipped" json:"include_skipped"`
	IncludeFailed  bool `mapstructure:"include_failed" json:"include_failed"`

	// MaxItemsPerDocument limits console detail lines; 0 shows everything.
	MaxItemsPerDocument int `mapstructure:"max_items_per_document" json:"max_items_per_document"`

	// CSV options
	CSVDelimiter rune `mapstructure:"csv_delimiter" json:"csv_delimiter"`
	CSVHeaders   bool `mapstructure:"csv_headers" json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		IncludeCreated:      true,
		IncludeSkipped:      true,
		IncludeFailed:       true,
		MaxItemsPerDocument: 20,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItemsPerDocument < 0 {
		return fmt.Errorf("max items per document cannot be negative, got %d", c.MaxItemsPerDocument)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GenerateReport writes the run report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *outcome.RunReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("run report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatYAML:
		return rg.generateYAMLReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *outcome.RunReport, writer io.Writer) error {
	fmt.Fprintf(writer, "CREDIT MEMO RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run:       %s\n", report.RunID)
	fmt.Fprintf(writer, "Started:   %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", report.Duration().Round(time.Millisecond))

	t := report.Totals
	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Documents: %d\n", t.Documents)
	fmt.Fprintf(writer, "  Processed: %d (%.1f%%)\n", t.DocumentsProcessed, percentage(t.DocumentsProcessed, t.Documents))
	fmt.Fprintf(writer, "  Partial:   %d (%.1f%%)\n", t.DocumentsPartial, percentage(t.DocumentsPartial, t.Documents))
	fmt.Fprintf(writer, "  Skipped:   %d (%.1f%%)\n", t.DocumentsSkipped, percentage(t.DocumentsSkipped, t.Documents))
	fmt.Fprintf(writer, "  Failed:    %d (%.1f%%)\n", t.DocumentsFailed, percentage(t.DocumentsFailed, t.Documents))
	fmt.Fprintf(writer, "\nOutcomes:\n")
	fmt.Fprintf(writer, "  Created: %d (%d journal entries, %d vendor credits)\n", t.OutcomesCreated, t.JournalEntries, t.VendorCredits)
	fmt.Fprintf(writer, "  Skipped: %d\n", t.OutcomesSkipped)
	fmt.Fprintf(writer, "  Failed:  %d\n", t.OutcomesFailed)
	fmt.Fprintf(writer, "Amount posted: %s\n\n", t.AmountPosted.StringFixed(2))

	if reasons := report.SortedSkipReasons(); len(reasons) > 0 {
		fmt.Fprintf(writer, "=== SKIP REASONS ===\n")
		for _, rc := range reasons {
			fmt.Fprintf(writer, "  %-26s %d\n", rc.Reason, rc.Count)
		}
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== DOCUMENTS ===\n")
	for _, doc := range report.Documents {
		fmt.Fprintf(writer, "%s [%s]", doc.Document, doc.Status)
		if doc.InvoiceNumber != "" {
			fmt.Fprintf(writer, " invoice %s", doc.InvoiceNumber)
		}
		fmt.Fprintf(writer, "\n")
		if doc.Error != "" {
			fmt.Fprintf(writer, "  ERROR %s\n", doc.Error)
		}

		rows := rg.selectOutcomes(doc)
		for i, o := range rows {
			if rg.config.MaxItemsPerDocument > 0 && i >= rg.config.MaxItemsPerDocument {
				fmt.Fprintf(writer, "  ... and %d more\n", len(rows)-i)
				break
			}
			fmt.Fprintf(writer, "  %s  %s\n", o.Amount.StringFixed(2), o.String())
		}
	}
	return nil
}

func (rg *ReportGenerator) generateJSONReport(report *outcome.RunReport, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filter(report))
}

func (rg *ReportGenerator) generateYAMLReport(report *outcome.RunReport, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(newReportView(rg.filter(report))); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return encoder.Close()
}

func (rg *ReportGenerator) generateCSVReport(report *outcome.RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(rowHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range rg.rows(report) {
		if err := csvWriter.Write(row.strings()); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// filter returns a copy of the report restricted to the configured buckets
func (rg *ReportGenerator) filter(report *outcome.RunReport) *outcome.RunReport {
	if rg.config.IncludeCreated && rg.config.IncludeSkipped && rg.config.IncludeFailed {
		return report
	}
	filtered := *report
	filtered.Documents = make([]outcome.DocumentResult, len(report.Documents))
	for i, doc := range report.Documents {
		if !rg.config.IncludeCreated {
			doc.Created = nil
		}
		if !rg.config.IncludeSkipped {
			doc.Skipped = nil
		}
		if !rg.config.IncludeFailed {
			doc.Failed = nil
		}
		filtered.Documents[i] = doc
	}
	return &filtered
}

// selectOutcomes lists failures first so they are not cut off by the detail limit
func (rg *ReportGenerator) selectOutcomes(doc outcome.DocumentResult) []models.Outcome {
	var selected []models.Outcome
	if rg.config.IncludeFailed {
		selected = append(selected, doc.Failed...)
	}
	if rg.config.IncludeSkipped {
		selected = append(selected, doc.Skipped...)
	}
	if rg.config.IncludeCreated {
		selected = append(selected, doc.Created...)
	}
	return selected
}

func (rg *ReportGenerator) rows(report *outcome.RunReport) []outcomeRow {
	var rows []outcomeRow
	for _, doc := range report.Documents {
		if doc.Error != "" && rg.config.IncludeFailed {
			rows = append(rows, documentErrorRow(report.RunID, doc))
		}
		for _, o := range rg.selectOutcomes(doc) {
			rows = append(rows, newOutcomeRow(report.RunID, doc, o))
		}
	}
	return rows
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
