// Package config turns viper settings into the typed configuration of every
// package taking part in a reconciliation run. Each Create function reads one
// section; defaults come from SetDefaults so a config file, CREDITMEMO_*
// environment variables and command-line flags all resolve the same keys.
package config

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"creditmemo-reconciliation-service/internal/classifier"
	"creditmemo-reconciliation-service/internal/ledger/gcsattach"
	"creditmemo-reconciliation-service/internal/ledger/sqlstore"
	"creditmemo-reconciliation-service/internal/matcher"
	"creditmemo-reconciliation-service/internal/parsers"
	"creditmemo-reconciliation-service/internal/reconciler"
	"creditmemo-reconciliation-service/internal/reporter"
	"creditmemo-reconciliation-service/internal/runlock"
	"creditmemo-reconciliation-service/internal/synthesizer"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Ledger backends
const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"
)

// Setting keys shared by flags, config files and environment variables
const (
	KeyInput  = "input"
	KeyOutput = "report.output"

	KeyLedgerBackend = "ledger.backend"
	KeyLedgerFixture = "ledger.fixture"
)

// SetDefaults registers the default value of every setting
func SetDefaults(v *viper.Viper) {
	cls := classifier.DefaultConfig()
	v.SetDefault("classifier.vendor_credit_codes", cls.VendorCreditCodes)
	v.SetDefault("classifier.short_ship_markers", cls.ShortShipMarkers)

	match := matcher.DefaultMatchingConfig()
	v.SetDefault("matching.amount_tolerance", match.AmountTolerance.String())
	v.SetDefault("matching.require_part_match", match.RequirePartMatch)
	v.SetDefault("matching.recheck_memo", match.RecheckMemo)
	v.SetDefault("matching.max_candidates", match.MaxCandidates)

	syn := synthesizer.DefaultConfig()
	v.SetDefault("synthesizer.journal_suffix", syn.JournalSuffix)
	v.SetDefault("synthesizer.currency", syn.Currency)
	v.SetDefault("synthesizer.terminal_statuses", syn.TerminalStatuses)
	v.SetDefault("synthesizer.attach_documents", syn.AttachDocuments)

	run := reconciler.DefaultConfig()
	v.SetDefault("run.stop_on_error", run.StopOnError)
	v.SetDefault("run.progress", run.ProgressReporting)
	v.SetDefault("run.progress_interval", run.ProgressInterval)

	loader := parsers.DefaultLoaderConfig()
	v.SetDefault("loader.extensions", loader.Extensions)
	v.SetDefault("loader.companion_extension", loader.CompanionExtension)
	v.SetDefault("loader.max_file_size", loader.MaxFileSize)
	v.SetDefault("loader.total_tolerance", loader.TotalTolerance.String())
	v.SetDefault("loader.reject_total_mismatch", loader.RejectTotalMismatch)

	report := reporter.DefaultReportConfig()
	v.SetDefault("report.format", string(report.Format))
	v.SetDefault("report.include_created", report.IncludeCreated)
	v.SetDefault("report.include_skipped", report.IncludeSkipped)
	v.SetDefault("report.include_failed", report.IncludeFailed)
	v.SetDefault("report.max_items_per_document", report.MaxItemsPerDocument)
	v.SetDefault("report.csv_delimiter", string(report.CSVDelimiter))
	v.SetDefault("report.csv_headers", report.CSVHeaders)

	v.SetDefault(KeyLedgerBackend, BackendMemory)

	db := sqlstore.DefaultConfig()
	v.SetDefault("mysql.max_open_conns", db.MaxOpenConns)
	v.SetDefault("mysql.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("mysql.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("mysql.slow_threshold", db.SlowThreshold)

	v.SetDefault("pubsub.timeout", 30*time.Second)

	lock := runlock.DefaultConfig()
	v.SetDefault("redis.key", lock.Key)
	v.SetDefault("redis.lock_ttl", lock.TTL)
	v.SetDefault("redis.refresh_interval", lock.RefreshInterval)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
}

// CreateReconcilerConfig builds the engine and batch configuration
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	config := reconciler.DefaultConfig()

	config.Classifier = &classifier.Config{
		VendorCreditCodes: v.GetStringSlice("classifier.vendor_credit_codes"),
		ShortShipMarkers:  v.GetStringSlice("classifier.short_ship_markers"),
	}

	tolerance, err := decimalSetting(v, "matching.amount_tolerance")
	if err != nil {
		return nil, err
	}
	config.Matching = &matcher.MatchingConfig{
		AmountTolerance:  tolerance,
		RequirePartMatch: v.GetBool("matching.require_part_match"),
		RecheckMemo:      v.GetBool("matching.recheck_memo"),
		MaxCandidates:    v.GetInt("matching.max_candidates"),
	}

	config.Synthesizer = &synthesizer.Config{
		PayableAccount:    v.GetString("synthesizer.payable_account"),
		ReceivableAccount: v.GetString("synthesizer.receivable_account"),
		DebitEntity:       v.GetString("synthesizer.debit_entity"),
		FreightAccount:    v.GetString("synthesizer.freight_account"),
		FreightDepartment: v.GetString("synthesizer.freight_department"),
		JournalSuffix:     v.GetString("synthesizer.journal_suffix"),
		Subsidiary:        v.GetString("synthesizer.subsidiary"),
		Currency:          v.GetString("synthesizer.currency"),
		TerminalStatuses:  v.GetStringSlice("synthesizer.terminal_statuses"),
		AttachDocuments:   v.GetBool("synthesizer.attach_documents"),
	}

	config.StopOnError = v.GetBool("run.stop_on_error")
	config.ProgressReporting = v.GetBool("run.progress")
	config.ProgressInterval = v.GetDuration("run.progress_interval")

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}
	return config, nil
}

// CreateLoaderConfig builds the document loader configuration
func CreateLoaderConfig(v *viper.Viper) (*parsers.LoaderConfig, error) {
	tolerance, err := decimalSetting(v, "loader.total_tolerance")
	if err != nil {
		return nil, err
	}
	config := &parsers.LoaderConfig{
		Extensions:          v.GetStringSlice("loader.extensions"),
		CompanionExtension:  v.GetString("loader.companion_extension"),
		MaxFileSize:         v.GetInt64("loader.max_file_size"),
		TotalTolerance:      tolerance,
		RejectTotalMismatch: v.GetBool("loader.reject_total_mismatch"),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader", nil, err)
	}
	return config, nil
}

// CreateReportConfig builds the report configuration for the selected output format
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(v.GetString("report.format")))
	config.IncludeCreated = v.GetBool("report.include_created")
	config.IncludeSkipped = v.GetBool("report.include_skipped")
	config.IncludeFailed = v.GetBool("report.include_failed")
	config.MaxItemsPerDocument = v.GetInt("report.max_items_per_document")
	config.CSVHeaders = v.GetBool("report.csv_headers")

	delimiter := v.GetString("report.csv_delimiter")
	if utf8.RuneCountInString(delimiter) != 1 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report.csv_delimiter", delimiter, nil).
			WithSuggestion("use a single character such as ',' or ';'")
	}
	config.CSVDelimiter, _ = utf8.DecodeRuneInString(delimiter)

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", config.Format, err).
			WithSuggestion("valid formats: console, json, csv, yaml, xlsx")
	}
	if config.Format.IsBinary() && v.GetString(KeyOutput) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, KeyOutput, nil, nil).
			WithSuggestion("xlsx reports must be written to a file; pass --output report.xlsx")
	}
	return config, nil
}

// CreatePublisherConfig builds the run report publisher configuration
func CreatePublisherConfig(v *viper.Viper) (reporter.PublisherConfig, error) {
	config := reporter.PublisherConfig{
		ProjectID:       v.GetString("pubsub.project_id"),
		Topic:           v.GetString("pubsub.topic"),
		CredentialsFile: v.GetString("pubsub.credentials_file"),
		Timeout:         v.GetDuration("pubsub.timeout"),
	}
	if config.ProjectID == "" && config.Topic == "" {
		return config, nil
	}
	if err := config.Validate(); err != nil {
		return config, errors.ConfigurationError(errors.CodeMissingConfig, "pubsub", nil, err).
			WithSuggestion("set both pubsub.project_id and pubsub.topic, or neither")
	}
	return config, nil
}

// CreateLockConfig builds the Redis run lock configuration
func CreateLockConfig(v *viper.Viper) (runlock.Config, error) {
	config := runlock.Config{
		Addr:            v.GetString("redis.addr"),
		Password:        v.GetString("redis.password"),
		DB:              v.GetInt("redis.db"),
		Key:             v.GetString("redis.key"),
		TTL:             v.GetDuration("redis.lock_ttl"),
		RefreshInterval: v.GetDuration("redis.refresh_interval"),
	}
	if !config.Enabled() {
		return config, nil
	}
	if err := config.Validate(); err != nil {
		return config, errors.ConfigurationError(errors.CodeInvalidConfig, "redis", config.Addr, err)
	}
	return config, nil
}

// CreateSQLConfig builds the MySQL ledger configuration
func CreateSQLConfig(v *viper.Viper) (sqlstore.Config, error) {
	config := sqlstore.Config{
		DSN:             v.GetString("mysql.dsn"),
		MaxOpenConns:    v.GetInt("mysql.max_open_conns"),
		MaxIdleConns:    v.GetInt("mysql.max_idle_conns"),
		ConnMaxLifetime: v.GetDuration("mysql.conn_max_lifetime"),
		AutoMigrate:     v.GetBool("mysql.auto_migrate"),
		SlowThreshold:   v.GetDuration("mysql.slow_threshold"),
	}
	if config.DSN == "" {
		return config, errors.ConfigurationError(errors.CodeMissingConfig, "mysql.dsn", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return config, errors.ConfigurationError(errors.CodeInvalidConfig, "mysql", nil, err)
	}
	return config, nil
}

// CreateAttachmentConfig builds the Cloud Storage attachment configuration
func CreateAttachmentConfig(v *viper.Viper) gcsattach.Config {
	return gcsattach.Config{
		Bucket:          v.GetString("attachments.bucket"),
		Prefix:          v.GetString("attachments.prefix"),
		CredentialsFile: v.GetString("attachments.credentials_file"),
	}
}

// CreateLoggerConfig builds the logger configuration; verbose forces debug level
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	var config *logger.Config
	if v.GetBool("verbose") {
		config = logger.DebugConfig()
	} else {
		config = logger.DefaultConfig()
		config.Level = logger.Level(strings.ToLower(v.GetString("log.level")))
	}
	config.Format = logger.Format(strings.ToLower(v.GetString("log.format")))
	if file := v.GetString("log.file"); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err)
	}
	return config, nil
}

// ValidateBackend checks the ledger backend selection
func ValidateBackend(v *viper.Viper) error {
	switch backend := v.GetString(KeyLedgerBackend); backend {
	case BackendMemory:
		if v.GetString(KeyLedgerFixture) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, KeyLedgerFixture, nil, nil).
				WithSuggestion("pass --fixture with a ledger fixture file, or use --ledger mysql")
		}
	case BackendMySQL:
		if v.GetString("mysql.dsn") == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "mysql.dsn", nil, nil).
				WithSuggestion("pass --mysql-dsn or set CREDITMEMO_MYSQL_DSN")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, KeyLedgerBackend, backend, nil).
			WithSuggestion("valid backends: memory, mysql")
	}
	return nil
}

func decimalSetting(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, key, raw, err).
			WithSuggestion("use a plain decimal number such as 0.01")
	}
	return d, nil
}
