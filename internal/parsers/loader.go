// Package parsers loads upstream extraction output into credit documents.
//
// Each extraction file is one JSON credit memo:
//
//	{
//	  "invoice_number": "9001",
//	  "invoice_date": "2024-03-01",
//	  "total": "212.50",
//	  "freight_amount": "12.50",
//	  "line_items": [
//	    {"narda": "J1234", "amount": "-150.00"},
//	    {"narda": "CORE", "amount": 50, "part_number": "P-100", "bill_number": "B200"}
//	  ]
//	}
//
// Amounts may be numbers or strings (currency symbols, thousands separators and
// parenthesised negatives are accepted) and are stored as absolute values. A file
// with the same base name and the companion extension is recorded for attachment.
package parsers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Rejection is a file that could not be turned into a credit document
type Rejection struct {
	Path string
	Err  error
}

// Batch is everything found under one input path
type Batch struct {
	Documents []*models.CreditDocument
	Rejected  []Rejection
}

// Len is the number of files seen, loaded or not
func (b *Batch) Len() int {
	return len(b.Documents) + len(b.Rejected)
}

// RejectionSummary groups the rejected files by error category and code
func (b *Batch) RejectionSummary() *errors.ErrorSummary {
	errs := make([]*errors.ReconcilerError, 0, len(b.Rejected))
	for _, r := range b.Rejected {
		re, ok := errors.AsReconcilerError(r.Err)
		if !ok {
			re = errors.Wrap(r.Err, errors.CategoryFile, errors.CodeInvalidFormat, "rejected "+r.Path)
		}
		errs = append(errs, re)
	}
	return errors.NewErrorSummary(errs)
}

// Loader reads extraction output files
type Loader struct {
	config *LoaderConfig
	logger logger.Logger
}

// NewLoader creates a loader
func NewLoader(config *LoaderConfig, log logger.Logger) (*Loader, error) {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Loader{config: config, logger: log.WithComponent("loader")}, nil
}

// Load reads a single file or every matching file directly inside a directory.
// Files that fail to load are returned as rejections; only an unreadable input
// path is an error.
func (l *Loader) Load(path string) (*Batch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, statError(path, err)
	}
	if !info.IsDir() {
		batch := &Batch{}
		l.add(batch, path)
		return batch, nil
	}
	return l.LoadDirectory(path)
}

// LoadDirectory reads every matching file in dir, in lexical order
func (l *Loader) LoadDirectory(dir string) (*Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.FileError(errors.CodeDirectoryError, dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !l.config.accepts(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	batch := &Batch{}
	for _, p := range paths {
		l.add(batch, p)
	}

	l.logger.WithFields(logger.Fields{
		"directory": dir,
		"loaded":    len(batch.Documents),
		"rejected":  len(batch.Rejected),
	}).Info("Loaded extraction output")
	return batch, nil
}

func (l *Loader) add(batch *Batch, path string) {
	doc, err := l.LoadFile(path)
	if err != nil {
		l.logger.WithError(err).WithField("file", path).Warn("Rejected extraction file")
		batch.Rejected = append(batch.Rejected, Rejection{Path: path, Err: err})
		return
	}
	batch.Documents = append(batch.Documents, doc)
}

// LoadFile reads one extraction file
func (l *Loader) LoadFile(path string) (*models.CreditDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, statError(path, err)
	}
	if l.config.MaxFileSize > 0 && info.Size() > l.config.MaxFileSize {
		return nil, errors.FileError(errors.CodeInvalidFormat, path,
			fmt.Errorf("file is %d bytes, limit is %d", info.Size(), l.config.MaxFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, statError(path, err)
	}

	doc, err := decodeDocument(path, data)
	if err != nil {
		return nil, err
	}
	doc.CompanionPath = l.companion(path)

	if err := l.checkTotal(doc); err != nil {
		if l.config.RejectTotalMismatch {
			return nil, err
		}
		l.logger.WithError(err).WithField("file", path).Warn("Stated total does not match line items")
	}
	return doc, nil
}

func (l *Loader) companion(path string) string {
	if l.config.CompanionExtension == "" {
		return ""
	}
	candidate := strings.TrimSuffix(path, filepath.Ext(path)) + l.config.CompanionExtension
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

// checkTotal compares the stated total with line items plus freight, when a total is given
func (l *Loader) checkTotal(doc *models.CreditDocument) error {
	if doc.Total.IsZero() {
		return nil
	}
	computed := doc.LineTotal().Add(doc.FreightAmount)
	if models.CompareAmountsWithTolerance(doc.Total, computed, l.config.TotalTolerance) {
		return nil
	}
	return errors.ValidationError(errors.CodeInvalidAmount, "total", doc.Total.StringFixed(2),
		fmt.Errorf("stated total %s differs from line items plus freight %s",
			doc.Total.StringFixed(2), computed.StringFixed(2))).
		WithContext("file", doc.SourcePath)
}

func statError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return errors.FileError(errors.CodeInvalidFormat, path, err)
	}
}
