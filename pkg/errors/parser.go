package errors

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Issue is one problem found in an extraction document
type Issue struct {
	Field    string `json:"field"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

func (i Issue) String() string {
	s := i.Field
	if i.Value != "" {
		s += fmt.Sprintf(" = '%s'", i.Value)
	}
	if i.Expected != "" {
		s += fmt.Sprintf(" (expected %s)", i.Expected)
	}
	return s
}

// DocumentError reports every problem found in one extraction document, so
// a rejected file can be corrected in a single pass
type DocumentError struct {
	*ReconcilerError
	File   string  `json:"file"`
	Issues []Issue `json:"issues"`
}

// Error implements the error interface
func (e *DocumentError) Error() string {
	if len(e.Issues) == 0 {
		return e.ReconcilerError.Error()
	}
	fields := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		fields = append(fields, issue.Field)
	}
	return fmt.Sprintf("%s in %s: %s", e.Message, filepath.Base(e.File), strings.Join(fields, ", "))
}

// Unwrap exposes the ReconcilerError so category and code checks see through
func (e *DocumentError) Unwrap() error {
	return e.ReconcilerError
}

// GetDetailedError returns a multi-line description listing every issue
func (e *DocumentError) GetDetailedError() string {
	lines := []string{
		fmt.Sprintf("ERROR: %s", e.Message),
		fmt.Sprintf("  → File: %s", e.File),
	}
	for _, issue := range e.Issues {
		lines = append(lines, fmt.Sprintf("  → %s", issue))
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	return strings.Join(lines, "\n")
}

// IssueCollector accumulates the issues of one document up to a limit
type IssueCollector struct {
	file      string
	maxIssues int
	issues    []Issue
	truncated int
}

// NewIssueCollector creates a collector for file; maxIssues <= 0 means no limit
func NewIssueCollector(file string, maxIssues int) *IssueCollector {
	return &IssueCollector{file: file, maxIssues: maxIssues}
}

// Add records an issue and reports whether it was kept
func (c *IssueCollector) Add(field, value, expected string) bool {
	if c.maxIssues > 0 && len(c.issues) >= c.maxIssues {
		c.truncated++
		return false
	}
	c.issues = append(c.issues, Issue{Field: field, Value: value, Expected: expected})
	return true
}

// HasIssues reports whether anything was collected
func (c *IssueCollector) HasIssues() bool {
	return len(c.issues) > 0
}

// Issues returns the collected issues
func (c *IssueCollector) Issues() []Issue {
	return c.issues
}

// Err returns a DocumentError with the given code, or nil when nothing was collected
func (c *IssueCollector) Err(code ErrorCode, message string) error {
	if !c.HasIssues() {
		return nil
	}
	base := build(nil, CategoryParse, code, message).
		WithSuggestion(suggestionFor(code)).
		WithContext("file", c.file).
		WithContext("issues", len(c.issues)+c.truncated)
	return &DocumentError{ReconcilerError: base, File: c.file, Issues: c.issues}
}

func suggestionFor(code ErrorCode) string {
	switch code {
	case CodeMissingField:
		return "every document needs invoice_number, invoice_date and line items with a code and an amount"
	case CodeInvalidAmount:
		return "amounts must be decimal numbers, e.g. 12.34, -12.34 or (12.34)"
	default:
		return "check the extraction output against the credit document format"
	}
}

// AsDocumentError returns the DocumentError in err's chain, if any
func AsDocumentError(err error) (*DocumentError, bool) {
	var docErr *DocumentError
	if errors.As(err, &docErr) {
		return docErr, true
	}
	return nil, false
}
