// Package classifier groups a credit document's line items by classification code
// and assigns every group a posting route.
//
// Precedence is fixed:
//  1. the code is one of the configured vendor-credit codes
//  2. the code looks like a job or invoice reference ("J" + 4-6 digits, "INV" + digits)
//  3. the code is a short-shipment marker
//  4. anything else is unidentified
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
)

var journalCodePattern = regexp.MustCompile(`^(J\d{4,6}|INV\d+)$`)

// Config holds the domain-configured code sets
type Config struct {
	VendorCreditCodes []string `mapstructure:"vendor_credit_codes"`
	ShortShipMarkers  []string `mapstructure:"short_ship_markers"`
}

// DefaultConfig returns the code sets in use today
func DefaultConfig() *Config {
	return &Config{
		VendorCreditCodes: []string{"CONCESSION", "CONC", "NF", "NO FAULT", "NOFAULT", "CORE"},
		ShortShipMarkers:  []string{"BOX"},
	}
}

// Validate rejects empty or overlapping code sets
func (c *Config) Validate() error {
	if len(c.VendorCreditCodes) == 0 {
		return fmt.Errorf("at least one vendor credit code is required")
	}
	seen := make(map[string]bool)
	for _, code := range c.VendorCreditCodes {
		norm := models.NormalizeCode(code)
		if norm == "" {
			return fmt.Errorf("vendor credit codes cannot be blank")
		}
		if journalCodePattern.MatchString(norm) {
			return fmt.Errorf("vendor credit code %q collides with the journal entry pattern", code)
		}
		seen[norm] = true
	}
	for _, marker := range c.ShortShipMarkers {
		norm := models.NormalizeCode(marker)
		if norm == "" {
			return fmt.Errorf("short ship markers cannot be blank")
		}
		if seen[norm] {
			return fmt.Errorf("code %q is both a vendor credit code and a short ship marker", marker)
		}
	}
	return nil
}

// Classifier is pure; safe for concurrent use once built
type Classifier struct {
	vendorCredit map[string]bool
	shortShip    map[string]bool
}

// New builds a classifier from config; nil means defaults
func New(config *Config) (*Classifier, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}

	c := &Classifier{
		vendorCredit: make(map[string]bool, len(config.VendorCreditCodes)),
		shortShip:    make(map[string]bool, len(config.ShortShipMarkers)),
	}
	for _, code := range config.VendorCreditCodes {
		c.vendorCredit[models.NormalizeCode(code)] = true
	}
	for _, marker := range config.ShortShipMarkers {
		c.shortShip[models.NormalizeCode(marker)] = true
	}
	return c, nil
}

// Classify maps any code string to exactly one class. Code sets compare
// case-insensitively; the job-reference pattern is matched as written.
func (c *Classifier) Classify(code string) models.TransactionTypeClass {
	norm := models.NormalizeCode(code)
	switch {
	case norm == "":
		return models.ClassUnidentified
	case c.vendorCredit[norm]:
		return models.ClassVendorCredit
	case journalCodePattern.MatchString(strings.TrimSpace(code)):
		return models.ClassJournalEntry
	case c.shortShip[norm]:
		return models.ClassShortShip
	default:
		return models.ClassUnidentified
	}
}

// groupKey returns the code a line is grouped under: set members are folded to
// upper case, anything else keeps its spelling
func (c *Classifier) groupKey(code string) (string, models.TransactionTypeClass) {
	class := c.Classify(code)
	if class == models.ClassVendorCredit || class == models.ClassShortShip {
		return models.NormalizeCode(code), class
	}
	return strings.TrimSpace(code), class
}

// Group splits line items into one group per code, in order of first appearance
func (c *Classifier) Group(items []models.LineItem) []*models.NardaGroup {
	var groups []*models.NardaGroup
	index := make(map[string]*models.NardaGroup)

	for _, item := range items {
		code, class := c.groupKey(item.Code)
		group, ok := index[code]
		if !ok {
			group = &models.NardaGroup{
				Code:  code,
				Class: class,
				Total: decimal.Zero,
			}
			index[code] = group
			groups = append(groups, group)
		}
		group.Items = append(group.Items, item)
		group.Total = group.Total.Add(item.Amount.Abs())
		if bill := strings.TrimSpace(item.BillNumber); bill != "" && !contains(group.BillNumbers, bill) {
			group.BillNumbers = append(group.BillNumbers, bill)
		}
	}
	return groups
}

// Partitioned is the document's groups split by class
type Partitioned struct {
	JournalEntry []*models.NardaGroup
	VendorCredit []*models.NardaGroup
	ShortShip    []*models.NardaGroup
	Unidentified []*models.NardaGroup
}

// Partition groups a document and splits the groups by class, keeping order
func (c *Classifier) Partition(doc *models.CreditDocument) Partitioned {
	var p Partitioned
	for _, group := range c.Group(doc.LineItems) {
		switch group.Class {
		case models.ClassJournalEntry:
			p.JournalEntry = append(p.JournalEntry, group)
		case models.ClassVendorCredit:
			p.VendorCredit = append(p.VendorCredit, group)
		case models.ClassShortShip:
			p.ShortShip = append(p.ShortShip, group)
		default:
			p.Unidentified = append(p.Unidentified, group)
		}
	}
	return p
}

// SkipOutcomes returns the fixed skips for short-ship and unidentified groups
func (p Partitioned) SkipOutcomes() []models.Outcome {
	var outcomes []models.Outcome
	for _, g := range p.ShortShip {
		outcomes = append(outcomes, models.Skipped(models.ScopeOfGroup(g), models.ReasonShortShip,
			fmt.Sprintf("short shipment %s for %s requires manual review", g.Code, g.Total.StringFixed(2))))
	}
	for _, g := range p.Unidentified {
		code := g.Code
		if code == "" {
			code = "(blank)"
		}
		outcomes = append(outcomes, models.Skipped(models.ScopeOfGroup(g), models.ReasonUnidentifiedCode,
			fmt.Sprintf("unidentified classification code %s for %s", code, g.Total.StringFixed(2))))
	}
	return outcomes
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
