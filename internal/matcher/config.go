// Package matcher consolidates vendor-credit groups by originating bill and pairs
// their lines against candidate authorization records.
//
// Matching runs in stages:
//  1. lines of every vendor-credit group are merged per bill reference
//  2. authorization lines whose memo mentions the bill are fetched and re-checked
//  3. the lines are indexed by parent authorization, in the order encountered
//  4. each candidate is paired 1:1 against the bill's items (amount within tolerance,
//     plus part identity when the item carries one)
//  5. the first candidate with at least one pair is handed to the synthesizer; a business
//     skip moves on to the next candidate, a success or failure stops the search
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine := matcher.NewMatchingEngine(config, queries, log)
//	outcome := engine.Match(ctx, group, session)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds configuration parameters for authorization matching.
type MatchingConfig struct {
	// AmountTolerance is the largest absolute difference still treated as equal.
	AmountTolerance decimal.Decimal `mapstructure:"amount_tolerance"`

	// RequirePartMatch requires part identity whenever the document line carries a part.
	RequirePartMatch bool `mapstructure:"require_part_match"`

	// RecheckMemo drops query results whose memo does not literally contain the bill reference.
	RecheckMemo bool `mapstructure:"recheck_memo"`

	// MaxCandidates caps how many authorizations are tried per bill; 0 means no cap.
	MaxCandidates int `mapstructure:"max_candidates"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:  decimal.NewFromFloat(0.01),
		RequirePartMatch: true,
		RecheckMemo:      true,
		MaxCandidates:    0,
	}
}

// StrictMatchingConfig returns a configuration demanding exact amounts
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AmountTolerance = decimal.Zero
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", mc.AmountTolerance)
	}
	if mc.AmountTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("amount tolerance too large: %s (max 1.00)", mc.AmountTolerance)
	}
	if mc.MaxCandidates < 0 {
		return fmt.Errorf("max candidates cannot be negative: %d", mc.MaxCandidates)
	}
	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	clone := *mc
	return &clone
}

// String returns a string representation of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: %s, RequirePartMatch: %t, RecheckMemo: %t, MaxCandidates: %d}",
		mc.AmountTolerance.StringFixed(2), mc.RequirePartMatch, mc.RecheckMemo, mc.MaxCandidates)
}
