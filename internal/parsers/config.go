package parsers

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LoaderConfig controls how extraction output files are discovered and read
type LoaderConfig struct {
	// Extensions are the file extensions treated as extraction output.
	Extensions []string `mapstructure:"extensions"`
	// CompanionExtension names the rendered copy stored next to each document.
	CompanionExtension string `mapstructure:"companion_extension"`
	// MaxFileSize rejects files larger than this many bytes; 0 disables the check.
	MaxFileSize int64 `mapstructure:"max_file_size"`
	// TotalTolerance is the allowed gap between the stated total and line items plus freight.
	TotalTolerance decimal.Decimal `mapstructure:"total_tolerance"`
	// RejectTotalMismatch turns a total mismatch into a rejection instead of a warning.
	RejectTotalMismatch bool `mapstructure:"reject_total_mismatch"`
}

// DefaultLoaderConfig returns a configuration with sensible defaults
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		Extensions:         []string{".json"},
		CompanionExtension: ".pdf",
		MaxFileSize:        10 * 1024 * 1024,
		TotalTolerance:     decimal.NewFromFloat(0.01),
	}
}

// Validate checks if the loader configuration is valid
func (c *LoaderConfig) Validate() error {
	if len(c.Extensions) == 0 {
		return fmt.Errorf("at least one document extension is required")
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if c.CompanionExtension != "" && !strings.HasPrefix(c.CompanionExtension, ".") {
		return fmt.Errorf("companion extension %q must start with a dot", c.CompanionExtension)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max file size cannot be negative, got %d", c.MaxFileSize)
	}
	if c.TotalTolerance.IsNegative() {
		return fmt.Errorf("total tolerance cannot be negative, got %s", c.TotalTolerance)
	}
	return nil
}

func (c *LoaderConfig) accepts(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range c.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
