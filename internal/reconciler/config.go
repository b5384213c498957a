package reconciler

import (
	"fmt"
	"time"

	"creditmemo-reconciliation-service/internal/classifier"
	"creditmemo-reconciliation-service/internal/matcher"
	"creditmemo-reconciliation-service/internal/synthesizer"
)

// Config holds configuration options for the reconciliation engine and batch run
type Config struct {
	Classifier  *classifier.Config      `mapstructure:"classifier"`
	Matching    *matcher.MatchingConfig `mapstructure:"matching"`
	Synthesizer *synthesizer.Config     `mapstructure:"synthesizer"`

	// StopOnError ends the run after the first document with a failed outcome.
	StopOnError bool `mapstructure:"stop_on_error"`
	// ProgressReporting logs periodic batch progress.
	ProgressReporting bool          `mapstructure:"progress_reporting"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
}

// DefaultConfig returns a default configuration; synthesizer accounts still need to be set
func DefaultConfig() *Config {
	return &Config{
		Classifier:        classifier.DefaultConfig(),
		Matching:          matcher.DefaultMatchingConfig(),
		Synthesizer:       synthesizer.DefaultConfig(),
		ProgressReporting: true,
		ProgressInterval:  5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Classifier == nil {
		return fmt.Errorf("classifier configuration is required")
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("invalid classifier configuration: %w", err)
	}
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if c.Synthesizer == nil {
		return fmt.Errorf("synthesizer configuration is required")
	}
	if err := c.Synthesizer.Validate(); err != nil {
		return fmt.Errorf("invalid synthesizer configuration: %w", err)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}
