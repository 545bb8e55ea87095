package application

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	royalty "royalty-cloud/internal/royalty/domain"
)

// Config holds engine and workflow settings loaded from ROYALTY_CONFIG.
type Config struct {
	Currency string       `yaml:"currency"`
	Batch    BatchConfig  `yaml:"batch"`
	Split    SplitConfig  `yaml:"split"`
	Export   ExportConfig `yaml:"export"`
	Outbox   OutboxConfig `yaml:"outbox"`
}

// BatchConfig bounds batch statement generation.
type BatchConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// SplitConfig configures ownership split validation.
type SplitConfig struct {
	Tolerance string `yaml:"tolerance"`
}

// ExportConfig configures rendered statements.
type ExportConfig struct {
	CompanyName string `yaml:"company_name"`
}

// OutboxConfig configures the background dispatcher.
type OutboxConfig struct {
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	BatchSize        int           `yaml:"batch_size"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Currency: "USD",
		Batch:    BatchConfig{Workers: 8, Timeout: 30 * time.Second},
		Split:    SplitConfig{Tolerance: "0.01"},
		Export:   ExportConfig{CompanyName: "Royalty Statements"},
		Outbox:   OutboxConfig{DispatchInterval: 5 * time.Second, BatchSize: 50},
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("royalty config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("royalty config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Batch.Workers <= 0 {
		return errors.New("royalty config: batch.workers must be positive")
	}
	if c.Batch.Timeout < 0 {
		return errors.New("royalty config: batch.timeout must not be negative")
	}
	tol, err := c.SplitTolerance()
	if err != nil {
		return err
	}
	if tol.IsNegative() {
		return errors.New("royalty config: split.tolerance must not be negative")
	}
	return nil
}

// SplitTolerance parses split.tolerance. Empty means the engine default;
// "0" requires ownership to sum to exactly 100.
func (c Config) SplitTolerance() (decimal.Decimal, error) {
	if c.Split.Tolerance == "" {
		return royalty.DefaultSplitTolerance, nil
	}
	tol, err := decimal.NewFromString(c.Split.Tolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("royalty config: split.tolerance: %w", err)
	}
	return tol, nil
}
