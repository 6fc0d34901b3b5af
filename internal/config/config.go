package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the run settings for the budget correction pipeline. Values are
// fixed for a run; the degradation rate and horizon are contractual constants
// and only overridable for testing against alternate schemes.
type Config struct {
	// AccountName selects scheme sites in the database (matched with ILIKE).
	AccountName string `yaml:"account_name"`

	// ExcelFile is the Property Meter Directory workbook path.
	ExcelFile       string `yaml:"excel_file"`
	SourceSheet     string `yaml:"source_sheet"`
	MembershipSheet string `yaml:"membership_sheet"`

	HorizonYears    int     `yaml:"horizon_years"`
	DegradationRate float64 `yaml:"degradation_rate"`

	// TariffRate is the flat revenue rate per kWh applied to generated budgets.
	TariffRate string `yaml:"tariff_rate"`

	// Insert batching policy. Size starts at InitialBatchSize and grows by
	// BatchGrowthStep after BatchGrowthAfter consecutive successful batches,
	// capped at MaxBatchSize.
	InitialBatchSize int `yaml:"initial_batch_size"`
	MaxBatchSize     int `yaml:"max_batch_size"`
	BatchGrowthStep  int `yaml:"batch_growth_step"`
	BatchGrowthAfter int `yaml:"batch_growth_after"`

	// MaxRetries bounds retry attempts for transient persistence failures.
	MaxRetries int `yaml:"max_retries"`

	// SampleSize is the number of sites spot-checked in validation reports.
	SampleSize int `yaml:"sample_size"`

	BackupDir     string `yaml:"backup_dir"`
	ReportFile    string `yaml:"report_file"`
	StatementFile string `yaml:"statement_file"`

	// ListenAddr is the bind address for the report server.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the production configuration for the CES correction run.
func Default() Config {
	return Config{
		AccountName:      "Community Energy Scheme",
		ExcelFile:        "Property Meter Directory.xlsx",
		SourceSheet:      "Onboarding source sheet",
		MembershipSheet:  "Sites on Metris",
		HorizonYears:     25,
		DegradationRate:  0.004,
		TariffRate:       "0",
		InitialBatchSize: 100,
		MaxBatchSize:     500,
		BatchGrowthStep:  100,
		BatchGrowthAfter: 2,
		MaxRetries:       3,
		SampleSize:       5,
		BackupDir:        "backups",
		ReportFile:       "ces_budgets_validation_report.json",
		StatementFile:    "ces_budgets_fix.sql",
		ListenAddr:       ":8087",
	}
}

// Load returns the default configuration overlaid with values from a YAML
// file. An empty path, or a missing file at the default location, yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings that would make a run unsafe or meaningless.
func (c Config) Validate() error {
	if c.HorizonYears <= 0 {
		return fmt.Errorf("horizon_years must be positive, got %d", c.HorizonYears)
	}
	if c.DegradationRate < 0 || c.DegradationRate >= 1 {
		return fmt.Errorf("degradation_rate must be in [0,1), got %g", c.DegradationRate)
	}
	if c.InitialBatchSize <= 0 || c.MaxBatchSize < c.InitialBatchSize {
		return fmt.Errorf("invalid batch sizes: initial=%d max=%d", c.InitialBatchSize, c.MaxBatchSize)
	}
	if c.BatchGrowthStep <= 0 || c.BatchGrowthAfter <= 0 {
		return fmt.Errorf("invalid batch growth policy: step=%d after=%d", c.BatchGrowthStep, c.BatchGrowthAfter)
	}
	return nil
}
