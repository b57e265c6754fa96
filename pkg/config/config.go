// Package config provides configuration loading and management for beamdose.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"beamdose/pkg/dosecalc"
	"beamdose/pkg/interpolation"
	"beamdose/pkg/resample"
	"beamdose/pkg/visualization"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for resampling
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Resampling parameters
	Resample struct {
		// Interpolation is the resampling kernel, "linear" or "nearest"
		Interpolation string `yaml:"interpolation"`

		// Background is the value of reference voxels outside a resampled volume
		Background float64 `yaml:"background"`
	} `yaml:"resample"`

	// Dose display defaults
	Dose struct {
		// WindowFactor multiplies the prescription dose to give the window maximum
		WindowFactor float64 `yaml:"windowFactor"`

		// ThresholdFraction of the prescription dose hides low-dose voxels
		ThresholdFraction float64 `yaml:"thresholdFraction"`

		// FallbackWindowMax in Gy is used when a plan has no prescription
		FallbackWindowMax float64 `yaml:"fallbackWindowMax"`

		// Unit is the dose unit tagged on computed volumes
		Unit string `yaml:"unit"`
	} `yaml:"dose"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is "console" or "json"
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Output parameters
	Output struct {
		// ExportSlices saves windowed JPEG slices of the total dose
		ExportSlices bool `yaml:"exportSlices"`

		// SlicesDir is the directory the slices are written to
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`

	// Metrics parameters
	Metrics struct {
		// Enabled prints the Prometheus metrics after a run
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Resample.Interpolation = interpolation.Linear.String()
	cfg.Resample.Background = 0

	cfg.Dose.WindowFactor = 1.1
	cfg.Dose.ThresholdFraction = 0.05
	cfg.Dose.FallbackWindowMax = 16.0
	cfg.Dose.Unit = "Gy"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Output.ExportSlices = false
	cfg.Output.SlicesDir = "dose_slices"

	cfg.Metrics.Enabled = false

	return cfg
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("%w: processing.numCores must be at least 1, got %d", ErrInvalidConfig, c.Processing.NumCores)
	}
	if _, err := interpolation.ParseMethod(c.Resample.Interpolation); err != nil {
		return fmt.Errorf("%w: resample.interpolation: %v", ErrInvalidConfig, err)
	}
	if !(c.Dose.WindowFactor > 0) {
		return fmt.Errorf("%w: dose.windowFactor must be positive", ErrInvalidConfig)
	}
	if c.Dose.ThresholdFraction < 0 || c.Dose.ThresholdFraction >= 1 {
		return fmt.Errorf("%w: dose.thresholdFraction must be in [0, 1)", ErrInvalidConfig)
	}
	if !(c.Dose.FallbackWindowMax > 0) {
		return fmt.Errorf("%w: dose.fallbackWindowMax must be positive", ErrInvalidConfig)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be console or json, got %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// CalculatorParams converts the resample and dose sections into calculator
// parameters
func (c *Config) CalculatorParams() (*dosecalc.Params, error) {
	method, err := interpolation.ParseMethod(c.Resample.Interpolation)
	if err != nil {
		return nil, fmt.Errorf("%w: resample.interpolation: %v", ErrInvalidConfig, err)
	}
	return &dosecalc.Params{
		Resample: &resample.Params{
			Method:     method,
			Background: c.Resample.Background,
			NumWorkers: c.Processing.NumCores,
		},
		Display: visualization.DisplayOptions{
			WindowFactor:      c.Dose.WindowFactor,
			ThresholdFraction: c.Dose.ThresholdFraction,
			FallbackWindowMax: c.Dose.FallbackWindowMax,
		},
		Unit: c.Dose.Unit,
	}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
