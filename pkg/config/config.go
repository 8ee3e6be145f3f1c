// Package config loads pipeline configuration with layered precedence:
// built-in defaults, then the user config file, then the project config
// file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default values exported for documentation and validation.
const (
	DefaultProvider          = "openrouter"
	DefaultModel             = "anthropic/claude-sonnet-4-5"
	DefaultMaxSteps          = 25
	DefaultRetryAttempts     = 3
	DefaultStructureAttempts = 2
	DefaultTokenBudget       = 100_000
	DefaultRequestsPerMin    = 60
	DefaultOutputDir         = "out"
	DefaultMinSlides         = 3
	DefaultMinHeadings       = 3
	DefaultLogLevel          = "info"
)

// Config is the complete pipeline configuration.
type Config struct {
	Model       ModelConfig      `yaml:"model"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Report      ReportConfig     `yaml:"report"`
	Storage     StorageConfig    `yaml:"storage"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// ModelConfig configures the language-model client.
type ModelConfig struct {
	Provider       string `yaml:"provider"`
	Name           string `yaml:"name"`
	APIKey         string `yaml:"api_key"`
	TokenBudget    int    `yaml:"token_budget"`
	RequestsPerMin int    `yaml:"requests_per_minute"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

// PipelineConfig configures graph execution and the fan-out analysis node.
type PipelineConfig struct {
	MaxSteps      int      `yaml:"max_steps"`
	RetryAttempts int      `yaml:"retry_attempts"`
	Dimensions    []string `yaml:"dimensions"`
}

// ReportConfig configures the report generation stages.
type ReportConfig struct {
	OutputDir         string `yaml:"output_dir"`
	MinSlides         int    `yaml:"min_slides"`
	MinHeadings       int    `yaml:"min_headings"`
	StructureAttempts int    `yaml:"structure_attempts"`
}

// StorageConfig configures the artifact store.
type StorageConfig struct {
	ArtifactDB string `yaml:"artifact_db"`
}

// CheckpointConfig configures session checkpoint persistence.
type CheckpointConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures structured session logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       DefaultProvider,
			Name:           DefaultModel,
			TokenBudget:    DefaultTokenBudget,
			RequestsPerMin: DefaultRequestsPerMin,
			MaxAttempts:    DefaultRetryAttempts,
		},
		Pipeline: PipelineConfig{
			MaxSteps:      DefaultMaxSteps,
			RetryAttempts: DefaultRetryAttempts,
		},
		Report: ReportConfig{
			OutputDir:         DefaultOutputDir,
			MinSlides:         DefaultMinSlides,
			MinHeadings:       DefaultMinHeadings,
			StructureAttempts: DefaultStructureAttempts,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load loads configuration from the default locations with proper
// precedence, finishing with environment overrides and validation.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userPath := filepath.Join(home, ".deckhand", "config.yaml")
		if err := loadAndMerge(cfg, userPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectPath := filepath.Join(".", ".deckhand", "config.yaml")
	if err := loadAndMerge(cfg, projectPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DECKHAND_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("DECKHAND_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("DECKHAND_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("DECKHAND_OUTPUT_DIR"); v != "" {
		cfg.Report.OutputDir = v
	}
	if v := os.Getenv("DECKHAND_ARTIFACT_DB"); v != "" {
		cfg.Storage.ArtifactDB = v
	}
	if v := os.Getenv("DECKHAND_CHECKPOINTS_DIR"); v != "" {
		cfg.Checkpoints.Dir = v
	}
	if v := os.Getenv("DECKHAND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DECKHAND_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.MaxSteps = n
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Pipeline.MaxSteps <= 0 {
		return fmt.Errorf("pipeline.max_steps must be positive")
	}
	if c.Pipeline.RetryAttempts <= 0 {
		return fmt.Errorf("pipeline.retry_attempts must be positive")
	}
	if c.Report.StructureAttempts <= 0 {
		return fmt.Errorf("report.structure_attempts must be positive")
	}
	if c.Report.MinSlides <= 0 {
		return fmt.Errorf("report.min_slides must be positive")
	}
	if c.Model.TokenBudget <= 0 {
		return fmt.Errorf("model.token_budget must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
