// Package config provides configuration management for fivex.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (FIVEX_*)
// 3. Project config (.fivex/config.yaml in cwd)
// 4. Home config (~/.fivex/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all fivex configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// BaseDir is the project data directory (default: .5x).
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Paths settings for plan/review artifact locations.
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Loop settings for the phase execution and plan review loops.
	Loop LoopConfig `yaml:"loop" json:"loop"`
}

// LoopConfig holds PhaseExecutionLoop/PlanReviewLoop tunables.
type LoopConfig struct {
	// MaxQualityRetries bounds QUALITY_RETRY cycles per phase before escalating.
	MaxQualityRetries int `yaml:"max_quality_retries" json:"max_quality_retries"`
	// MaxReviewIterations bounds REVIEW/AUTO_FIX cycles per phase (or plan, for
	// plan-review) before escalating.
	MaxReviewIterations int `yaml:"max_review_iterations" json:"max_review_iterations"`
	// MaxAutoRetries bounds consecutive escalations within one phase in auto
	// mode before the run aborts.
	MaxAutoRetries int `yaml:"max_auto_retries" json:"max_auto_retries"`
	// AuthorTimeoutSeconds is the per-call timeout for author invocations.
	AuthorTimeoutSeconds int `yaml:"author_timeout_seconds" json:"author_timeout_seconds"`
	// ReviewerTimeoutSeconds is the per-call timeout for reviewer invocations.
	// Defaults to 120 if unset, per spec.
	ReviewerTimeoutSeconds int `yaml:"reviewer_timeout_seconds" json:"reviewer_timeout_seconds"`
	// AuthorModel is "provider/model" used for author invocations.
	AuthorModel string `yaml:"author_model" json:"author_model"`
	// ReviewerModel is "provider/model" used for reviewer invocations.
	ReviewerModel string `yaml:"reviewer_model" json:"reviewer_model"`
	// RuntimeCommand is the CLI command used to spawn agent sessions.
	// Default: "claude".
	RuntimeCommand string `yaml:"runtime_command" json:"runtime_command"`
	// QualityCommands are shell commands run at QUALITY_CHECK, in order.
	// A phase with no configured commands skips quality checking entirely.
	QualityCommands []string `yaml:"quality_commands" json:"quality_commands"`
}

// PathsConfig holds configurable paths for plan/review artifact locations.
type PathsConfig struct {
	// PlansDir is where plan Markdown files are stored.
	// Default: .5x/plans
	PlansDir string `yaml:"plans_dir" json:"plans_dir"`

	// ReviewsDir is where plan-review and per-phase review files are stored
	// when no review path can be resolved from a prior run.
	// Default: .5x/reviews
	ReviewsDir string `yaml:"reviews_dir" json:"reviews_dir"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput  = "table"
	defaultBaseDir = ".5x"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		BaseDir: defaultBaseDir,
		Verbose: false,
		Loop: LoopConfig{
			MaxQualityRetries:      3,
			MaxReviewIterations:    3,
			MaxAutoRetries:         3,
			AuthorTimeoutSeconds:   0,
			ReviewerTimeoutSeconds: 120,
			RuntimeCommand:         "claude",
		},
		Paths: PathsConfig{
			PlansDir:   ".5x/plans",
			ReviewsDir: ".5x/reviews",
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fivex", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("FIVEX_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".fivex", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("FIVEX_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("FIVEX_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("FIVEX_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("FIVEX_RUNTIME_COMMAND"); v != "" {
		cfg.Loop.RuntimeCommand = v
	}
	if v := os.Getenv("FIVEX_AUTHOR_MODEL"); v != "" {
		cfg.Loop.AuthorModel = v
	}
	if v := os.Getenv("FIVEX_REVIEWER_MODEL"); v != "" {
		cfg.Loop.ReviewerModel = v
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.Verbose {
		dst.Verbose = true
	}

	if src.Loop.MaxQualityRetries != 0 {
		dst.Loop.MaxQualityRetries = src.Loop.MaxQualityRetries
	}
	if src.Loop.MaxReviewIterations != 0 {
		dst.Loop.MaxReviewIterations = src.Loop.MaxReviewIterations
	}
	if src.Loop.MaxAutoRetries != 0 {
		dst.Loop.MaxAutoRetries = src.Loop.MaxAutoRetries
	}
	if src.Loop.AuthorTimeoutSeconds != 0 {
		dst.Loop.AuthorTimeoutSeconds = src.Loop.AuthorTimeoutSeconds
	}
	if src.Loop.ReviewerTimeoutSeconds != 0 {
		dst.Loop.ReviewerTimeoutSeconds = src.Loop.ReviewerTimeoutSeconds
	}
	if src.Loop.AuthorModel != "" {
		dst.Loop.AuthorModel = src.Loop.AuthorModel
	}
	if src.Loop.ReviewerModel != "" {
		dst.Loop.ReviewerModel = src.Loop.ReviewerModel
	}
	if src.Loop.RuntimeCommand != "" {
		dst.Loop.RuntimeCommand = src.Loop.RuntimeCommand
	}
	if len(src.Loop.QualityCommands) != 0 {
		dst.Loop.QualityCommands = src.Loop.QualityCommands
	}

	if src.Paths.PlansDir != "" {
		dst.Paths.PlansDir = src.Paths.PlansDir
	}
	if src.Paths.ReviewsDir != "" {
		dst.Paths.ReviewsDir = src.Paths.ReviewsDir
	}

	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.fivex/config.yaml"
	SourceProject Source = ".fivex/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)
