// Package config loads echokern configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ECHOKERN_ARENA_HEAP_SIZE.
const EnvPrefix = "ECHOKERN"

// Config holds all kernel configuration.
// Default returns the built-in values; LoadFromPath reads a YAML file and
// applies ECHOKERN_* environment overrides. The CLI only reads a file when
// --config is given.
type Config struct {
	Arena      ArenaConfig      `mapstructure:"arena" yaml:"arena"`
	Tensor     TensorConfig     `mapstructure:"tensor" yaml:"tensor"`
	Hypergraph HypergraphConfig `mapstructure:"hypergraph" yaml:"hypergraph"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
	Atoms      AtomsConfig      `mapstructure:"atoms" yaml:"atoms"`
	Attention  AttentionConfig  `mapstructure:"attention" yaml:"attention"`
	Truth      TruthConfig      `mapstructure:"truth" yaml:"truth"`
	Reservoir  ReservoirConfig  `mapstructure:"reservoir" yaml:"reservoir"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ArenaConfig sizes the memory arena.
type ArenaConfig struct {
	// HeapSize in bytes. Zero selects the arena default (64 MiB).
	HeapSize uint64 `mapstructure:"heap_size" yaml:"heap_size"`
}

// TensorConfig sizes the tensor context acquired at stage 0.
type TensorConfig struct {
	Budget int `mapstructure:"budget" yaml:"budget"`
}

type HypergraphConfig struct {
	MaxNodes int `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxEdges int `mapstructure:"max_edges" yaml:"max_edges"`
}

type SchedulerConfig struct {
	Capacity   int           `mapstructure:"capacity" yaml:"capacity"`
	TickBudget time.Duration `mapstructure:"tick_budget" yaml:"tick_budget"`
}

type AtomsConfig struct {
	MaxAtoms     int `mapstructure:"max_atoms" yaml:"max_atoms"`
	EmbeddingDim int `mapstructure:"embedding_dim" yaml:"embedding_dim"`
}

// AttentionConfig controls the attention cycle. SpreadFraction 0 disables
// spreading, leaving plain decay.
type AttentionConfig struct {
	Decay          float32 `mapstructure:"decay" yaml:"decay"`
	LTIRate        float32 `mapstructure:"lti_rate" yaml:"lti_rate"`
	SpreadFraction float32 `mapstructure:"spread_fraction" yaml:"spread_fraction"`
}

type TruthConfig struct {
	DefaultStrength   float32 `mapstructure:"default_strength" yaml:"default_strength"`
	DefaultConfidence float32 `mapstructure:"default_confidence" yaml:"default_confidence"`
	UnifyThreshold    float32 `mapstructure:"unify_threshold" yaml:"unify_threshold"`
}

// ReservoirConfig is the default shape used by the CLI demo and bench.
type ReservoirConfig struct {
	InputSize       int     `mapstructure:"input_size" yaml:"input_size"`
	ReservoirSize   int     `mapstructure:"reservoir_size" yaml:"reservoir_size"`
	OutputSize      int     `mapstructure:"output_size" yaml:"output_size"`
	SpectralRadius  float64 `mapstructure:"spectral_radius" yaml:"spectral_radius"`
	Seed            uint64  `mapstructure:"seed" yaml:"seed"`
	PowerIterations int     `mapstructure:"power_iterations" yaml:"power_iterations"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error, disabled
	Format string `mapstructure:"format" yaml:"format"` // console, json
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Arena:  ArenaConfig{HeapSize: 64 << 20},
		Tensor: TensorConfig{Budget: 128 << 20},
		Hypergraph: HypergraphConfig{
			MaxNodes: 4096,
			MaxEdges: 16384,
		},
		Scheduler: SchedulerConfig{
			Capacity:   1024,
			TickBudget: 5 * time.Microsecond,
		},
		Atoms: AtomsConfig{
			MaxAtoms:     8192,
			EmbeddingDim: 512,
		},
		Attention: AttentionConfig{
			Decay:   0.99,
			LTIRate: 0.01,
		},
		Truth: TruthConfig{
			DefaultStrength:   0.5,
			DefaultConfidence: 0.1,
			UnifyThreshold:    0.2,
		},
		Reservoir: ReservoirConfig{
			InputSize:       3,
			ReservoirSize:   100,
			OutputSize:      2,
			SpectralRadius:  0.9,
			Seed:            42,
			PowerIterations: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// DefaultPath returns ~/.echokern/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".echokern", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from path and merges environment
// variables. If the file doesn't exist, it is created with default values.
// Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: ECHOKERN_SCHEDULER_TICK_BUDGET=20us
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToPath writes the configuration to path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// YAML renders the configuration as it would be saved.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	const maxHeap = 4 << 30
	if c.Arena.HeapSize > maxHeap {
		return fmt.Errorf("arena.heap_size %d exceeds %d", c.Arena.HeapSize, uint64(maxHeap))
	}
	if c.Tensor.Budget < 0 {
		return fmt.Errorf("tensor.budget cannot be negative")
	}
	if c.Hypergraph.MaxNodes <= 0 || c.Hypergraph.MaxEdges <= 0 {
		return fmt.Errorf("hypergraph.max_nodes and hypergraph.max_edges must be positive")
	}
	if c.Scheduler.Capacity <= 0 {
		return fmt.Errorf("scheduler.capacity must be positive")
	}
	if c.Scheduler.TickBudget <= 0 {
		return fmt.Errorf("scheduler.tick_budget must be positive")
	}
	if c.Atoms.MaxAtoms <= 0 || c.Atoms.EmbeddingDim <= 0 {
		return fmt.Errorf("atoms.max_atoms and atoms.embedding_dim must be positive")
	}
	if c.Attention.Decay <= 0 || c.Attention.Decay > 1 {
		return fmt.Errorf("attention.decay must be in (0, 1]")
	}
	if !unit(c.Attention.LTIRate) || !unit(c.Attention.SpreadFraction) {
		return fmt.Errorf("attention.lti_rate and attention.spread_fraction must be in [0, 1]")
	}
	if !unit(c.Truth.DefaultStrength) || !unit(c.Truth.DefaultConfidence) {
		return fmt.Errorf("truth defaults must be in [0, 1]")
	}
	if c.Truth.UnifyThreshold <= 0 {
		return fmt.Errorf("truth.unify_threshold must be positive")
	}
	r := c.Reservoir
	if r.InputSize <= 0 || r.ReservoirSize <= 0 || r.OutputSize <= 0 {
		return fmt.Errorf("reservoir sizes must be positive")
	}
	if r.SpectralRadius < 0 {
		return fmt.Errorf("reservoir.spectral_radius cannot be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: trace, debug, info, warn, error, disabled", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format '%s', must be 'console' or 'json'", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func unit(x float32) bool { return x >= 0 && x <= 1 }

// writeConfigFile writes a Config struct to a YAML file using yaml struct tags.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
