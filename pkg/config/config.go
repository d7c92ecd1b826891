package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Network     NetworkConfig    `mapstructure:"network"`
	Reputation  ReputationConfig `mapstructure:"reputation"`
	Detection   DetectionConfig  `mapstructure:"detection"`
	P2P         P2PConfig        `mapstructure:"p2p"`
	Scheduler   SchedConfig      `mapstructure:"scheduler"`
	Security    SecurityConfig   `mapstructure:"security"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Embedded bool          `mapstructure:"embedded"`
	DataDir  string        `mapstructure:"data_dir"`
	Port     int           `mapstructure:"port"`
}

// NetworkConfig holds validation network settings
type NetworkConfig struct {
	MinValidators      int           `mapstructure:"min_validators"`
	MaxValidators      int           `mapstructure:"max_validators"`
	ConsensusThreshold float64       `mapstructure:"consensus_threshold"`
	ValidationTimeout  time.Duration `mapstructure:"validation_timeout"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	ConsensusAlgorithm string        `mapstructure:"consensus_algorithm"`
	SessionRetention   int           `mapstructure:"session_retention"`
}

// ReputationConfig holds reputation system settings
type ReputationConfig struct {
	MinReputation     float64 `mapstructure:"min_reputation"`
	MaxReputation     float64 `mapstructure:"max_reputation"`
	InitialReputation float64 `mapstructure:"initial_reputation"`
}

// DetectionConfig holds manipulation detection settings
type DetectionConfig struct {
	TimingThreshold  time.Duration `mapstructure:"timing_threshold"`
	SimilarityFloor  float64       `mapstructure:"similarity_floor"`
	GroupRepeatLimit int           `mapstructure:"group_repeat_limit"`
}

// P2PConfig holds the validator notification transport settings
type P2PConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	Topic          string   `mapstructure:"topic"`
}

// SchedConfig holds scheduler related configuration
type SchedConfig struct {
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	CoordinationSchedule string        `mapstructure:"coordination_schedule"`
}

// SecurityConfig holds key management settings
type SecurityConfig struct {
	KeyFile string `mapstructure:"key_file"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults and environment.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CVN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Network defaults
	v.SetDefault("network.min_validators", 3)
	v.SetDefault("network.max_validators", 50)
	v.SetDefault("network.consensus_threshold", 0.67)
	v.SetDefault("network.validation_timeout", "5m")
	v.SetDefault("network.monitor_interval", "30s")
	v.SetDefault("network.consensus_algorithm", "weighted_voting")
	v.SetDefault("network.session_retention", 256)

	// Reputation defaults
	v.SetDefault("reputation.min_reputation", 0.1)
	v.SetDefault("reputation.max_reputation", 10.0)
	v.SetDefault("reputation.initial_reputation", 0.0)

	// Detection defaults
	v.SetDefault("detection.timing_threshold", "30s")
	v.SetDefault("detection.similarity_floor", 0.5)
	v.SetDefault("detection.group_repeat_limit", 3)

	// P2P defaults
	v.SetDefault("p2p.enabled", false)
	v.SetDefault("p2p.port", 9000)
	v.SetDefault("p2p.topic", "content-validation")

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "1m")
	v.SetDefault("scheduler.coordination_schedule", "@every 5m")

	// Database defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.data_dir", ".cvn/postgres")
	v.SetDefault("database.port", 5433)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateNetwork(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}
	if err := c.validateReputation(); err != nil {
		return fmt.Errorf("reputation config: %w", err)
	}
	if err := c.validateDetection(); err != nil {
		return fmt.Errorf("detection config: %w", err)
	}
	if err := c.validateP2P(); err != nil {
		return fmt.Errorf("p2p config: %w", err)
	}
	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if c.Network.MinValidators <= 0 {
		return fmt.Errorf("min_validators must be positive")
	}
	if c.Network.MaxValidators < c.Network.MinValidators {
		return fmt.Errorf("max_validators (%d) cannot be less than min_validators (%d)",
			c.Network.MaxValidators, c.Network.MinValidators)
	}
	if c.Network.ConsensusThreshold <= 0 || c.Network.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be between 0 and 1")
	}
	if c.Network.ValidationTimeout <= 0 {
		return fmt.Errorf("validation_timeout must be positive")
	}
	if c.Network.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive")
	}
	return nil
}

func (c *Config) validateReputation() error {
	if c.Reputation.MinReputation < 0 {
		return fmt.Errorf("min_reputation cannot be negative")
	}
	if c.Reputation.MaxReputation <= c.Reputation.MinReputation {
		return fmt.Errorf("max_reputation must exceed min_reputation")
	}
	if c.Reputation.InitialReputation < 0 || c.Reputation.InitialReputation > c.Reputation.MaxReputation {
		return fmt.Errorf("initial_reputation must be between 0 and max_reputation")
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.TimingThreshold <= 0 {
		return fmt.Errorf("timing_threshold must be positive")
	}
	if c.Detection.SimilarityFloor <= 0 || c.Detection.SimilarityFloor > 1 {
		return fmt.Errorf("similarity_floor must be between 0 and 1")
	}
	if c.Detection.GroupRepeatLimit <= 0 {
		return fmt.Errorf("group_repeat_limit must be positive")
	}
	return nil
}

func (c *Config) validateP2P() error {
	if !c.P2P.Enabled {
		return nil
	}
	if c.P2P.Port <= 0 || c.P2P.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.P2P.Port)
	}
	if c.P2P.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
