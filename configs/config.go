package configs

import (
	"fmt"
	"strings"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	Verbose      bool   `mapstructure:"verbose" json:"verbose" yaml:"verbose"`
	LogLevel     string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	OutputFormat string `mapstructure:"output_format" json:"output_format" yaml:"output_format"`
	ConfigDir    string `mapstructure:"config_dir" json:"config_dir" yaml:"config_dir"`

	// Run folder layout and rig parameters
	Dataset DatasetConfig `mapstructure:"dataset" json:"dataset" yaml:"dataset"`

	// Multi-run processing
	Batch BatchConfig `mapstructure:"batch" json:"batch" yaml:"batch"`

	// Spectral estimation
	Spectral SpectralConfig `mapstructure:"spectral" json:"spectral" yaml:"spectral"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" json:"output" yaml:"output"`
}

// DatasetConfig describes how the files of a run folder are named and read
type DatasetConfig struct {
	SamplingRate   float64            `mapstructure:"sampling_rate" json:"sampling_rate" yaml:"sampling_rate"`
	Extension      string             `mapstructure:"extension" json:"extension" yaml:"extension"`
	SummaryToken   string             `mapstructure:"summary_token" json:"summary_token" yaml:"summary_token"`
	SummaryColumns []string           `mapstructure:"summary_columns" json:"summary_columns" yaml:"summary_columns"`
	ChannelLayout  string             `mapstructure:"channel_layout" json:"channel_layout" yaml:"channel_layout"`
	StackSegments  bool               `mapstructure:"stack_segments" json:"stack_segments" yaml:"stack_segments"`
	MissingSamples string             `mapstructure:"missing_samples" json:"missing_samples" yaml:"missing_samples"`
	ParallelRoles  bool               `mapstructure:"parallel_roles" json:"parallel_roles" yaml:"parallel_roles"`
	Roles          []harvest.RoleSpec `mapstructure:"roles" json:"roles" yaml:"roles"`
}

// BatchConfig contains multi-run execution settings
type BatchConfig struct {
	MaxConcurrentRuns int  `mapstructure:"max_concurrent_runs" json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	FailFast          bool `mapstructure:"fail_fast" json:"fail_fast" yaml:"fail_fast"`
}

// SpectralConfig contains spectral estimation settings
type SpectralConfig struct {
	WelchSegment int `mapstructure:"welch_segment" json:"welch_segment" yaml:"welch_segment"`
}

// OutputConfig contains output formatting settings
type OutputConfig struct {
	Precision          int    `mapstructure:"precision" json:"precision" yaml:"precision"`
	IncludeMetadata    bool   `mapstructure:"include_metadata" json:"include_metadata" yaml:"include_metadata"`
	Timestamps         bool   `mapstructure:"timestamps" json:"timestamps" yaml:"timestamps"`
	File               string `mapstructure:"file" json:"file" yaml:"file"`
	ParquetFile        string `mapstructure:"parquet_file" json:"parquet_file" yaml:"parquet_file"`
	ParquetCompression string `mapstructure:"parquet_compression" json:"parquet_compression" yaml:"parquet_compression"`
}

// Options converts the dataset settings into run options
func (d DatasetConfig) Options() (harvest.Options, error) {
	layout, err := harvest.ParseChannelLayout(d.ChannelLayout)
	if err != nil {
		return harvest.Options{}, err
	}
	missing, err := harvest.ParseMissingPolicy(d.MissingSamples)
	if err != nil {
		return harvest.Options{}, err
	}

	return harvest.Options{
		SamplingRate:   d.SamplingRate,
		Extension:      d.Extension,
		SummaryToken:   d.SummaryToken,
		SummaryColumns: append([]string(nil), d.SummaryColumns...),
		Roles:          append([]harvest.RoleSpec(nil), d.Roles...),
		Layout:         layout,
		StackSegments:  d.StackSegments,
		Missing:        missing,
		ParallelRoles:  d.ParallelRoles,
	}, nil
}

// LoadConfig loads configuration from the global viper instance
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(viper.GetViper())
}

// LoadConfigFrom loads configuration from v
func LoadConfigFrom(v *viper.Viper) (*Config, error) {
	config := &Config{}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	return config, nil
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	opts, err := config.Dataset.Options()
	if err != nil {
		return fmt.Errorf("invalid dataset configuration: %w", err)
	}

	if len(opts.Roles) == 0 {
		return fmt.Errorf("at least one dataset role must be configured")
	}

	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid dataset configuration: %w", err)
	}

	if _, err := harvest.NewClassifier(opts.Extension, opts.SummaryToken, opts.Roles); err != nil {
		return fmt.Errorf("invalid dataset roles: %w", err)
	}

	if _, err := ParseLogLevel(config.LogLevel); err != nil {
		return err
	}

	if config.Batch.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max concurrent runs must be positive")
	}

	if config.Spectral.WelchSegment < 0 {
		return fmt.Errorf("welch segment cannot be negative")
	}

	if config.Output.Precision < 0 {
		return fmt.Errorf("output precision cannot be negative")
	}

	return nil
}

// ParseLogLevel normalizes a log level name; empty means info
func ParseLogLevel(level string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "":
		return "info", nil
	case "debug", "info", "error":
		return l, nil
	case "warn", "warning":
		return "warn", nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}
