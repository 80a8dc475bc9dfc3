package app

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/RyanBlaney/harvest-datapost/configs"
	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// loadProfileFromFile overlays an analysis profile file on base. Keys absent
// from the file keep their base values.
func loadProfileFromFile(fs afero.Fs, filePath string, base *configs.Config) (*configs.Config, error) {
	// Check if file exists
	if exists, err := afero.Exists(fs, filePath); err != nil || !exists {
		return nil, fmt.Errorf("configuration file does not exist: %s", filePath)
	}

	// Determine file format
	ext := filepath.Ext(filePath)
	switch ext {
	case ".yaml", ".yml":
		return loadProfileFromYAML(fs, filePath, base)
	case ".json":
		return loadProfileFromJSON(fs, filePath, base)
	default:
		// Try YAML first, then JSON
		if cfg, err := loadProfileFromYAML(fs, filePath, base); err == nil {
			return cfg, nil
		}
		return loadProfileFromJSON(fs, filePath, base)
	}
}

// loadProfileFromYAML loads a profile from a YAML file
func loadProfileFromYAML(fs afero.Fs, filePath string, base *configs.Config) (*configs.Config, error) {
	data, err := readConfigFile(fs, filePath)
	if err != nil {
		return nil, err
	}

	config := cloneConfig(base)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return config, nil
}

// loadProfileFromJSON loads a profile from a JSON file
func loadProfileFromJSON(fs afero.Fs, filePath string, base *configs.Config) (*configs.Config, error) {
	data, err := readConfigFile(fs, filePath)
	if err != nil {
		return nil, err
	}

	config := cloneConfig(base)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return config, nil
}

func readConfigFile(fs afero.Fs, filePath string) ([]byte, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// cloneConfig copies base so decoding a profile never mutates it
func cloneConfig(base *configs.Config) *configs.Config {
	if base == nil {
		return configs.GetDefaultConfig()
	}
	clone := *base
	clone.Dataset.SummaryColumns = append([]string(nil), base.Dataset.SummaryColumns...)
	clone.Dataset.Roles = append(clone.Dataset.Roles[:0:0], base.Dataset.Roles...)
	return &clone
}

// mergeConfig applies CLI flags on top of the file configuration
func mergeConfig(config *configs.Config, ctx *Context) *configs.Config {
	if ctx.SamplingRate > 0 {
		config.Dataset.SamplingRate = ctx.SamplingRate
	}
	if ctx.ChannelLayout != "" {
		config.Dataset.ChannelLayout = ctx.ChannelLayout
	}
	if ctx.MissingSamples != "" {
		config.Dataset.MissingSamples = ctx.MissingSamples
	}
	if ctx.StackSegments {
		config.Dataset.StackSegments = true
	}
	if ctx.ParallelRoles {
		config.Dataset.ParallelRoles = true
	}
	if ctx.MaxConcurrent > 0 {
		config.Batch.MaxConcurrentRuns = ctx.MaxConcurrent
	}
	if ctx.FailFast {
		config.Batch.FailFast = true
	}
	if ctx.OutputFormat != "" && ctx.OutputFormat != config.OutputFormat {
		config.OutputFormat = ctx.OutputFormat
		config.Output = applyFormatDefaults(config.Output, ctx.OutputFormat)
	}
	if ctx.OutputFile != "" {
		config.Output.File = ctx.OutputFile
	}
	if ctx.ParquetFile != "" {
		config.Output.ParquetFile = ctx.ParquetFile
	}
	if ctx.Verbose {
		config.Verbose = true
	}
	if ctx.LogLevel != "" {
		config.LogLevel = ctx.LogLevel
	}

	// Apply defaults the file may have zeroed
	if config.Batch.MaxConcurrentRuns == 0 {
		config.Batch.MaxConcurrentRuns = 1
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "table"
	}

	return config
}

// applyFormatDefaults retunes the output settings for format. Settings that
// differ from the generic defaults were chosen explicitly and are kept.
func applyFormatDefaults(current configs.OutputConfig, format string) configs.OutputConfig {
	generic := configs.GetDefaultOutputConfig()
	tuned := configs.GetDefaultOutputConfigForFormat(format)

	if current.Precision == generic.Precision {
		current.Precision = tuned.Precision
	}
	if current.IncludeMetadata == generic.IncludeMetadata {
		current.IncludeMetadata = tuned.IncludeMetadata
	}
	if current.Timestamps == generic.Timestamps {
		current.Timestamps = tuned.Timestamps
	}
	return current
}

// GenerateExampleConfig writes the default configuration as a YAML file. A
// per_repetition layout writes the segmented capture settings instead.
func GenerateExampleConfig(fs afero.Fs, outputFile, layout string) error {
	channelLayout, err := harvest.ParseChannelLayout(layout)
	if err != nil {
		return err
	}

	exampleConfig := configs.GetDefaultConfig()
	exampleConfig.ConfigDir = ""
	if channelLayout == harvest.LayoutPerRepetition {
		exampleConfig.Dataset = configs.SegmentedCaptureDatasetConfig()
	}

	data, err := yaml.Marshal(exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(outputFile)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := afero.WriteFile(fs, outputFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ValidateConfigFile loads a profile over the defaults and validates the result
func ValidateConfigFile(fs afero.Fs, configFile string) (*configs.Config, error) {
	config, err := loadProfileFromFile(fs, configFile, configs.GetDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config = mergeConfig(config, &Context{})
	if err := configs.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
