package configs

import (
	"os"
	"path/filepath"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/viper"
)

// SetDefaults registers default values for every configuration key on v
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	// Application defaults
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("output_format", "table")
	v.SetDefault("config_dir", filepath.Join(home, ".config", "harvest-datapost"))

	setDatasetDefaults(v)

	// Batch defaults
	v.SetDefault("batch.max_concurrent_runs", 1)
	v.SetDefault("batch.fail_fast", false)

	// Spectral defaults
	v.SetDefault("spectral.welch_segment", 256)

	// Output defaults
	output := GetDefaultOutputConfig()
	v.SetDefault("output.precision", output.Precision)
	v.SetDefault("output.include_metadata", output.IncludeMetadata)
	v.SetDefault("output.timestamps", output.Timestamps)
	v.SetDefault("output.file", output.File)
	v.SetDefault("output.parquet_file", output.ParquetFile)
	v.SetDefault("output.parquet_compression", output.ParquetCompression)
}

// setDatasetDefaults registers the standard rig layout
func setDatasetDefaults(v *viper.Viper) {
	dataset := GetDefaultDatasetConfig()

	v.SetDefault("dataset.sampling_rate", dataset.SamplingRate)
	v.SetDefault("dataset.extension", dataset.Extension)
	v.SetDefault("dataset.summary_token", dataset.SummaryToken)
	v.SetDefault("dataset.summary_columns", dataset.SummaryColumns)
	v.SetDefault("dataset.channel_layout", dataset.ChannelLayout)
	v.SetDefault("dataset.stack_segments", dataset.StackSegments)
	v.SetDefault("dataset.missing_samples", dataset.MissingSamples)
	v.SetDefault("dataset.parallel_roles", dataset.ParallelRoles)

	// roles are kept as plain maps so config files and env overrides decode the same way
	roles := make([]map[string]any, len(dataset.Roles))
	for i, role := range dataset.Roles {
		roles[i] = map[string]any{
			"name":            role.Name,
			"token":           role.Token,
			"load_resistance": role.LoadResistance,
		}
	}
	v.SetDefault("dataset.roles", roles)
}

// GetDefaultConfig returns a Config struct with all default values set
func GetDefaultConfig() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		// Application settings defaults
		Verbose:      false,
		LogLevel:     "info",
		OutputFormat: "table",
		ConfigDir:    filepath.Join(home, ".config", "harvest-datapost"),

		Dataset:  GetDefaultDatasetConfig(),
		Batch:    GetDefaultBatchConfig(),
		Spectral: GetDefaultSpectralConfig(),
		Output:   GetDefaultOutputConfig(),
	}
}

// GetDefaultDatasetConfig returns the layout of the standard rig: 1 kHz
// sampling, one table file per harvester and the seven column summary file.
func GetDefaultDatasetConfig() DatasetConfig {
	opts := harvest.DefaultOptions()
	return DatasetConfig{
		SamplingRate:   opts.SamplingRate,
		Extension:      opts.Extension,
		SummaryToken:   opts.SummaryToken,
		SummaryColumns: opts.SummaryColumns,
		ChannelLayout:  string(opts.Layout),
		StackSegments:  opts.StackSegments,
		MissingSamples: string(opts.Missing),
		ParallelRoles:  opts.ParallelRoles,
		Roles:          opts.Roles,
	}
}

// SegmentedCaptureDatasetConfig returns settings for rigs that write one
// single-series file per repetition and role
func SegmentedCaptureDatasetConfig() DatasetConfig {
	base := GetDefaultDatasetConfig()
	base.ChannelLayout = string(harvest.LayoutPerRepetition)
	base.MissingSamples = string(harvest.MissingReject)
	return base
}

// GetDefaultBatchConfig returns default multi-run settings
func GetDefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrentRuns: 1,
		FailFast:          false,
	}
}

// GetDefaultSpectralConfig returns default spectral settings
func GetDefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{
		WelchSegment: 256,
	}
}

// GetDefaultOutputConfig returns default output formatting settings
func GetDefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Precision:          4,
		IncludeMetadata:    true,
		Timestamps:         true,
		ParquetCompression: "snappy",
	}
}

// GetDefaultOutputConfigForFormat returns output config optimized for specific format
func GetDefaultOutputConfigForFormat(format string) OutputConfig {
	base := GetDefaultOutputConfig()

	switch format {
	case "json", "yaml":
		base.Precision = 9
	case "csv":
		base.IncludeMetadata = false
		base.Timestamps = false
	case "table":
		base.Precision = 3
	default:
		// Keep defaults
	}

	return base
}
