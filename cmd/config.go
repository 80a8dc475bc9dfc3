package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/RyanBlaney/harvest-datapost/configs"
	"github.com/RyanBlaney/harvest-datapost/internal/app"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exampleLayout string

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect, generate and validate configuration",
	Long: `Inspect the effective configuration, write an example configuration file
or validate an analysis profile.

Examples:
  # Show every effective value
  harvest-datapost config show

  # Write the defaults as a starting point
  harvest-datapost config example ~/.config/harvest-datapost/harvest-datapost.yaml

  # Defaults for rigs writing one file per repetition
  harvest-datapost config example --layout per_repetition ./profiles/segmented.yaml

  # Check a profile before a long batch
  harvest-datapost config validate ./profiles/segmented.yaml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := configs.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		w := cmd.OutOrStdout()
		printConfig(w, config)
		if used := viper.ConfigFileUsed(); used != "" {
			printSection(w, "SOURCE")
			printKeyValue(w, "Config File", used)
		}
		return nil
	},
}

var configExampleCmd = &cobra.Command{
	Use:   "example <path>",
	Short: "Write the default configuration as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.GenerateExampleConfig(afero.NewOsFs(), args[0], exampleLayout); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <profile>",
	Short: "Validate an analysis profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := app.ValidateConfigFile(afero.NewOsFs(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "✅ %s is valid\n", args[0])
		printConfig(w, config)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configExampleCmd, configValidateCmd)

	configExampleCmd.Flags().StringVar(&exampleLayout, "layout", "table",
		"channel file layout of the example (table, per_repetition)")
}

func printConfig(w io.Writer, config *configs.Config) {
	printSection(w, "APPLICATION SETTINGS")
	printKeyValue(w, "Verbose", fmt.Sprintf("%t", config.Verbose))
	printKeyValue(w, "Log Level", config.LogLevel)
	printKeyValue(w, "Output Format", config.OutputFormat)
	printKeyValue(w, "Config Directory", config.ConfigDir)

	printSection(w, "DATASET")
	printKeyValue(w, "Sampling Rate", fmt.Sprintf("%g Hz", config.Dataset.SamplingRate))
	printKeyValue(w, "Extension", config.Dataset.Extension)
	printKeyValue(w, "Summary Token", config.Dataset.SummaryToken)
	printKeyValue(w, "Summary Columns", strings.Join(config.Dataset.SummaryColumns, ", "))
	printKeyValue(w, "Channel Layout", config.Dataset.ChannelLayout)
	printKeyValue(w, "Stack Segments", fmt.Sprintf("%t", config.Dataset.StackSegments))
	printKeyValue(w, "Missing Samples", config.Dataset.MissingSamples)
	printKeyValue(w, "Parallel Roles", fmt.Sprintf("%t", config.Dataset.ParallelRoles))
	printSubsection(w, fmt.Sprintf("Roles (%d)", len(config.Dataset.Roles)))
	for _, role := range config.Dataset.Roles {
		printKeyValue(w, "  "+role.Name, fmt.Sprintf("token %q, load %g Ω", role.Token, role.LoadResistance))
	}

	printSection(w, "BATCH")
	printKeyValue(w, "Max Concurrent Runs", fmt.Sprintf("%d", config.Batch.MaxConcurrentRuns))
	printKeyValue(w, "Fail Fast", fmt.Sprintf("%t", config.Batch.FailFast))

	printSection(w, "SPECTRAL")
	printKeyValue(w, "Welch Segment", fmt.Sprintf("%d", config.Spectral.WelchSegment))

	printSection(w, "OUTPUT")
	printKeyValue(w, "Precision", fmt.Sprintf("%d", config.Output.Precision))
	printKeyValue(w, "Include Metadata", fmt.Sprintf("%t", config.Output.IncludeMetadata))
	printKeyValue(w, "Timestamps", fmt.Sprintf("%t", config.Output.Timestamps))
	printKeyValue(w, "File", config.Output.File)
	printKeyValue(w, "Parquet File", config.Output.ParquetFile)
	printKeyValue(w, "Parquet Compression", config.Output.ParquetCompression)
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", title)
	fmt.Fprintln(w, strings.Repeat("-", len(title)))
}

func printSubsection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n  %s\n", title)
}

func printKeyValue(w io.Writer, key, value string) {
	if value == "" {
		fmt.Fprintf(w, "%-35s\n", key)
	} else {
		fmt.Fprintf(w, "%-35s %s\n", key+":", value)
	}
}
