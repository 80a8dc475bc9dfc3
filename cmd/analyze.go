package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RyanBlaney/harvest-datapost/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	analyzeProfile       string
	analyzeOutputFile    string
	analyzeParquetFile   string
	analyzeMetricsLog    string
	analyzeSamplingRate  float64
	analyzeLayout        string
	analyzeMissing       string
	analyzeMaxConcurrent int
	analyzeStack         bool
	analyzeParallelRoles bool
	analyzeFailFast      bool
	analyzeDetailed      bool
	analyzeQuiet         bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [flags] <run-folder>...",
	Short: "Process run folders and report steady-state statistics",
	Long: `Process one or more run folders. For every repetition and transducer the
command reports the steady-state extremes of voltage and power over the last
10% of the recording.

Examples:
  # Process a single run with the standard rig layout
  harvest-datapost analyze ./runs/2024-03-12

  # Process every run of a campaign, four at a time, and export window statistics
  harvest-datapost analyze --max-concurrent 4 --parquet stats.parquet ./runs/*

  # Rigs recording one file per repetition
  harvest-datapost analyze --layout per_repetition --missing reject ./runs/seg-01

  # Cross-run statistics per drive frequency as JSON
  harvest-datapost analyze --detailed -o json ./runs/*`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeProfile, "profile", "",
		"analysis profile (yaml or json) overlaid on the configuration")
	analyzeCmd.Flags().StringVar(&analyzeOutputFile, "output-file", "",
		"write the report to a file instead of stdout")
	analyzeCmd.Flags().StringVar(&analyzeParquetFile, "parquet", "",
		"export window statistics to a parquet file")
	analyzeCmd.Flags().StringVar(&analyzeMetricsLog, "metrics-log", "",
		"emit run metrics to this log file")
	analyzeCmd.Flags().Float64Var(&analyzeSamplingRate, "sampling-rate", 0,
		"sampling rate in Hz (default from config, 1000)")
	analyzeCmd.Flags().StringVar(&analyzeLayout, "layout", "",
		"channel file layout (table, per_repetition)")
	analyzeCmd.Flags().StringVar(&analyzeMissing, "missing", "",
		"missing sample policy (interpolate, reject, propagate)")
	analyzeCmd.Flags().IntVar(&analyzeMaxConcurrent, "max-concurrent", 0,
		"number of run folders processed at once")
	analyzeCmd.Flags().BoolVar(&analyzeStack, "stack-segments", false,
		"concatenate several table files of one role in name order")
	analyzeCmd.Flags().BoolVar(&analyzeParallelRoles, "parallel-roles", false,
		"load the roles of a run concurrently")
	analyzeCmd.Flags().BoolVar(&analyzeFailFast, "fail-fast", false,
		"stop scheduling runs after the first failure")
	analyzeCmd.Flags().BoolVar(&analyzeDetailed, "detailed", false,
		"add cross-run role and reliability metrics")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false,
		"suppress the report on stdout")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	harvestApp, err := app.NewHarvestApp(&app.Context{
		ConfigFile:       analyzeProfile,
		Folders:          args,
		OutputFile:       analyzeOutputFile,
		OutputFormat:     explicitFlag(cmd, "output"),
		LogLevel:         explicitFlag(cmd, "log-level"),
		ParquetFile:      analyzeParquetFile,
		MetricsLog:       analyzeMetricsLog,
		SamplingRate:     analyzeSamplingRate,
		ChannelLayout:    analyzeLayout,
		MissingSamples:   analyzeMissing,
		MaxConcurrent:    analyzeMaxConcurrent,
		StackSegments:    analyzeStack,
		ParallelRoles:    analyzeParallelRoles,
		FailFast:         analyzeFailFast,
		Verbose:          viper.GetBool("verbose"),
		Quiet:            analyzeQuiet,
		DetailedAnalysis: analyzeDetailed,
		Out:              cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := harvestApp.Run(ctx); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	return nil
}
