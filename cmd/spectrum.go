package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RyanBlaney/harvest-datapost/internal/app"
	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	spectrumProfile    string
	spectrumRole       string
	spectrumRepetition int
	spectrumPower      bool
	spectrumWelch      bool
	spectrumSegment    int
	spectrumOutputFile string
)

// spectrumCmd represents the spectrum command
var spectrumCmd = &cobra.Command{
	Use:   "spectrum [flags] <run-folder>",
	Short: "Compute the spectrum of one recording",
	Long: `Process a run folder and compute the single-sided amplitude spectrum and
the flat-top power spectrum of one repetition of one transducer. With --welch
a Welch power spectral density estimate is reported instead.

Examples:
  # Voltage spectrum of the third repetition of the electromagnetic harvester
  harvest-datapost spectrum --role EH --repetition 3 ./runs/2024-03-12

  # Welch estimate of the instantaneous MFC power, full bins as JSON
  harvest-datapost spectrum --role MFC --repetition 1 --power --welch -v -o json ./runs/2024-03-12`,
	Args: cobra.ExactArgs(1),
	RunE: runSpectrum,
}

func init() {
	rootCmd.AddCommand(spectrumCmd)

	spectrumCmd.Flags().StringVar(&spectrumProfile, "profile", "",
		"analysis profile (yaml or json) overlaid on the configuration")
	spectrumCmd.Flags().StringVar(&spectrumRole, "role", "",
		"transducer role (e.g. EH, MFC)")
	spectrumCmd.Flags().IntVar(&spectrumRepetition, "repetition", 1,
		"repetition number, starting at 1")
	spectrumCmd.Flags().BoolVar(&spectrumPower, "power", false,
		"analyze the instantaneous power instead of the voltage")
	spectrumCmd.Flags().BoolVar(&spectrumWelch, "welch", false,
		"report a Welch power spectral density estimate")
	spectrumCmd.Flags().IntVar(&spectrumSegment, "segment", 0,
		"Welch segment length (default from config, 256)")
	spectrumCmd.Flags().StringVar(&spectrumOutputFile, "output-file", "",
		"write the report to a file instead of stdout")

	spectrumCmd.MarkFlagRequired("role")
}

func runSpectrum(cmd *cobra.Command, args []string) error {
	if spectrumRepetition < 1 {
		return fmt.Errorf("repetition must be at least 1, got %d", spectrumRepetition)
	}

	harvestApp, err := app.NewHarvestApp(&app.Context{
		ConfigFile:   spectrumProfile,
		Folders:      args,
		OutputFile:   spectrumOutputFile,
		OutputFormat: explicitFlag(cmd, "output"),
		LogLevel:     explicitFlag(cmd, "log-level"),
		Verbose:      viper.GetBool("verbose"),
		Out:          cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	kind := harvest.SeriesVoltage
	if spectrumPower {
		kind = harvest.SeriesPower
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return harvestApp.Spectrum(ctx, app.SpectrumRequest{
		Folder:     args[0],
		Role:       spectrumRole,
		Repetition: spectrumRepetition,
		Kind:       kind,
		Welch:      spectrumWelch,
		Segment:    spectrumSegment,
	})
}
