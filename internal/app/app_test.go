package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/RyanBlaney/harvest-datapost/configs"
	"github.com/RyanBlaney/harvest-datapost/pkg/export"
	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mfcProfile = `dataset:
  roles:
    - name: MFC
      token: MFC
      load_resistance: 100
`

// writeRun writes a run folder with one MFC table; column c holds gen(c, i)
func writeRun(t *testing.T, fs afero.Fs, folder string, samples int, vdc []float64, gen func(c, i int) float64) {
	t.Helper()

	var summary strings.Builder
	for i, v := range vdc {
		fmt.Fprintf(&summary, "%d\t0\t0\t%d\t0\t%g\t0\n", i+1, i+1, v)
	}
	require.NoError(t, afero.WriteFile(fs, folder+"/run_summary.txt", []byte(summary.String()), 0o644))

	var table strings.Builder
	for i := range samples {
		fields := make([]string, len(vdc))
		for c := range vdc {
			fields[c] = fmt.Sprintf("%g", gen(c, i))
		}
		table.WriteString(strings.Join(fields, "\t") + "\n")
	}
	require.NoError(t, afero.WriteFile(fs, folder+"/voltage_MFC_ts.txt", []byte(table.String()), 0o644))
}

func newTestApp(t *testing.T, fs afero.Fs, ctx *Context) (*HarvestApp, *bytes.Buffer) {
	t.Helper()

	require.NoError(t, afero.WriteFile(fs, "profile.yaml", []byte(mfcProfile), 0o644))

	out := &bytes.Buffer{}
	ctx.Fs = fs
	ctx.Out = out
	ctx.ConfigFile = "profile.yaml"
	if ctx.OutputFormat == "" {
		ctx.OutputFormat = "json"
	}

	app, err := NewHarvestApp(ctx)
	require.NoError(t, err)
	return app, out
}

func TestRunReportsAndExports(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 100, []float64{1, 2}, func(c, i int) float64 { return float64(10 * (c + 1)) })
	require.NoError(t, fs.MkdirAll("runs/empty", 0o755))

	app, out := newTestApp(t, fs, &Context{
		Folders:          []string{"runs/a", "runs/empty"},
		ParquetFile:      "out/stats.parquet",
		DetailedAnalysis: true,
	})

	require.NoError(t, app.Run(context.Background()))

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Contains(t, report, "role_metrics")
	assert.Contains(t, report, "reliability_metrics")

	summary, ok := report["batch_summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, summary["successful_runs"])
	assert.EqualValues(t, 1, summary["failed_runs"])

	runs, ok := summary["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 2)
	failed := runs[1].(map[string]any)
	assert.Equal(t, string(harvest.KindIncompleteRun), failed["error_kind"])

	f, err := fs.Open("out/stats.parquet")
	require.NoError(t, err)
	defer f.Close()

	rows, err := export.ReadWindowStats(f)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MFC", rows[0].Role)
	assert.InDelta(t, 10/math.Sqrt2, rows[0].MaxVoltage, 1e-9)
	assert.InDelta(t, 50.0/100, rows[0].MaxPower, 1e-9)
	assert.InDelta(t, 200.0/100, rows[1].MaxPower, 1e-9)
}

func TestRunFailsWhenEveryRunFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("runs/empty", 0o755))

	app, _ := newTestApp(t, fs, &Context{Folders: []string{"runs/empty"}})

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all runs failed")
	assert.ErrorIs(t, err, harvest.ErrIncompleteRun)
}

func TestRunRequiresFolders(t *testing.T) {
	app, _ := newTestApp(t, afero.NewMemMapFs(), &Context{})
	assert.Error(t, app.Run(context.Background()))
}

func TestRunWritesOutputFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 20, []float64{1}, func(c, i int) float64 { return 1 })

	app, out := newTestApp(t, fs, &Context{
		Folders:    []string{"runs/a"},
		OutputFile: "reports/a.json",
	})
	require.NoError(t, app.Run(context.Background()))

	assert.Zero(t, out.Len())
	data, err := afero.ReadFile(fs, "reports/a.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch_summary")
}

func TestSpectrumPeak(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 1000, []float64{1}, func(c, i int) float64 {
		return 2 * math.Sin(2*math.Pi*50*float64(i)/1000)
	})

	app, out := newTestApp(t, fs, &Context{Folders: []string{"runs/a"}})
	require.NoError(t, app.Spectrum(context.Background(), SpectrumRequest{
		Folder:     "runs/a",
		Role:       "MFC",
		Repetition: 1,
	}))

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "MFC", report["role"])
	assert.Equal(t, "voltage", report["series"])
	assert.InDelta(t, 50.0, report["peak_frequency"], 1e-9)
	assert.Contains(t, report, "top_bins")
}

func TestSpectrumWelch(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 1000, []float64{1}, func(c, i int) float64 {
		return math.Sin(2 * math.Pi * 100 * float64(i) / 1000)
	})

	app, out := newTestApp(t, fs, &Context{Folders: []string{"runs/a"}})
	require.NoError(t, app.Spectrum(context.Background(), SpectrumRequest{
		Folder:     "runs/a",
		Role:       "MFC",
		Repetition: 1,
		Kind:       harvest.SeriesPower,
		Welch:      true,
	}))

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.EqualValues(t, 256, report["segment"])
	assert.Equal(t, "power", report["series"])
}

func TestSpectrumUnknownRole(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 100, []float64{1}, func(c, i int) float64 { return 1 })

	app, _ := newTestApp(t, fs, &Context{Folders: []string{"runs/a"}})
	err := app.Spectrum(context.Background(), SpectrumRequest{Folder: "runs/a", Role: "EH", Repetition: 1})
	assert.ErrorIs(t, err, harvest.ErrInvalidInput)
}

func TestProfileOverlayAndFlags(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "p.json", []byte(`{"dataset": {"sampling_rate": 500}, "batch": {"fail_fast": true}}`), 0o644))

	base := configs.GetDefaultConfig()
	config, err := loadProfileFromFile(fs, "p.json", base)
	require.NoError(t, err)

	assert.Equal(t, 500.0, config.Dataset.SamplingRate)
	assert.True(t, config.Batch.FailFast)
	assert.Equal(t, base.Dataset.Roles, config.Dataset.Roles)
	assert.Equal(t, 1000.0, base.Dataset.SamplingRate)

	config = mergeConfig(config, &Context{SamplingRate: 2000, MaxConcurrent: 3, ChannelLayout: "per_repetition"})
	assert.Equal(t, 2000.0, config.Dataset.SamplingRate)
	assert.Equal(t, 3, config.Batch.MaxConcurrentRuns)
	assert.Equal(t, "per_repetition", config.Dataset.ChannelLayout)

	_, err = loadProfileFromFile(fs, "missing.yaml", base)
	assert.Error(t, err)
}

func TestGenerateExampleConfigValidates(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, GenerateExampleConfig(fs, "etc/harvest.yaml", ""))

	config, err := ValidateConfigFile(fs, "etc/harvest.yaml")
	require.NoError(t, err)
	assert.Equal(t, configs.GetDefaultDatasetConfig().Roles, config.Dataset.Roles)

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("dataset:\n  channel_layout: columns\n"), 0o644))
	_, err = ValidateConfigFile(fs, "bad.yaml")
	assert.Error(t, err)
}

func TestGenerateExampleConfigPerRepetition(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, GenerateExampleConfig(fs, "etc/segmented.yaml", "per_repetition"))

	config, err := ValidateConfigFile(fs, "etc/segmented.yaml")
	require.NoError(t, err)
	assert.Equal(t, configs.SegmentedCaptureDatasetConfig(), config.Dataset)

	assert.Error(t, GenerateExampleConfig(fs, "etc/other.yaml", "columns"))
	exists, err := afero.Exists(fs, "etc/other.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProfileOutputFormatSurvivesWithoutFlag(t *testing.T) {
	fs := afero.NewMemMapFs()
	profile := mfcProfile + "output_format: yaml\nlog_level: debug\n"
	require.NoError(t, afero.WriteFile(fs, "p.yaml", []byte(profile), 0o644))

	app, err := NewHarvestApp(&Context{Fs: fs, Out: &bytes.Buffer{}, ConfigFile: "p.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "yaml", app.Config().OutputFormat)
	assert.Equal(t, "debug", app.Config().LogLevel)

	app, err = NewHarvestApp(&Context{Fs: fs, Out: &bytes.Buffer{}, ConfigFile: "p.yaml", OutputFormat: "csv", LogLevel: "error"})
	require.NoError(t, err)
	assert.Equal(t, "csv", app.Config().OutputFormat)
	assert.Equal(t, "error", app.Config().LogLevel)
}

func TestInvalidLogLevelIsRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "p.yaml", []byte(mfcProfile+"log_level: chatty\n"), 0o644))

	_, err := NewHarvestApp(&Context{Fs: fs, Out: &bytes.Buffer{}, ConfigFile: "p.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestFormatFlagRetunesOutputDefaults(t *testing.T) {
	config := mergeConfig(configs.GetDefaultConfig(), &Context{OutputFormat: "json"})
	assert.Equal(t, "json", config.OutputFormat)
	assert.Equal(t, 9, config.Output.Precision)

	config = mergeConfig(configs.GetDefaultConfig(), &Context{OutputFormat: "csv"})
	assert.False(t, config.Output.Timestamps)
	assert.False(t, config.Output.IncludeMetadata)

	custom := configs.GetDefaultConfig()
	custom.Output.Precision = 6
	config = mergeConfig(custom, &Context{OutputFormat: "json"})
	assert.Equal(t, 6, config.Output.Precision)

	// same format as configured leaves the output settings alone
	config = mergeConfig(configs.GetDefaultConfig(), &Context{OutputFormat: "table"})
	assert.Equal(t, configs.GetDefaultOutputConfig(), config.Output)
}

func TestRunMetricsWithUnwritableLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRun(t, fs, "runs/a", 20, []float64{1}, func(c, i int) float64 { return 1 })

	app, _ := newTestApp(t, fs, &Context{
		Folders:    []string{"runs/a"},
		MetricsLog: "/nonexistent-harvest-dir/sub/metrics.log",
	})
	assert.NotPanics(t, func() {
		assert.NoError(t, app.Run(context.Background()))
	})
}

func TestSanitizeForJSON(t *testing.T) {
	type row struct {
		Value  float64 `json:"value"`
		Hidden string  `json:"-"`
		Name   string
	}

	clean := sanitizeForJSON(map[string]any{
		"nan":  math.NaN(),
		"list": []float64{1, math.Inf(1)},
		"row":  row{Value: math.Inf(-1), Hidden: "x", Name: "n"},
	}).(map[string]any)

	assert.Equal(t, 0.0, clean["nan"])
	assert.Equal(t, []float64{1, 0}, clean["list"])
	assert.Equal(t, map[string]any{"value": 0.0, "Name": "n"}, clean["row"])
}

func TestRoundKeepsSignificantDigits(t *testing.T) {
	app := &HarvestApp{config: configs.GetDefaultConfig()}

	assert.Equal(t, 1.235, app.round(1.23456))
	assert.Equal(t, 2.346e-6, app.round(2.34567e-6))
	assert.True(t, math.IsNaN(app.round(math.NaN())))

	app.config.Output.Precision = 0
	assert.Equal(t, 1.23456, app.round(1.23456))
}
