package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/RyanBlaney/harvest-datapost/configs"
	"github.com/RyanBlaney/harvest-datapost/internal/batch"
	"github.com/RyanBlaney/harvest-datapost/pkg/export"
	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/RyanBlaney/harvest-datapost/pkg/spectral"
	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/RyanBlaney/latency-benchmark-common/output"
	"github.com/spf13/afero"
	"github.com/tunein/go-logging/v7/pkg/logger"
	"github.com/tunein/go-logging/v7/pkg/logger/logtypes"
	"github.com/tunein/go-logging/v7/pkg/rootcollector"
	"github.com/tunein/go-logging/v7/pkg/rootlogger"
)

// Context holds the application context and configuration
type Context struct {
	// CLI arguments
	ConfigFile       string // Analysis profile overlaid on the base configuration (optional)
	Folders          []string
	OutputFile       string
	OutputFormat     string // set only when given on the command line
	LogLevel         string // set only when given on the command line
	ParquetFile      string
	MetricsLog       string // rootlogger output; empty disables run metrics
	SamplingRate     float64
	ChannelLayout    string
	MissingSamples   string
	MaxConcurrent    int
	StackSegments    bool
	ParallelRoles    bool
	FailFast         bool
	Verbose          bool
	Quiet            bool
	DetailedAnalysis bool

	// Runtime context
	Fs     afero.Fs
	Out    io.Writer
	Logger logging.Logger
	Config *configs.Config
}

// SpectrumRequest selects one series of one run folder
type SpectrumRequest struct {
	Folder     string
	Role       string
	Repetition int
	Kind       harvest.SeriesKind
	Welch      bool
	Segment    int
}

// HarvestApp handles the post-processing application lifecycle
type HarvestApp struct {
	ctx    *Context
	config *configs.Config
	logger logging.Logger
	fs     afero.Fs
	out    io.Writer
}

// NewHarvestApp creates a new application
func NewHarvestApp(ctx *Context) (*HarvestApp, error) {
	// Set up logging
	logger := setupLogging(ctx)
	ctx.Logger = logger

	if ctx.Fs == nil {
		ctx.Fs = afero.NewOsFs()
	}
	if ctx.Out == nil {
		ctx.Out = os.Stdout
	}

	// Load configuration
	config, err := loadAndMergeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx.Config = config
	applyLogLevel(logger, config.LogLevel)

	logger.Debug("Harvest application initialized", logging.Fields{
		"config_file":   ctx.ConfigFile,
		"output_format": config.OutputFormat,
		"folders":       len(ctx.Folders),
		"roles":         len(config.Dataset.Roles),
		"sampling_rate": config.Dataset.SamplingRate,
	})

	return &HarvestApp{
		ctx:    ctx,
		config: config,
		logger: logger,
		fs:     ctx.Fs,
		out:    ctx.Out,
	}, nil
}

// Config returns the effective configuration
func (app *HarvestApp) Config() *configs.Config {
	return app.config
}

// Run processes every run folder of the context and reports the batch
func (app *HarvestApp) Run(ctx context.Context) error {
	if len(app.ctx.Folders) == 0 {
		return fmt.Errorf("no run folders given")
	}

	opts, err := app.config.Dataset.Options()
	if err != nil {
		return fmt.Errorf("invalid dataset configuration: %w", err)
	}

	app.logger.Debug("Starting batch processing", logging.Fields{
		"folders":        len(app.ctx.Folders),
		"max_concurrent": app.config.Batch.MaxConcurrentRuns,
		"fail_fast":      app.config.Batch.FailFast,
	})

	orchestrator, err := batch.NewOrchestrator(batch.Config{
		Options:           opts,
		MaxConcurrentRuns: app.config.Batch.MaxConcurrentRuns,
		FailFast:          app.config.Batch.FailFast,
	}, harvest.NewFileSource(app.fs), app.logger)
	if err != nil {
		return fmt.Errorf("failed to create batch orchestrator: %w", err)
	}

	summary := orchestrator.Run(ctx, app.ctx.Folders)

	// Generate detailed analytics if requested
	var roleMetrics []*batch.RoleMetrics
	var reliabilityMetrics *batch.ReliabilityMetrics

	if app.ctx.DetailedAnalysis {
		app.logger.Debug("Generating detailed analytics")
		metricsCalculator := batch.NewMetricsCalculator(app.logger)
		roleMetrics = metricsCalculator.CalculateRoleMetrics(summary)
		reliabilityMetrics = metricsCalculator.CalculateReliabilityMetrics(summary)
	}

	if app.config.Output.ParquetFile != "" && summary.SuccessfulRuns > 0 {
		if err := app.exportParquet(summary); err != nil {
			return err
		}
	}

	// Output results
	if err := app.outputResults(summary, roleMetrics, reliabilityMetrics); err != nil {
		return fmt.Errorf("failed to output results: %w", err)
	}

	app.collectRunMetrics(summary)

	// Return error if all runs failed
	if summary.SuccessfulRuns == 0 {
		if summary.Err != nil {
			return fmt.Errorf("all runs failed: %w", summary.Err)
		}
		return fmt.Errorf("all runs failed")
	}

	return nil
}

// Spectrum processes one run folder and reports the spectrum of one series
func (app *HarvestApp) Spectrum(ctx context.Context, req SpectrumRequest) error {
	opts, err := app.config.Dataset.Options()
	if err != nil {
		return fmt.Errorf("invalid dataset configuration: %w", err)
	}

	dataset, err := harvest.NewDataset(req.Folder, harvest.NewFileSource(app.fs), opts, app.logger)
	if err != nil {
		return err
	}
	if _, err := dataset.Process(ctx); err != nil {
		return fmt.Errorf("failed to process %s: %w", req.Folder, err)
	}

	kind := req.Kind
	if kind == "" {
		kind = harvest.SeriesVoltage
	}
	label := harvest.Label(req.Repetition)

	var data map[string]any
	if req.Welch {
		segment := req.Segment
		if segment <= 0 {
			segment = app.config.Spectral.WelchSegment
		}
		result, err := dataset.Welch(req.Role, label, kind, segment)
		if err != nil {
			return err
		}
		data = app.cleanWelch(result)
	} else {
		result, err := dataset.Spectrum(req.Role, label, kind)
		if err != nil {
			return err
		}
		data = app.cleanSpectrum(result)
	}

	data["folder"] = req.Folder
	data["role"] = req.Role
	data["repetition"] = req.Repetition
	data["series"] = string(kind)

	return app.emit(data)
}

// setupLogging configures logging based on context
func setupLogging(ctx *Context) logging.Logger {
	if ctx.Logger != nil {
		return ctx.Logger
	}
	return logging.NewDefaultLogger()
}

// applyLogLevel sets the verbosity of logger; level was validated with the config
func applyLogLevel(logger logging.Logger, level string) {
	normalized, err := configs.ParseLogLevel(level)
	if err != nil {
		return
	}

	switch normalized {
	case "debug":
		logger.SetLevel(logging.DebugLevel)
	case "warn":
		logger.SetLevel(logging.WarnLevel)
	case "error":
		logger.SetLevel(logging.ErrorLevel)
	default:
		logger.SetLevel(logging.InfoLevel)
	}
}

// loadAndMergeConfig loads configuration from files and merges with CLI flags
func loadAndMergeConfig(ctx *Context) (*configs.Config, error) {
	// Load base configuration
	baseConfig, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load base configuration: %w", err)
	}
	if len(baseConfig.Dataset.Roles) == 0 && baseConfig.Dataset.SamplingRate == 0 {
		// viper had no defaults registered
		baseConfig = configs.GetDefaultConfig()
	}

	config := baseConfig
	if ctx.ConfigFile != "" {
		config, err = loadProfileFromFile(ctx.Fs, ctx.ConfigFile, baseConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load analysis profile: %w", err)
		}
		ctx.Logger.Debug("Loaded analysis profile", logging.Fields{
			"config_file": ctx.ConfigFile,
		})
	}

	config = mergeConfig(config, ctx)

	if err := configs.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// exportParquet writes one row per repetition and role of every successful run
func (app *HarvestApp) exportParquet(summary *batch.Summary) error {
	rows := export.Rows(summary.BatchID, summary.Results())
	path := app.config.Output.ParquetFile

	if err := export.WriteWindowStatsFile(app.fs, path, rows, app.config.Output.ParquetCompression); err != nil {
		return fmt.Errorf("failed to export window statistics: %w", err)
	}

	app.logger.Info("Window statistics exported", logging.Fields{
		"parquet_file": path,
		"rows":         len(rows),
		"compression":  app.config.Output.ParquetCompression,
	})
	return nil
}

// outputResults handles all result output
func (app *HarvestApp) outputResults(summary *batch.Summary, roles []*batch.RoleMetrics, reliability *batch.ReliabilityMetrics) error {
	// Create clean output structure (exclude raw series)
	outputData := map[string]any{
		"batch_summary": app.cleanBatchSummary(summary),
	}

	if app.config.Output.Timestamps {
		outputData["timestamp"] = time.Now()
	}
	if app.config.Output.IncludeMetadata {
		outputData["configuration"] = map[string]any{
			"sampling_rate":     app.config.Dataset.SamplingRate,
			"channel_layout":    app.config.Dataset.ChannelLayout,
			"missing_samples":   app.config.Dataset.MissingSamples,
			"parallel_roles":    app.config.Dataset.ParallelRoles,
			"detailed_analysis": app.ctx.DetailedAnalysis,
			"roles":             app.config.Dataset.Roles,
		}
	}

	// Add detailed metrics if available
	if roles != nil {
		outputData["role_metrics"] = roles
	}
	if reliability != nil {
		outputData["reliability_metrics"] = reliability
	}

	return app.emit(outputData)
}

// emit formats data and writes it to the output file or the app writer
func (app *HarvestApp) emit(outputData map[string]any) error {
	if app.ctx.Quiet && app.config.Output.File == "" {
		return nil
	}

	formatter := newFormatter(app.config.OutputFormat)

	// Format data
	formattedData, err := formatter.Format(outputData, true)
	if err != nil {
		// If JSON formatting fails due to infinite values, try to sanitize the data
		if strings.Contains(err.Error(), "unsupported value") {
			sanitizedData := sanitizeForJSON(outputData)
			formattedData, err = formatter.Format(sanitizedData, true)
		}
		if err != nil {
			return fmt.Errorf("failed to format output data: %w", err)
		}
	}

	// Write to file or the output writer
	if app.config.Output.File != "" {
		return app.writeToFile(formattedData)
	}

	_, err = app.out.Write(formattedData)
	return err
}

func newFormatter(format string) output.Formatter {
	switch format {
	case "json":
		return &output.JSONFormatter{}
	case "yaml":
		return &output.YAMLFormatter{}
	case "csv":
		return &output.CSVFormatter{}
	case "table":
		return &output.TableFormatter{}
	default:
		return &output.JSONFormatter{}
	}
}

// collectRunMetrics sends per-run metrics to rootcollector
func (app *HarvestApp) collectRunMetrics(summary *batch.Summary) {
	if summary == nil || app.ctx.MetricsLog == "" {
		return
	}

	err := rootlogger.Configure(logger.LogOptions{
		Out:          app.ctx.MetricsLog,
		ReopenSignal: syscall.SIGHUP,
		Level:        logtypes.InfoLevel,
	})
	if err != nil {
		app.logger.Error(err, "Failed configuring log writer")
		return
	}

	for _, run := range summary.Runs {
		status := "ok"
		switch {
		case run.Skipped:
			status = "skipped"
		case run.Error != nil:
			status = "failed"
		}

		baseTags := []string{
			"folder:" + filepath.Base(run.Folder),
			"status:" + status,
		}

		rootcollector.Metric("harvest.run.duration.milliseconds", run.Duration.Milliseconds(), baseTags)

		if run.Result == nil {
			continue
		}
		for _, role := range run.Result.Roles {
			app.sendRoleMetric(role, run.Result.Stats[role], baseTags)
		}
	}
}

// sendRoleMetric sends the peak steady-state power of one role
func (app *HarvestApp) sendRoleMetric(role string, stats []harvest.WindowStats, baseTags []string) {
	if len(stats) == 0 {
		return
	}

	peak := math.Inf(-1)
	for _, s := range stats {
		peak = math.Max(peak, s.MaxPower)
	}
	if math.IsInf(peak, 0) || math.IsNaN(peak) {
		return
	}

	// Convert to microwatts because int64
	peakMicroWatts := int64(peak * 1e6)

	tags := append(append([]string(nil), baseTags...), "role:"+role)
	rootcollector.Metric("harvest.power.max.microwatts", peakMicroWatts, tags)
}

// cleanBatchSummary drops raw series and rounds values for display
func (app *HarvestApp) cleanBatchSummary(summary *batch.Summary) map[string]any {
	cleanSummary := map[string]any{
		"batch_id":        summary.BatchID,
		"start_time":      summary.StartTime,
		"end_time":        summary.EndTime,
		"total_duration":  summary.TotalDuration.Seconds(),
		"successful_runs": summary.SuccessfulRuns,
		"failed_runs":     summary.FailedRuns,
		"skipped_runs":    summary.SkippedRuns,
	}

	runs := make([]map[string]any, 0, len(summary.Runs))
	for _, run := range summary.Runs {
		runs = append(runs, app.cleanRun(run))
	}
	cleanSummary["runs"] = runs

	return cleanSummary
}

func (app *HarvestApp) cleanRun(run *batch.RunMeasurement) map[string]any {
	clean := map[string]any{
		"folder":      run.Folder,
		"duration_ms": run.Duration.Milliseconds(),
	}

	if run.Skipped {
		clean["skipped"] = true
	}
	if run.Error != nil {
		clean["error"] = run.Error.Error()
		if run.ErrorKind != "" {
			clean["error_kind"] = string(run.ErrorKind)
		}
	}

	result := run.Result
	if result == nil {
		return clean
	}

	clean["sample_count"] = result.SampleCount
	clean["duration_seconds"] = app.round(result.Duration)
	clean["repetitions"] = len(result.Speeds)
	if len(result.Ignored) > 0 {
		clean["ignored_files"] = result.Ignored
	}

	speeds := make(map[harvest.Label]harvest.SpeedSetting, len(result.Speeds))
	for _, s := range result.Speeds {
		speeds[harvest.Label(s.Repetition)] = s
	}

	if app.config.Verbose {
		clean["speeds"] = result.Speeds
	}

	roles := make(map[string]any, len(result.Roles))
	for _, role := range result.Roles {
		windows := make([]map[string]any, 0, len(result.Stats[role]))
		for _, w := range result.Stats[role] {
			entry := map[string]any{
				"repetition":  int(w.Repetition),
				"hz":          speeds[w.Repetition].HzLabel(),
				"max_voltage": app.round(w.MaxVoltage),
				"max_power":   app.round(w.MaxPower),
				"mean_power":  app.round(w.MeanPower),
			}
			if app.config.Verbose {
				entry["vdc"] = speeds[w.Repetition].VDC
				entry["min_voltage"] = app.round(w.MinVoltage)
				entry["min_power"] = app.round(w.MinPower)
				entry["window_start"] = w.Start
				entry["window_samples"] = w.Samples
			}
			if missing := result.Missing[role][w.Repetition]; missing > 0 {
				entry["missing_samples"] = missing
			}
			windows = append(windows, entry)
		}
		roles[role] = windows
	}
	clean["roles"] = roles

	return clean
}

func (app *HarvestApp) cleanSpectrum(result *spectral.Result) map[string]any {
	peakFrequency, peakPower := result.PeakPower()

	clean := map[string]any{
		"sample_rate":    result.SampleRate,
		"samples":        result.Samples,
		"peak_frequency": app.round(result.PeakFrequency()),
		"peak_power": map[string]any{
			"frequency": app.round(peakFrequency),
			"power":     peakPower,
		},
	}

	if app.config.Verbose {
		clean["amplitude_frequencies"] = result.AmplitudeFrequencies
		clean["magnitude"] = result.Magnitude
		clean["power_frequencies"] = result.PowerFrequencies
		clean["power"] = result.Power
	} else {
		clean["bins"] = len(result.Magnitude)
		clean["top_bins"] = app.topBins(result.AmplitudeFrequencies, result.Magnitude, 5)
	}

	return clean
}

func (app *HarvestApp) cleanWelch(result *spectral.WelchResult) map[string]any {
	clean := map[string]any{
		"sample_rate": result.SampleRate,
		"segment":     result.Segment,
	}

	if app.config.Verbose {
		clean["frequencies"] = result.Frequencies
		clean["density"] = result.Density
	} else {
		clean["bins"] = len(result.Density)
		clean["top_bins"] = app.topBins(result.Frequencies, result.Density, 5)
	}

	return clean
}

// topBins lists the n largest values, DC excluded, in descending order
func (app *HarvestApp) topBins(frequencies, values []float64, n int) []map[string]any {
	idx := make([]int, 0, len(values))
	for i := 1; i < len(values) && i < len(frequencies); i++ {
		if !math.IsNaN(values[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] > values[idx[b]]
	})
	if len(idx) > n {
		idx = idx[:n]
	}

	bins := make([]map[string]any, 0, len(idx))
	for _, i := range idx {
		bins = append(bins, map[string]any{
			"frequency": app.round(frequencies[i]),
			"value":     values[i],
		})
	}
	return bins
}

// round keeps the configured number of significant digits, so microwatt
// powers survive next to volt-scale values
func (app *HarvestApp) round(v float64) float64 {
	precision := app.config.Output.Precision
	if precision <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', precision, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}

// writeToFile writes data to the configured output file
func (app *HarvestApp) writeToFile(data []byte) error {
	path := app.config.Output.File

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := app.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if err := afero.WriteFile(app.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	app.logger.Debug("Results written to file", logging.Fields{
		"output_file": path,
		"size_bytes":  len(data),
	})

	return nil
}

// sanitizeForJSON recursively cleans infinite and NaN values from any data structure
func sanitizeForJSON(data any) any {
	switch v := data.(type) {
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0.0
		}
		return v
	case time.Time:
		return v
	case map[string]any:
		result := make(map[string]any)
		for k, val := range v {
			result[k] = sanitizeForJSON(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = sanitizeForJSON(val)
		}
		return result
	case []float64:
		result := make([]float64, len(v))
		for i, val := range v {
			if math.IsInf(val, 0) || math.IsNaN(val) {
				result[i] = 0.0
			} else {
				result[i] = val
			}
		}
		return result
	default:
		// Use reflection to handle structs and other complex types
		return sanitizeWithReflection(data)
	}
}

// sanitizeWithReflection uses reflection to sanitize struct fields
func sanitizeWithReflection(data any) any {
	if data == nil {
		return nil
	}

	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := val.Field(i)
			fieldType := typ.Field(i)

			// Skip unexported fields
			if !field.CanInterface() {
				continue
			}

			// Get JSON tag name or use field name
			jsonTag := fieldType.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}
			fieldName := fieldType.Name
			if jsonTag != "" {
				// Parse JSON tag (handle omitempty, etc.)
				parts := strings.Split(jsonTag, ",")
				if parts[0] != "" {
					fieldName = parts[0]
				}
			}

			result[fieldName] = sanitizeForJSON(field.Interface())
		}
		return result
	case reflect.Slice:
		if val.IsNil() {
			return nil
		}
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = sanitizeForJSON(val.Index(i).Interface())
		}
		return result
	case reflect.Map:
		result := make(map[string]any)
		for _, key := range val.MapKeys() {
			keyStr := fmt.Sprintf("%v", key.Interface())
			result[keyStr] = sanitizeForJSON(val.MapIndex(key).Interface())
		}
		return result
	case reflect.Float64, reflect.Float32:
		f := val.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0.0
		}
		return f
	default:
		return val.Interface()
	}
}
