package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RyanBlaney/harvest-datapost/pkg/spectral"
	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/sourcegraph/conc/pool"
)

// Options configures the processing of one run folder
type Options struct {
	SamplingRate   float64
	Extension      string
	SummaryToken   string
	SummaryColumns []string
	Roles          []RoleSpec
	Layout         ChannelLayout
	StackSegments  bool
	Missing        MissingPolicy
	ParallelRoles  bool
	Naming         ColumnNaming
}

// DefaultOptions returns the parameters of the standard rig: 1 kHz sampling,
// an electromagnetic harvester on 288 Ω and a piezo (MFC) harvester on 36 kΩ.
func DefaultOptions() Options {
	return Options{
		SamplingRate:   1000,
		Extension:      ".txt",
		SummaryToken:   "summary",
		SummaryColumns: []string{"col_1", "col_2", "col_3", "col_1", "col_2", VDCColumn, "col_7"},
		Roles: []RoleSpec{
			{Name: "EH", Token: "EH", LoadResistance: 288},
			{Name: "MFC", Token: "MFC", LoadResistance: 36e3},
		},
		Layout:  LayoutTable,
		Missing: MissingInterpolate,
	}
}

// Validate checks the options for values that would make every run fail
func (o Options) Validate() error {
	if o.SamplingRate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %g", o.SamplingRate)
	}
	if len(o.SummaryColumns) == 0 {
		return fmt.Errorf("summary column layout is required")
	}
	hasVDC := false
	for _, c := range o.SummaryColumns {
		if strings.EqualFold(strings.TrimSpace(c), VDCColumn) {
			hasVDC = true
		}
	}
	if !hasVDC {
		return fmt.Errorf("summary column layout %v has no %q column", o.SummaryColumns, VDCColumn)
	}
	for _, role := range o.Roles {
		if role.LoadResistance <= 0 {
			return fmt.Errorf("role %s: load resistance must be positive, got %g", role.Name, role.LoadResistance)
		}
	}
	if _, err := ParseChannelLayout(string(o.Layout)); err != nil {
		return err
	}
	if _, err := ParseMissingPolicy(string(o.Missing)); err != nil {
		return err
	}
	return nil
}

// SeriesKind selects the voltage or power series of a repetition
type SeriesKind string

const (
	SeriesVoltage SeriesKind = "voltage"
	SeriesPower   SeriesKind = "power"
)

// RunResult is the outcome of processing one run folder
type RunResult struct {
	Folder       string                   `json:"folder"`
	Speeds       []SpeedSetting           `json:"speeds"`
	Roles        []string                 `json:"roles"`
	SampleCount  int                      `json:"sample_count"`
	SamplingRate float64                  `json:"sampling_rate"`
	Duration     float64                  `json:"duration_seconds"`
	Stats        map[string][]WindowStats `json:"window_stats"`
	Missing      map[string]map[Label]int `json:"missing_samples,omitempty"`
	Ignored      []string                 `json:"ignored_files,omitempty"`
}

// Dataset owns every table of one run folder
type Dataset struct {
	folder     string
	opts       Options
	src        *FileSource
	classifier *Classifier
	loader     *ChannelLoader
	reducer    *PowerReducer
	analyzer   *spectral.Analyzer
	logger     logging.Logger

	speeds []SpeedSetting
	labels []Label
	time   *TimeAxis
	tables map[string]*ChannelTable
	result *RunResult
}

// NewDataset prepares the processing of folder. Nothing is read until Process.
func NewDataset(folder string, src *FileSource, opts Options, logger logging.Logger) (*Dataset, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if src == nil {
		src = NewFileSource(nil)
	}
	if opts.Layout == "" {
		opts.Layout = LayoutTable
	}
	if opts.Missing == "" {
		opts.Missing = MissingInterpolate
	}
	if opts.Naming == nil {
		opts.Naming = DefaultNaming{}
	}
	if err := opts.Validate(); err != nil {
		return nil, NewError(KindInvalidInput, folder, "", "invalid run options", err)
	}

	classifier, err := NewClassifier(opts.Extension, opts.SummaryToken, opts.Roles)
	if err != nil {
		return nil, NewError(KindInvalidInput, folder, "", "invalid role set", err)
	}

	logger = logger.WithFields(logging.Fields{
		"component": "dataset",
		"folder":    folder,
	})

	return &Dataset{
		folder:     folder,
		opts:       opts,
		src:        src,
		classifier: classifier,
		loader: NewChannelLoader(src, classifier, LoaderOptions{
			Layout:  opts.Layout,
			Stack:   opts.StackSegments,
			Missing: opts.Missing,
			Naming:  opts.Naming,
		}, logger),
		reducer:  NewPowerReducer(opts.Naming),
		analyzer: spectral.NewAnalyzer(logger),
		logger:   logger,
		tables:   make(map[string]*ChannelTable, len(opts.Roles)),
	}, nil
}

// Folder returns the run folder
func (d *Dataset) Folder() string {
	return d.folder
}

// Process runs the whole pipeline: classify files, read speeds, load every
// role, build the shared time axis, derive power and extract window stats.
// A second call returns the first result.
func (d *Dataset) Process(ctx context.Context) (*RunResult, error) {
	if d.result != nil {
		return d.result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.logger.Debug("Processing run folder")

	names, err := d.src.List(d.folder)
	if err != nil {
		return nil, err
	}
	summary, channels, unknown := d.classifier.Group(names)
	if len(unknown) > 0 {
		d.logger.Debug("Ignoring unclassified files", logging.Fields{
			"files": unknown,
		})
	}

	switch {
	case len(summary) == 0:
		return nil, NewError(KindIncompleteRun, d.folder, "", "no summary file matches token "+d.opts.SummaryToken, nil)
	case len(summary) > 1:
		return nil, NewError(KindAmbiguousFile, d.folder, "",
			fmt.Sprintf("%d summary files: %s", len(summary), strings.Join(summary, ", ")), nil)
	}
	for _, role := range d.opts.Roles {
		if len(channels[role.Name]) == 0 {
			return nil, NewError(KindIncompleteRun, d.folder, role.Name, "no file matches role token "+role.Token, nil)
		}
	}

	speeds, err := LoadSpeedTable(d.src, d.folder, summary[0], d.opts.SummaryColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to load speed table of %s: %w", d.folder, err)
	}
	d.speeds = speeds
	d.labels = RepetitionLabels(speeds)

	tables, err := d.loadRoles(ctx, channels)
	if err != nil {
		return nil, err
	}

	// the first role in configured order fixes the run's time base
	first := tables[0]
	axis, err := BuildTimeAxis(first.SampleCount(), d.opts.SamplingRate)
	if err != nil {
		return nil, err
	}
	d.time = axis

	result := &RunResult{
		Folder:       d.folder,
		Speeds:       speeds,
		Roles:        make([]string, 0, len(tables)),
		SampleCount:  axis.Len(),
		SamplingRate: d.opts.SamplingRate,
		Duration:     axis.Duration(),
		Stats:        make(map[string][]WindowStats, len(tables)),
		Missing:      make(map[string]map[Label]int),
		Ignored:      unknown,
	}

	for i, table := range tables {
		role := d.opts.Roles[i]
		if err := table.AttachTimeAxis(axis); err != nil {
			return nil, err
		}
		if err := d.reducer.Reduce(table, role.LoadResistance); err != nil {
			return nil, err
		}
		stats, err := ExtractWindowStats(table, role.LoadResistance)
		if err != nil {
			return nil, err
		}

		d.tables[role.Name] = table
		result.Roles = append(result.Roles, role.Name)
		result.Stats[role.Name] = stats

		missing := table.MissingSamples()
		for label, n := range missing {
			if n > 0 {
				result.Missing[role.Name] = missing
				d.logger.Debug("Run has missing samples", logging.Fields{
					"role":       role.Name,
					"repetition": int(label),
					"missing":    n,
				})
			}
		}
	}
	if len(result.Missing) == 0 {
		result.Missing = nil
	}

	d.logger.Info("Run processed", logging.Fields{
		"repetitions":  len(d.labels),
		"roles":        len(result.Roles),
		"sample_count": result.SampleCount,
	})

	d.result = result
	return result, nil
}

// loadRoles loads one table per configured role, in role order. With parallel
// roles enabled the loads fork and join before anything depends on them.
func (d *Dataset) loadRoles(ctx context.Context, channels map[string][]string) ([]*ChannelTable, error) {
	roles := d.opts.Roles
	tables := make([]*ChannelTable, len(roles))
	errs := make([]error, len(roles))

	load := func(i int) error {
		role := roles[i]
		table, err := d.loader.LoadFiles(d.folder, role, channels[role.Name], d.labels)
		if err != nil {
			errs[i] = err
			return err
		}
		tables[i] = table
		return nil
	}

	if !d.opts.ParallelRoles || len(roles) < 2 {
		for i := range roles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := load(i); err != nil {
				return nil, err
			}
		}
		return tables, nil
	}

	p := pool.New().WithMaxGoroutines(len(roles)).WithContext(ctx)
	for i := range roles {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return load(i)
		})
	}
	waitErr := p.Wait()

	// report the failure of the earliest role so the error does not depend on scheduling
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return tables, nil
}

// Speeds returns the run's speed settings, in repetition order
func (d *Dataset) Speeds() []SpeedSetting {
	return d.speeds
}

// Labels returns the repetition labels 1..R
func (d *Dataset) Labels() []Label {
	return d.labels
}

// TimeAxis returns the time axis shared by every table of the run
func (d *Dataset) TimeAxis() *TimeAxis {
	return d.time
}

// Table returns the processed table of a role
func (d *Dataset) Table(role string) (*ChannelTable, bool) {
	t, ok := d.tables[role]
	return t, ok
}

// Spectrum analyzes the voltage or power series of one repetition of a role
func (d *Dataset) Spectrum(role string, label Label, kind SeriesKind) (*spectral.Result, error) {
	series, err := d.series(role, label, kind)
	if err != nil {
		return nil, err
	}
	result, err := d.analyzer.Analyze(1/d.opts.SamplingRate, series)
	if err != nil {
		return nil, d.spectralError(role, err)
	}
	return result, nil
}

// Welch estimates the power spectral density of one repetition of a role
func (d *Dataset) Welch(role string, label Label, kind SeriesKind, segment int) (*spectral.WelchResult, error) {
	series, err := d.series(role, label, kind)
	if err != nil {
		return nil, err
	}
	result, err := d.analyzer.Welch(1/d.opts.SamplingRate, series, segment)
	if err != nil {
		return nil, d.spectralError(role, err)
	}
	return result, nil
}

func (d *Dataset) series(role string, label Label, kind SeriesKind) ([]float64, error) {
	if d.result == nil {
		return nil, NewError(KindInvalidInput, d.folder, role, "run has not been processed", nil)
	}
	table, ok := d.tables[role]
	if !ok {
		return nil, NewError(KindInvalidInput, d.folder, role, "unknown role", nil)
	}

	var (
		series []float64
		found  bool
	)
	switch kind {
	case SeriesVoltage, "":
		series, found = table.Voltage(label)
	case SeriesPower:
		series, found = table.Power(label)
	default:
		return nil, NewError(KindInvalidInput, d.folder, role, fmt.Sprintf("unknown series kind %q", kind), nil)
	}
	if !found {
		return nil, NewError(KindInvalidInput, d.folder, role, fmt.Sprintf("no repetition %s", label), nil)
	}
	return series, nil
}

func (d *Dataset) spectralError(role string, err error) error {
	if errors.Is(err, spectral.ErrInvalidInput) {
		return NewError(KindInvalidInput, d.folder, role, "spectral analysis failed", err)
	}
	return err
}
