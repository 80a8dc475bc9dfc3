package harvest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
)

// Label identifies a repetition within a run (1-based, in summary row order)
type Label int

func (l Label) String() string {
	return strconv.Itoa(int(l))
}

// ColumnKind distinguishes raw and derived columns
type ColumnKind string

const (
	ColumnVoltage ColumnKind = "voltage"
	ColumnPower   ColumnKind = "power"
)

// Column is one named sequence of a channel table
type Column struct {
	Name    string     `json:"name"`
	Label   Label      `json:"label"`
	Kind    ColumnKind `json:"kind"`
	Source  string     `json:"source,omitempty"` // voltage column a derived column comes from
	Values  []float64  `json:"-"`
	Missing int        `json:"missing"` // samples filled or left NaN by the missing sample policy
}

// ColumnNaming names the columns of a channel table
type ColumnNaming interface {
	VoltageColumn(label Label) string
	PowerColumn(voltageColumn string, label Label) string
}

// DefaultNaming produces "voltage_3(V)" and "power_3(W)"
type DefaultNaming struct{}

func (DefaultNaming) VoltageColumn(label Label) string {
	return "voltage_" + label.String() + "(V)"
}

func (DefaultNaming) PowerColumn(voltageColumn string, label Label) string {
	if strings.HasPrefix(voltageColumn, "voltage_") {
		name := "power_" + strings.TrimPrefix(voltageColumn, "voltage_")
		return strings.TrimSuffix(name, "(V)") + "(W)"
	}
	return voltageColumn + "_power(W)"
}

// ChannelTable holds the per-repetition columns of one transducer role
type ChannelTable struct {
	Role   string   `json:"role"`
	Labels []Label  `json:"labels"`
	Files  []string `json:"files"`

	time    *TimeAxis
	columns map[string]*Column
	voltage map[Label]string
	power   map[Label]string
	samples int
}

func newChannelTable(role string, labels []Label) *ChannelTable {
	return &ChannelTable{
		Role:    role,
		Labels:  append([]Label(nil), labels...),
		columns: make(map[string]*Column),
		voltage: make(map[Label]string, len(labels)),
		power:   make(map[Label]string, len(labels)),
		samples: -1,
	}
}

// NewChannelTable builds a table from voltage columns given in label order
func NewChannelTable(role string, labels []Label, voltages [][]float64, naming ColumnNaming) (*ChannelTable, error) {
	if len(voltages) != len(labels) {
		return nil, NewError(KindIncompleteRun, "", role,
			fmt.Sprintf("%d voltage columns for %d repetitions", len(voltages), len(labels)), nil)
	}
	if naming == nil {
		naming = DefaultNaming{}
	}

	table := newChannelTable(role, labels)
	for i, label := range labels {
		if err := table.addVoltage(naming.VoltageColumn(label), label, voltages[i], 0); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (t *ChannelTable) addVoltage(name string, label Label, values []float64, missing int) error {
	if t.samples >= 0 && len(values) != t.samples {
		return NewError(KindFormat, "", t.Role,
			fmt.Sprintf("repetition %s has %d samples, expected %d", label, len(values), t.samples), nil)
	}
	if _, exists := t.columns[name]; exists {
		return NewError(KindFormat, "", t.Role, fmt.Sprintf("duplicate column %q", name), nil)
	}
	t.samples = len(values)
	t.columns[name] = &Column{
		Name:    name,
		Label:   label,
		Kind:    ColumnVoltage,
		Values:  values,
		Missing: missing,
	}
	t.voltage[label] = name
	return nil
}

// setPower stores (or replaces) the power column derived from label's voltage column
func (t *ChannelTable) setPower(name string, label Label, values []float64) {
	if old, ok := t.power[label]; ok && old != name {
		delete(t.columns, old)
	}
	t.columns[name] = &Column{
		Name:   name,
		Label:  label,
		Kind:   ColumnPower,
		Source: t.voltage[label],
		Values: values,
	}
	t.power[label] = name
}

// SampleCount returns the number of samples per column (0 for an empty table)
func (t *ChannelTable) SampleCount() int {
	if t.samples < 0 {
		return 0
	}
	return t.samples
}

// Voltage returns the voltage samples of a repetition
func (t *ChannelTable) Voltage(label Label) ([]float64, bool) {
	return t.values(t.voltage, label)
}

// Power returns the derived power samples of a repetition
func (t *ChannelTable) Power(label Label) ([]float64, bool) {
	return t.values(t.power, label)
}

func (t *ChannelTable) values(index map[Label]string, label Label) ([]float64, bool) {
	name, ok := index[label]
	if !ok {
		return nil, false
	}
	return t.columns[name].Values, true
}

// Column returns a column by name
func (t *ChannelTable) Column(name string) (*Column, bool) {
	c, ok := t.columns[name]
	return c, ok
}

// Columns returns voltage columns in label order followed by power columns in label order
func (t *ChannelTable) Columns() []*Column {
	out := make([]*Column, 0, len(t.columns))
	for _, index := range []map[Label]string{t.voltage, t.power} {
		for _, label := range t.Labels {
			if name, ok := index[label]; ok {
				out = append(out, t.columns[name])
			}
		}
	}
	return out
}

// MissingSamples returns the number of samples filled (or left missing) per repetition
func (t *ChannelTable) MissingSamples() map[Label]int {
	out := make(map[Label]int, len(t.voltage))
	for label, name := range t.voltage {
		out[label] = t.columns[name].Missing
	}
	return out
}

// TimeAxis returns the run's shared time axis, nil until attached
func (t *ChannelTable) TimeAxis() *TimeAxis {
	return t.time
}

// AttachTimeAxis shares a run time axis with this table. The axis must have
// exactly one point per sample.
func (t *ChannelTable) AttachTimeAxis(axis *TimeAxis) error {
	if axis == nil {
		return NewError(KindInvalidInput, "", t.Role, "nil time axis", nil)
	}
	if axis.Len() != t.SampleCount() {
		return NewError(KindFormat, "", t.Role,
			fmt.Sprintf("sample count %d does not match run time axis length %d", t.SampleCount(), axis.Len()), nil)
	}
	t.time = axis
	return nil
}

// ChannelLayout selects how channel files map to repetitions
type ChannelLayout string

const (
	// LayoutTable is one file per role with one column per repetition
	LayoutTable ChannelLayout = "table"
	// LayoutPerRepetition is one single-series file per role per repetition
	LayoutPerRepetition ChannelLayout = "per_repetition"
)

// ParseChannelLayout validates a layout name; empty means table
func ParseChannelLayout(s string) (ChannelLayout, error) {
	switch l := ChannelLayout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutTable, nil
	case LayoutTable, LayoutPerRepetition:
		return l, nil
	default:
		return "", fmt.Errorf("unknown channel layout %q (want table or per_repetition)", s)
	}
}

// LoaderOptions configures a ChannelLoader
type LoaderOptions struct {
	Layout  ChannelLayout
	Stack   bool // append rows of every matching segment file (table layout)
	Missing MissingPolicy
	Naming  ColumnNaming
}

// ChannelLoader builds channel tables from the files of a run folder
type ChannelLoader struct {
	src        *FileSource
	classifier *Classifier
	opts       LoaderOptions
	logger     logging.Logger
}

// NewChannelLoader creates a loader
func NewChannelLoader(src *FileSource, classifier *Classifier, opts LoaderOptions, logger logging.Logger) *ChannelLoader {
	if logger == nil {
		logger = logging.NewDefaultLogger()
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
	return &ChannelLoader{
		src:        src,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
	}
}

// Load finds the files of role in folder and builds its table with columns keyed by labels
func (l *ChannelLoader) Load(folder string, role RoleSpec, labels []Label) (*ChannelTable, error) {
	names, err := l.src.List(folder)
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, name := range names {
		if l.classifier.Resolve(name) == ChannelRole(role.Name) {
			matched = append(matched, name)
		}
	}
	return l.LoadFiles(folder, role, matched, labels)
}

// LoadFiles builds the table of role from already classified files
func (l *ChannelLoader) LoadFiles(folder string, role RoleSpec, files []string, labels []Label) (*ChannelTable, error) {
	if len(labels) == 0 {
		return nil, NewError(KindIncompleteRun, "", role.Name, "run has no repetitions", nil)
	}
	files = append([]string(nil), files...)
	SortNatural(files)

	var (
		table *ChannelTable
		err   error
	)
	switch l.opts.Layout {
	case LayoutPerRepetition:
		table, err = l.loadPerRepetition(folder, role, files, labels)
	default:
		table, err = l.loadTable(folder, role, files, labels)
	}
	if err != nil {
		return nil, err
	}

	table.Files = files
	l.logger.Debug("Channel table loaded", logging.Fields{
		"role":         role.Name,
		"files":        len(files),
		"repetitions":  len(labels),
		"sample_count": table.SampleCount(),
		"layout":       string(l.opts.Layout),
	})
	return table, nil
}

func (l *ChannelLoader) loadTable(folder string, role RoleSpec, files []string, labels []Label) (*ChannelTable, error) {
	switch {
	case len(files) == 0:
		return nil, NewError(KindIncompleteRun, "", role.Name, "no file matches role token "+role.Token, nil)
	case len(files) > 1 && !l.opts.Stack:
		return nil, NewError(KindAmbiguousFile, "", role.Name,
			fmt.Sprintf("%d files match role token %s: %s", len(files), role.Token, strings.Join(files, ", ")), nil)
	}

	columns := make([][]float64, len(labels))
	for _, name := range files {
		if err := l.appendRows(folder, name, role, columns); err != nil {
			return nil, err
		}
	}

	table := newChannelTable(role.Name, labels)
	for i, label := range labels {
		missing, err := applyMissingPolicy(columns[i], l.opts.Missing)
		if err != nil {
			return nil, NewError(KindFormat, strings.Join(files, ","), role.Name,
				fmt.Sprintf("repetition %s", label), err)
		}
		if missing > 0 {
			l.logger.Warn("Missing samples in channel column", logging.Fields{
				"role":       role.Name,
				"repetition": int(label),
				"missing":    missing,
				"policy":     string(l.opts.Missing),
			})
		}
		if err := table.addVoltage(l.opts.Naming.VoltageColumn(label), label, columns[i], missing); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// appendRows stacks the rows of one table file below those already in columns
func (l *ChannelLoader) appendRows(folder, name string, role RoleSpec, columns [][]float64) error {
	f, err := l.src.Open(folder, name)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readTable(f)
	if err != nil {
		return NewError(KindFormat, name, role.Name, "failed to read channel table", err)
	}
	if len(rows) == 0 {
		return NewError(KindFormat, name, role.Name, "channel file has no samples", nil)
	}

	want := len(columns)
	for i, row := range rows {
		row = trimTrailingEmpty(row, want)
		if len(row) != want {
			if i == 0 {
				return NewError(KindIncompleteRun, name, role.Name,
					fmt.Sprintf("file has %d columns, run has %d repetitions", len(row), want), nil)
			}
			return NewError(KindFormat, name, role.Name,
				fmt.Sprintf("row %d has %d columns, expected %d", i+1, len(row), want), nil)
		}
		for c, field := range row {
			v, _ := parseSample(field)
			columns[c] = append(columns[c], v)
		}
	}
	return nil
}

func (l *ChannelLoader) loadPerRepetition(folder string, role RoleSpec, files []string, labels []Label) (*ChannelTable, error) {
	if len(files) != len(labels) {
		return nil, NewError(KindIncompleteRun, "", role.Name,
			fmt.Sprintf("%d files match role token %s, run has %d repetitions", len(files), role.Token, len(labels)), nil)
	}

	table := newChannelTable(role.Name, labels)
	for i, label := range labels {
		values, err := l.readSeriesFile(folder, files[i], role)
		if err != nil {
			return nil, err
		}
		missing, err := applyMissingPolicy(values, l.opts.Missing)
		if err != nil {
			return nil, NewError(KindFormat, files[i], role.Name, fmt.Sprintf("repetition %s", label), err)
		}
		if err := table.addVoltage(l.opts.Naming.VoltageColumn(label), label, values, missing); err != nil {
			if herr, ok := err.(*Error); ok {
				herr.Path = files[i]
			}
			return nil, err
		}
	}
	return table, nil
}

func (l *ChannelLoader) readSeriesFile(folder, name string, role RoleSpec) ([]float64, error) {
	f, err := l.src.Open(folder, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tokens, err := readSeries(f)
	if err != nil {
		return nil, NewError(KindFormat, name, role.Name, "failed to read time series", err)
	}
	if len(tokens) == 0 {
		return nil, NewError(KindFormat, name, role.Name, "time series file has no samples", nil)
	}

	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, ok := parseSample(tok)
		if !ok {
			v = math.NaN()
		}
		values[i] = v
	}
	return values, nil
}
