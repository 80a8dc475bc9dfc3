package harvest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoles = []RoleSpec{
	{Name: "EH", Token: "EH", LoadResistance: 288},
	{Name: "MFC", Token: "MFC", LoadResistance: 100},
}

// writeColumns writes columns as a headerless tab-separated table, one row per sample
func writeColumns(t *testing.T, fs afero.Fs, path string, columns ...[]float64) {
	t.Helper()
	var b strings.Builder
	for i := range columns[0] {
		fields := make([]string, len(columns))
		for c, col := range columns {
			fields[c] = fmt.Sprintf("%g", col[i])
		}
		b.WriteString(strings.Join(fields, "\t"))
		b.WriteString("\n")
	}
	require.NoError(t, afero.WriteFile(fs, path, []byte(b.String()), 0o644))
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func newTestLoader(t *testing.T, fs afero.Fs, opts LoaderOptions) *ChannelLoader {
	t.Helper()
	c, err := NewClassifier(".txt", "summary", testRoles)
	require.NoError(t, err)
	return NewChannelLoader(NewFileSource(fs), c, opts, nil)
}

func TestChannelLoaderTableLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeColumns(t, fs, "run/voltage_MFC_ts.txt", constant(10, 5), constant(20, 5), constant(30, 5))
	writeColumns(t, fs, "run/voltage_EH_ts.txt", constant(1, 5), constant(2, 5), constant(3, 5))

	loader := newTestLoader(t, fs, LoaderOptions{})
	table, err := loader.Load("run", testRoles[1], []Label{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, "MFC", table.Role)
	assert.Equal(t, []string{"voltage_MFC_ts.txt"}, table.Files)
	assert.Equal(t, 5, table.SampleCount())

	for i, want := range []float64{10, 20, 30} {
		v, ok := table.Voltage(Label(i + 1))
		require.True(t, ok)
		assert.Equal(t, constant(want, 5), v)
	}

	columns := table.Columns()
	require.Len(t, columns, 3)
	assert.Equal(t, "voltage_1(V)", columns[0].Name)
	assert.Equal(t, "voltage_3(V)", columns[2].Name)
	assert.Equal(t, ColumnVoltage, columns[0].Kind)
}

func TestChannelLoaderColumnsFollowLabelOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeColumns(t, fs, "run/voltage_MFC_ts.txt", constant(10, 3), constant(20, 3))

	loader := newTestLoader(t, fs, LoaderOptions{})
	table, err := loader.Load("run", testRoles[1], []Label{2, 1})
	require.NoError(t, err)

	v, _ := table.Voltage(2)
	assert.Equal(t, 10.0, v[0], "first file column belongs to the first label given")
	v, _ = table.Voltage(1)
	assert.Equal(t, 20.0, v[0])
}

func TestChannelLoaderTableErrors(t *testing.T) {
	t.Run("no matching file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeColumns(t, fs, "run/voltage_EH_ts.txt", constant(1, 3))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1})
		assert.ErrorIs(t, err, ErrIncompleteRun)
	})

	t.Run("two files without stacking", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeColumns(t, fs, "run/voltage_MFC_1.txt", constant(1, 3))
		writeColumns(t, fs, "run/voltage_MFC_2.txt", constant(1, 3))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1})
		assert.ErrorIs(t, err, ErrAmbiguousFile)
	})

	t.Run("column count differs from repetitions", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeColumns(t, fs, "run/voltage_MFC_ts.txt", constant(1, 3), constant(2, 3))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1, 2, 3})
		assert.ErrorIs(t, err, ErrIncompleteRun)
	})

	t.Run("ragged row", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_ts.txt", []byte("1\t2\n3\n"), 0o644))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1, 2})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("empty file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_ts.txt", nil, 0o644))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("no repetitions", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeColumns(t, fs, "run/voltage_MFC_ts.txt", constant(1, 3))
		_, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], nil)
		assert.ErrorIs(t, err, ErrIncompleteRun)
	})
}

func TestChannelLoaderStacksSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeColumns(t, fs, "run/voltage_MFC_10.txt", []float64{5, 6}, []float64{50, 60})
	writeColumns(t, fs, "run/voltage_MFC_2.txt", []float64{3, 4}, []float64{30, 40})
	writeColumns(t, fs, "run/voltage_MFC_1.txt", []float64{1, 2}, []float64{10, 20})

	table, err := newTestLoader(t, fs, LoaderOptions{Stack: true}).Load("run", testRoles[1], []Label{1, 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"voltage_MFC_1.txt", "voltage_MFC_2.txt", "voltage_MFC_10.txt"}, table.Files)
	v, _ := table.Voltage(1)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v)
	v, _ = table.Voltage(2)
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, v)
}

func TestChannelLoaderPerRepetitionLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_rep10.txt", []byte("3\t3\n3\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_rep2.txt", []byte("2\t2\t2\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_rep1.txt", []byte("1\n1\n1\n"), 0o644))

	loader := newTestLoader(t, fs, LoaderOptions{Layout: LayoutPerRepetition})
	table, err := loader.Load("run", testRoles[1], []Label{1, 2, 3})
	require.NoError(t, err)

	for i, want := range []float64{1, 2, 3} {
		v, ok := table.Voltage(Label(i + 1))
		require.True(t, ok)
		assert.Equal(t, constant(want, 3), v)
	}

	_, err = loader.Load("run", testRoles[1], []Label{1, 2})
	assert.ErrorIs(t, err, ErrIncompleteRun, "three files for two repetitions")
}

func TestChannelLoaderPerRepetitionLengthMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_1.txt", []byte("1\t1\t1\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_2.txt", []byte("2\t2\n"), 0o644))

	_, err := newTestLoader(t, fs, LoaderOptions{Layout: LayoutPerRepetition}).Load("run", testRoles[1], []Label{1, 2})
	require.ErrorIs(t, err, ErrFormat)

	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "voltage_MFC_2.txt", herr.Path)
}

func TestChannelLoaderMissingSamples(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "run/voltage_MFC_ts.txt", []byte("1\t10\n-\t20\n3\tbad\n4\t40\n"), 0o644))

	table, err := newTestLoader(t, fs, LoaderOptions{}).Load("run", testRoles[1], []Label{1, 2})
	require.NoError(t, err)

	v, _ := table.Voltage(1)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4}, v, 1e-12)
	v, _ = table.Voltage(2)
	assert.InDeltaSlice(t, []float64{10, 20, 30, 40}, v, 1e-12)
	assert.Equal(t, map[Label]int{1: 1, 2: 1}, table.MissingSamples())

	_, err = newTestLoader(t, fs, LoaderOptions{Missing: MissingReject}).Load("run", testRoles[1], []Label{1, 2})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestChannelTableTimeAxis(t *testing.T) {
	table, err := NewChannelTable("MFC", []Label{1}, [][]float64{{1, 2, 3}}, nil)
	require.NoError(t, err)

	axis, err := BuildTimeAxis(4, 1000)
	require.NoError(t, err)
	assert.ErrorIs(t, table.AttachTimeAxis(axis), ErrFormat)
	assert.Nil(t, table.TimeAxis())

	axis, err = BuildTimeAxis(3, 1000)
	require.NoError(t, err)
	require.NoError(t, table.AttachTimeAxis(axis))
	assert.Same(t, axis, table.TimeAxis())
}

func TestNewChannelTableRejectsRaggedColumns(t *testing.T) {
	_, err := NewChannelTable("MFC", []Label{1, 2}, [][]float64{{1, 2}, {1}}, nil)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = NewChannelTable("MFC", []Label{1, 2}, [][]float64{{1, 2}}, nil)
	assert.ErrorIs(t, err, ErrIncompleteRun)
}

func TestDefaultNaming(t *testing.T) {
	n := DefaultNaming{}
	assert.Equal(t, "voltage_2(V)", n.VoltageColumn(2))
	assert.Equal(t, "power_2(W)", n.PowerColumn("voltage_2(V)", 2))
	assert.Equal(t, "raw_power(W)", n.PowerColumn("raw", 2))
	assert.Equal(t, "2", Label(2).String())
}

func TestParseChannelLayout(t *testing.T) {
	l, err := ParseChannelLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutTable, l)

	l, err = ParseChannelLayout("PER_REPETITION")
	require.NoError(t, err)
	assert.Equal(t, LayoutPerRepetition, l)

	_, err = ParseChannelLayout("wide")
	assert.Error(t, err)
}
