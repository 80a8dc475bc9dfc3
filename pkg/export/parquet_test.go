package export

import (
	"bytes"
	"testing"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *harvest.RunResult {
	return &harvest.RunResult{
		Folder: "runs/2024-03-01",
		Speeds: []harvest.SpeedSetting{
			harvest.NewSpeedSetting(1, 1.0),
			harvest.NewSpeedSetting(2, 2.0),
		},
		Roles: []string{"MFC", "EH"},
		Stats: map[string][]harvest.WindowStats{
			"MFC": {
				{Role: "MFC", Repetition: 1, Start: 90, Samples: 10, MaxVoltage: 7, MaxPower: 0.49},
				{Role: "MFC", Repetition: 2, Start: 90, Samples: 10, MaxVoltage: 14, MaxPower: 1.96},
			},
			"EH": {
				{Role: "EH", Repetition: 1, Start: 90, Samples: 10, MaxVoltage: 1},
				{Role: "EH", Repetition: 2, Start: 90, Samples: 10, MaxVoltage: 2},
			},
		},
		Missing: map[string]map[harvest.Label]int{"EH": {2: 3}},
	}
}

func TestRows(t *testing.T) {
	rows := Rows("batch-1", []*harvest.RunResult{testResult(), nil})
	require.Len(t, rows, 4)

	assert.Equal(t, "MFC", rows[0].Role)
	assert.Equal(t, int32(1), rows[0].Repetition)
	assert.InDelta(t, 125.0, rows[0].RPM, 1e-12)
	assert.Equal(t, "batch-1", rows[0].BatchID)

	assert.Equal(t, "EH", rows[3].Role)
	assert.Equal(t, int32(2), rows[3].Repetition)
	assert.InDelta(t, 250.0, rows[3].RPM, 1e-12)
	assert.Equal(t, int32(3), rows[3].Missing)
	assert.Zero(t, rows[2].Missing)
}

func TestWriteAndReadWindowStats(t *testing.T) {
	rows := Rows("batch-1", []*harvest.RunResult{testResult()})

	for _, codec := range []string{"snappy", "zstd", "gzip"} {
		t.Run(codec, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteWindowStats(&buf, rows, codec))

			got, err := ReadWindowStats(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, rows, got)
		})
	}
}

func TestWriteWindowStatsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	rows := Rows("batch-2", []*harvest.RunResult{testResult()})
	require.NoError(t, WriteWindowStatsFile(fs, "/out/stats.parquet", rows, ""))

	data, err := afero.ReadFile(fs, "/out/stats.parquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("PAR1"), data[:4])

	got, err := ReadWindowStats(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, got, 4)
}
