package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"
)

// WindowRow is one repetition of one role of one run, flattened for columnar export
type WindowRow struct {
	BatchID       string  `parquet:"batch_id"`
	Folder        string  `parquet:"folder"`
	Role          string  `parquet:"role"`
	Repetition    int32   `parquet:"repetition"`
	VDC           float64 `parquet:"vdc"`
	RPM           float64 `parquet:"rpm"`
	RadPerSec     float64 `parquet:"rad_per_sec"`
	Hz            float64 `parquet:"hz"`
	WindowStart   int32   `parquet:"window_start"`
	WindowSamples int32   `parquet:"window_samples"`
	MaxVoltage    float64 `parquet:"max_voltage"`
	MinVoltage    float64 `parquet:"min_voltage"`
	MaxPower      float64 `parquet:"max_power"`
	MinPower      float64 `parquet:"min_power"`
	MeanPower     float64 `parquet:"mean_power"`
	Missing       int32   `parquet:"missing_samples"`
}

// Rows flattens processed runs into export rows, in run, role and repetition order
func Rows(batchID string, results []*harvest.RunResult) []WindowRow {
	var rows []WindowRow
	for _, result := range results {
		if result == nil {
			continue
		}
		speeds := make(map[harvest.Label]harvest.SpeedSetting, len(result.Speeds))
		for _, s := range result.Speeds {
			speeds[harvest.Label(s.Repetition)] = s
		}

		for _, role := range result.Roles {
			for _, st := range result.Stats[role] {
				speed := speeds[st.Repetition]
				rows = append(rows, WindowRow{
					BatchID:       batchID,
					Folder:        result.Folder,
					Role:          role,
					Repetition:    int32(st.Repetition),
					VDC:           speed.VDC,
					RPM:           speed.RPM,
					RadPerSec:     speed.RadPerSec,
					Hz:            speed.Hz,
					WindowStart:   int32(st.Start),
					WindowSamples: int32(st.Samples),
					MaxVoltage:    st.MaxVoltage,
					MinVoltage:    st.MinVoltage,
					MaxPower:      st.MaxPower,
					MinPower:      st.MinPower,
					MeanPower:     st.MeanPower,
					Missing:       int32(result.Missing[role][st.Repetition]),
				})
			}
		}
	}
	return rows
}

// CompressionOption maps a codec name to a writer option; unknown names use snappy
func CompressionOption(name string) parquet.WriterOption {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "gzip", "gz":
		return parquet.Compression(&parquet.Gzip)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// WriteWindowStats encodes rows as a parquet file on w
func WriteWindowStats(w io.Writer, rows []WindowRow, compression string) error {
	pw := parquet.NewGenericWriter[WindowRow](w, CompressionOption(compression))
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			_ = pw.Close()
			return fmt.Errorf("failed to write window stats: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// WriteWindowStatsFile creates (or truncates) path and writes rows to it
func WriteWindowStatsFile(fs afero.Fs, path string, rows []WindowRow, compression string) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteWindowStats(f, rows, compression); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadWindowStats decodes every row of a window stats parquet file
func ReadWindowStats(r io.ReaderAt) ([]WindowRow, error) {
	gr := parquet.NewGenericReader[WindowRow](r)
	defer gr.Close()

	out := make([]WindowRow, 0, gr.NumRows())
	batch := make([]WindowRow, 256)
	for {
		n, err := gr.Read(batch)
		if n > 0 {
			out = append(out, batch[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
