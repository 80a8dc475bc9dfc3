package harvest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Drive conversion constants of the test rig
const (
	RPMPerVDC       = 125.0
	RadPerSecPerRPM = 0.104719755
	SecondsPerMin   = 60.0
)

// VDCColumn is the summary column holding the commanded motor voltage
const VDCColumn = "vdc"

// SpeedSetting is the commanded drive of one repetition in equivalent units
type SpeedSetting struct {
	Repetition int     `json:"repetition" yaml:"repetition" parquet:"repetition"`
	VDC        float64 `json:"vdc" yaml:"vdc" parquet:"vdc"`
	RPM        float64 `json:"rpm" yaml:"rpm" parquet:"rpm"`
	RadPerSec  float64 `json:"rad_per_sec" yaml:"rad_per_sec" parquet:"rad_per_sec"`
	Hz         float64 `json:"hz" yaml:"hz" parquet:"hz"`
}

// NewSpeedSetting derives rpm, rad/s and Hz from a commanded voltage
func NewSpeedSetting(repetition int, vdc float64) SpeedSetting {
	rpm := vdc * RPMPerVDC
	return SpeedSetting{
		Repetition: repetition,
		VDC:        vdc,
		RPM:        rpm,
		RadPerSec:  rpm * RadPerSecPerRPM,
		Hz:         rpm / SecondsPerMin,
	}
}

// HzLabel formats the drive frequency with one decimal, e.g. "2.1"
func (s SpeedSetting) HzLabel() string {
	return strconv.FormatFloat(s.Hz, 'f', 1, 64)
}

// ParseSpeedTable parses a summary table. layout names the file's columns in
// order; only the column named vdc is retained.
func ParseSpeedTable(r io.Reader, layout []string) ([]SpeedSetting, error) {
	vdcIndex := -1
	for i, name := range layout {
		if strings.EqualFold(strings.TrimSpace(name), VDCColumn) {
			vdcIndex = i
			break
		}
	}
	if vdcIndex < 0 {
		return nil, NewError(KindFormat, "", "", fmt.Sprintf("column layout %v has no %q column", layout, VDCColumn), nil)
	}

	rows, err := readTable(r)
	if err != nil {
		return nil, NewError(KindFormat, "", "", "failed to read summary table", err)
	}
	if len(rows) == 0 {
		return nil, NewError(KindFormat, "", "", "summary table has no data rows", nil)
	}

	settings := make([]SpeedSetting, 0, len(rows))
	for i, row := range rows {
		if len(row) <= vdcIndex {
			return nil, NewError(KindFormat, "", "",
				fmt.Sprintf("summary row %d has %d columns, %q is column %d", i+1, len(row), VDCColumn, vdcIndex+1), nil)
		}
		vdc, ok := parseSample(row[vdcIndex])
		if !ok {
			return nil, NewError(KindFormat, "", "",
				fmt.Sprintf("summary row %d: invalid %s value %q", i+1, VDCColumn, row[vdcIndex]), nil)
		}
		settings = append(settings, NewSpeedSetting(i+1, vdc))
	}

	return settings, nil
}

// LoadSpeedTable reads the summary file of a run folder
func LoadSpeedTable(src *FileSource, folder, name string, layout []string) ([]SpeedSetting, error) {
	f, err := src.Open(folder, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	settings, err := ParseSpeedTable(f, layout)
	if err != nil {
		if herr, ok := err.(*Error); ok {
			herr.Path = name
		}
		return nil, err
	}
	return settings, nil
}

// RepetitionLabels returns the ordered labels 1..n of a run with n speed settings
func RepetitionLabels(settings []SpeedSetting) []Label {
	labels := make([]Label, len(settings))
	for i, s := range settings {
		labels[i] = Label(s.Repetition)
	}
	return labels
}
