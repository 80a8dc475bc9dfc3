package harvest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds steady-state extremes of one repetition of one role
type WindowStats struct {
	Role       string  `json:"role" yaml:"role"`
	Repetition Label   `json:"repetition" yaml:"repetition"`
	Start      int     `json:"window_start" yaml:"window_start"`
	Samples    int     `json:"window_samples" yaml:"window_samples"`
	MaxVoltage float64 `json:"max_voltage" yaml:"max_voltage"`
	MinVoltage float64 `json:"min_voltage" yaml:"min_voltage"`
	MaxPower   float64 `json:"max_power" yaml:"max_power"`
	MinPower   float64 `json:"min_power" yaml:"min_power"`
	MeanPower  float64 `json:"mean_power" yaml:"mean_power"`
}

// TailWindowStart returns floor(0.9·n), the first row of the steady-state window
func TailWindowStart(n int) int {
	return n * 9 / 10
}

// ExtractWindowStats computes tail-window extremes for every repetition of table.
// Voltage extremes are RMS-converted first and the power extremes are derived
// from those converted values.
func ExtractWindowStats(table *ChannelTable, loadResistance float64) ([]WindowStats, error) {
	if table == nil {
		return nil, NewError(KindInvalidInput, "", "", "nil channel table", nil)
	}
	if loadResistance <= 0 || math.IsNaN(loadResistance) || math.IsInf(loadResistance, 0) {
		return nil, NewError(KindInvalidInput, "", table.Role,
			fmt.Sprintf("load resistance must be a positive finite value, got %g", loadResistance), nil)
	}

	stats := make([]WindowStats, 0, len(table.Labels))
	for _, label := range table.Labels {
		voltage, ok := table.Voltage(label)
		if !ok {
			return nil, NewError(KindIncompleteRun, "", table.Role,
				fmt.Sprintf("no voltage column for repetition %s", label), nil)
		}
		power, _ := table.Power(label)

		s, err := windowStats(voltage, power, loadResistance)
		if err != nil {
			if herr, ok := err.(*Error); ok {
				herr.Role = table.Role
				herr.Message = fmt.Sprintf("repetition %s: %s", label, herr.Message)
			}
			return nil, err
		}
		s.Role = table.Role
		s.Repetition = label
		stats = append(stats, s)
	}
	return stats, nil
}

func windowStats(voltage, power []float64, loadResistance float64) (WindowStats, error) {
	n := len(voltage)
	if n == 0 {
		return WindowStats{}, NewError(KindEmptyWindow, "", "", "no samples", nil)
	}

	start := TailWindowStart(n)
	window := finite(voltage[start:])
	if len(window) == 0 {
		return WindowStats{}, NewError(KindEmptyWindow, "", "",
			fmt.Sprintf("window [%d, %d) has no finite samples", start, n), nil)
	}

	maxV := floats.Max(window) / math.Sqrt2
	minV := floats.Min(window) / math.Sqrt2

	var tail []float64
	if len(power) == n {
		tail = finite(power[start:])
	} else {
		tail = make([]float64, len(window))
		for i, v := range window {
			tail[i] = RMSPower(v, loadResistance)
		}
	}

	return WindowStats{
		Start:      start,
		Samples:    n - start,
		MaxVoltage: maxV,
		MinVoltage: minV,
		MaxPower:   maxV * maxV / loadResistance,
		MinPower:   minV * minV / loadResistance,
		MeanPower:  stat.Mean(tail, nil),
	}, nil
}

// finite returns the values that are neither NaN nor infinite
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
