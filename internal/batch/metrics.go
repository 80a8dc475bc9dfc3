package batch

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// titleCaser builds role display names; NoLower keeps acronyms such as "MFC" intact
var titleCaser = cases.Title(language.English, cases.NoLower)

// MetricsCalculator reduces a batch summary into cross-run statistics
type MetricsCalculator struct {
	logger logging.Logger
}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator(logger logging.Logger) *MetricsCalculator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &MetricsCalculator{
		logger: logger,
	}
}

// Stats represents statistical measures of one quantity across repetitions
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// OperatingPoint is the repetition with the highest steady-state power of a role
type OperatingPoint struct {
	Folder     string  `json:"folder"`
	Repetition int     `json:"repetition"`
	VDC        float64 `json:"vdc"`
	Hz         float64 `json:"hz"`
	MaxPower   float64 `json:"max_power"`
}

// SpeedPoint averages one role's power over every repetition driven at the same frequency
type SpeedPoint struct {
	HzLabel   string  `json:"hz"`
	Hz        float64 `json:"-"`
	Samples   int     `json:"repetitions"`
	MaxPower  float64 `json:"max_power"`
	MeanPower float64 `json:"mean_power"`
}

// RoleMetrics summarizes one transducer role across every successful run
type RoleMetrics struct {
	Role        string          `json:"role"`
	DisplayName string          `json:"display_name"`
	Runs        int             `json:"runs"`
	Repetitions int             `json:"repetitions"`
	MaxVoltage  *Stats          `json:"max_voltage"`
	MaxPower    *Stats          `json:"max_power"`
	MeanPower   *Stats          `json:"mean_power"`
	Best        *OperatingPoint `json:"best_operating_point,omitempty"`
	BySpeed     []SpeedPoint    `json:"by_speed"`
}

// ReliabilityMetrics represents how much of the batch could be processed
type ReliabilityMetrics struct {
	OverallSuccessRate float64        `json:"overall_success_rate"`
	ErrorDistribution  map[string]int `json:"error_distribution"`
	MissingSamples     int            `json:"missing_samples"`
	IgnoredFiles       int            `json:"ignored_files"`
}

// CalculateRoleMetrics computes per-role statistics in order of first appearance
func (mc *MetricsCalculator) CalculateRoleMetrics(summary *Summary) []*RoleMetrics {
	type accumulator struct {
		metrics    *RoleMetrics
		maxVoltage []float64
		maxPower   []float64
		meanPower  []float64
		bySpeed    map[string]*SpeedPoint
	}

	var order []string
	acc := make(map[string]*accumulator)

	for _, result := range summary.Results() {
		speeds := make(map[harvest.Label]harvest.SpeedSetting, len(result.Speeds))
		for _, s := range result.Speeds {
			speeds[harvest.Label(s.Repetition)] = s
		}

		for _, role := range result.Roles {
			a, ok := acc[role]
			if !ok {
				a = &accumulator{
					metrics: &RoleMetrics{
						Role:        role,
						DisplayName: titleCaser.String(role),
					},
					bySpeed: make(map[string]*SpeedPoint),
				}
				acc[role] = a
				order = append(order, role)
			}
			a.metrics.Runs++

			for _, ws := range result.Stats[role] {
				a.metrics.Repetitions++
				a.maxVoltage = append(a.maxVoltage, ws.MaxVoltage)
				a.maxPower = append(a.maxPower, ws.MaxPower)
				a.meanPower = append(a.meanPower, ws.MeanPower)

				speed := speeds[ws.Repetition]
				if a.metrics.Best == nil || ws.MaxPower > a.metrics.Best.MaxPower {
					a.metrics.Best = &OperatingPoint{
						Folder:     result.Folder,
						Repetition: int(ws.Repetition),
						VDC:        speed.VDC,
						Hz:         speed.Hz,
						MaxPower:   ws.MaxPower,
					}
				}

				label := speed.HzLabel()
				point, ok := a.bySpeed[label]
				if !ok {
					point = &SpeedPoint{HzLabel: label, Hz: speed.Hz}
					a.bySpeed[label] = point
				}
				// running means over repetitions at this frequency
				point.Samples++
				n := float64(point.Samples)
				point.MaxPower += (ws.MaxPower - point.MaxPower) / n
				point.MeanPower += (ws.MeanPower - point.MeanPower) / n
			}
		}
	}

	metrics := make([]*RoleMetrics, 0, len(order))
	for _, role := range order {
		a := acc[role]
		a.metrics.MaxVoltage = mc.calculateStats(a.maxVoltage)
		a.metrics.MaxPower = mc.calculateStats(a.maxPower)
		a.metrics.MeanPower = mc.calculateStats(a.meanPower)

		for _, point := range a.bySpeed {
			a.metrics.BySpeed = append(a.metrics.BySpeed, *point)
		}
		sort.Slice(a.metrics.BySpeed, func(i, j int) bool {
			return a.metrics.BySpeed[i].Hz < a.metrics.BySpeed[j].Hz
		})

		metrics = append(metrics, a.metrics)
	}

	mc.logger.Debug("Role metrics calculated", logging.Fields{
		"roles": len(metrics),
	})

	return metrics
}

// CalculateReliabilityMetrics computes the success rate and error distribution of a batch
func (mc *MetricsCalculator) CalculateReliabilityMetrics(summary *Summary) *ReliabilityMetrics {
	metrics := &ReliabilityMetrics{
		ErrorDistribution: make(map[string]int),
	}

	for _, run := range summary.Runs {
		if run.Error != nil {
			metrics.ErrorDistribution[mc.categorizeError(run.Error)]++
			continue
		}
		if run.Result == nil {
			continue
		}
		metrics.IgnoredFiles += len(run.Result.Ignored)
		for _, byLabel := range run.Result.Missing {
			for _, n := range byLabel {
				metrics.MissingSamples += n
			}
		}
	}

	if total := len(summary.Runs); total > 0 {
		metrics.OverallSuccessRate = float64(summary.SuccessfulRuns) / float64(total)
	}

	return metrics
}

// calculateStats calculates statistical measures for a dataset, ignoring NaN values
func (mc *MetricsCalculator) calculateStats(data []float64) *Stats {
	values := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return &Stats{Count: 0}
	}

	sort.Float64s(values)
	mean, std := stat.PopMeanStdDev(values, nil)

	return &Stats{
		Count:  len(values),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, values, nil),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		StdDev: std,
	}
}

// categorizeError maps a run failure to its error kind
func (mc *MetricsCalculator) categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}

	if kind := harvest.KindOf(err); kind != "" {
		return string(kind)
	}

	return "other"
}
