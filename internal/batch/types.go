package batch

import (
	"fmt"
	"time"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
)

// Config contains the settings shared by every run of a batch
type Config struct {
	Options           harvest.Options
	MaxConcurrentRuns int
	FailFast          bool
}

// Validate checks the batch settings
func (c Config) Validate() error {
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max concurrent runs must be positive")
	}
	if err := c.Options.Validate(); err != nil {
		return fmt.Errorf("invalid run options: %w", err)
	}
	return nil
}

// RunMeasurement is the outcome of processing one run folder
type RunMeasurement struct {
	Folder    string             `json:"folder"`
	Result    *harvest.RunResult `json:"result,omitempty"`
	Error     error              `json:"-"`
	ErrorKind harvest.ErrorKind  `json:"error_kind,omitempty"`
	Skipped   bool               `json:"skipped,omitempty"`
	StartTime time.Time          `json:"start_time"`
	Duration  time.Duration      `json:"duration"`

	dataset *harvest.Dataset
}

// Dataset returns the processed dataset of a successful run, for spectra on demand
func (m *RunMeasurement) Dataset() *harvest.Dataset {
	return m.dataset
}

// Summary aggregates the measurements of a batch, in input folder order
type Summary struct {
	BatchID        string            `json:"batch_id"`
	Runs           []*RunMeasurement `json:"runs"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	TotalDuration  time.Duration     `json:"total_duration"`
	SuccessfulRuns int               `json:"successful_runs"`
	FailedRuns     int               `json:"failed_runs"`
	SkippedRuns    int               `json:"skipped_runs"`

	// Err combines every run failure, nil when all runs succeeded
	Err error `json:"-"`
}

// Results returns the results of successful runs, in input order
func (s *Summary) Results() []*harvest.RunResult {
	results := make([]*harvest.RunResult, 0, s.SuccessfulRuns)
	for _, run := range s.Runs {
		if run.Result != nil {
			results = append(results, run.Result)
		}
	}
	return results
}

// Failures returns the runs that failed, skipped runs excluded
func (s *Summary) Failures() []*RunMeasurement {
	var failed []*RunMeasurement
	for _, run := range s.Runs {
		if run.Error != nil && !run.Skipped {
			failed = append(failed, run)
		}
	}
	return failed
}
