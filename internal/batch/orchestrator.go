package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/RyanBlaney/harvest-datapost/pkg/harvest"
	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Orchestrator processes a batch of run folders, logging and skipping failed runs
type Orchestrator struct {
	config Config
	src    *harvest.FileSource
	logger logging.Logger
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(config Config, src *harvest.FileSource, logger logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if src == nil {
		src = harvest.NewFileSource(nil)
	}
	if config.MaxConcurrentRuns == 0 {
		config.MaxConcurrentRuns = 1
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch configuration: %w", err)
	}

	return &Orchestrator{
		config: config,
		src:    src,
		logger: logger,
	}, nil
}

// Run processes every folder. A failed run is recorded and the batch moves on,
// unless fail-fast is set, in which case runs not yet started are skipped.
func (o *Orchestrator) Run(ctx context.Context, folders []string) *Summary {
	startTime := time.Now()
	batchID := uuid.NewString()

	logger := o.logger.WithFields(logging.Fields{
		"batch_id": batchID,
	})
	logger.Debug("Starting batch", logging.Fields{
		"runs":                len(folders),
		"max_concurrent_runs": o.config.MaxConcurrentRuns,
		"fail_fast":           o.config.FailFast,
	})

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	measurements := make([]*RunMeasurement, len(folders))
	p := pool.New().WithMaxGoroutines(o.config.MaxConcurrentRuns)
	for i, folder := range folders {
		p.Go(func() {
			if err := batchCtx.Err(); err != nil {
				measurements[i] = &RunMeasurement{
					Folder:    folder,
					Error:     err,
					Skipped:   true,
					StartTime: time.Now(),
				}
				return
			}

			// batchCtx only gates scheduling; a run in flight finishes even after fail-fast
			m := o.measureRun(ctx, logger, folder)
			measurements[i] = m
			if m.Error != nil && o.config.FailFast {
				cancel()
			}
		})
	}
	p.Wait()

	endTime := time.Now()
	summary := &Summary{
		BatchID:       batchID,
		Runs:          measurements,
		StartTime:     startTime,
		EndTime:       endTime,
		TotalDuration: endTime.Sub(startTime),
	}
	o.calculateSummaryMetrics(summary)

	logger.Info("Batch completed", logging.Fields{
		"successful_runs": summary.SuccessfulRuns,
		"failed_runs":     summary.FailedRuns,
		"skipped_runs":    summary.SkippedRuns,
		"duration_ms":     summary.TotalDuration.Milliseconds(),
	})

	return summary
}

// measureRun processes a single folder and never panics the batch on failure
func (o *Orchestrator) measureRun(ctx context.Context, logger logging.Logger, folder string) *RunMeasurement {
	m := &RunMeasurement{
		Folder:    folder,
		StartTime: time.Now(),
	}
	defer func() {
		m.Duration = time.Since(m.StartTime)
	}()

	dataset, err := harvest.NewDataset(folder, o.src, o.config.Options, logger)
	if err == nil {
		m.Result, err = dataset.Process(ctx)
	}
	if err != nil {
		m.Error = err
		m.ErrorKind = harvest.KindOf(err)
		logger.Error(err, "Run failed, skipping")
		logger.Warn("Skipped run folder", logging.Fields{
			"folder":     folder,
			"error_kind": string(m.ErrorKind),
		})
		return m
	}

	m.dataset = dataset
	return m
}

func (o *Orchestrator) calculateSummaryMetrics(summary *Summary) {
	var errs error
	for _, run := range summary.Runs {
		switch {
		case run.Skipped:
			summary.SkippedRuns++
		case run.Error != nil:
			summary.FailedRuns++
			errs = multierr.Append(errs, fmt.Errorf("run %s: %w", run.Folder, run.Error))
		default:
			summary.SuccessfulRuns++
		}
	}
	summary.Err = errs
}
