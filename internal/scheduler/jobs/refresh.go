// Package jobs holds the concrete scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rankforge/rsengine/internal/pipeline"
	"github.com/rankforge/rsengine/pkg/logger"
)

// RefreshJob starts the full pipeline once a day, after the market
// close has settled.
type RefreshJob struct {
	orch   *pipeline.Orchestrator
	logger *logger.Logger
}

// NewRefreshJob creates a new refresh job
func NewRefreshJob(orch *pipeline.Orchestrator, log *logger.Logger) *RefreshJob {
	return &RefreshJob{orch: orch, logger: log}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "daily_refresh"
}

// Schedule returns the cron schedule (every day at 10 PM)
func (j *RefreshJob) Schedule() string {
	return "0 0 22 * * *"
}

// Run starts a refresh batch. An already running batch is not an
// error; the job simply yields to it.
func (j *RefreshJob) Run(ctx context.Context) error {
	batchID, err := j.orch.StartRefreshAll(ctx)
	if errors.Is(err, pipeline.ErrBatchActive) {
		j.logger.Info("Skipping scheduled refresh, batch already running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start refresh: %w", err)
	}

	j.logger.WithField("batch_id", batchID).Info("Scheduled refresh started")
	return nil
}
