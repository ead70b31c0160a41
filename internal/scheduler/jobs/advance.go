package jobs

import (
	"context"

	"github.com/rankforge/rsengine/internal/pipeline"
	"github.com/rankforge/rsengine/pkg/logger"
)

// AdvanceJob polls the active batch so the pipeline keeps moving even
// when no client is watching the status endpoint.
type AdvanceJob struct {
	orch   *pipeline.Orchestrator
	logger *logger.Logger
}

// NewAdvanceJob creates a new advance job
func NewAdvanceJob(orch *pipeline.Orchestrator, log *logger.Logger) *AdvanceJob {
	return &AdvanceJob{orch: orch, logger: log}
}

// Name returns the job name
func (j *AdvanceJob) Name() string {
	return "pipeline_advance"
}

// Schedule returns the cron schedule (every 10 seconds)
func (j *AdvanceJob) Schedule() string {
	return "*/10 * * * * *"
}

// Run advances the active batch if its current stage has finished
func (j *AdvanceJob) Run(ctx context.Context) error {
	return j.orch.Advance(ctx)
}
