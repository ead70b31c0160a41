package jobs

import (
	"context"
	"fmt"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// taskRetentionDays is how long finished task rows are kept.
const taskRetentionDays = 7

// MaintenanceJob prunes old terminal task rows
type MaintenanceJob struct {
	tasks  contracts.TaskRepository
	logger *logger.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(tasks contracts.TaskRepository, log *logger.Logger) *MaintenanceJob {
	return &MaintenanceJob{tasks: tasks, logger: log}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "task_cleanup"
}

// Schedule returns the cron schedule (every day at 3 AM)
func (j *MaintenanceJob) Schedule() string {
	return "0 0 3 * * *"
}

// Run deletes terminal tasks older than the retention window
func (j *MaintenanceJob) Run(ctx context.Context) error {
	deleted, err := j.tasks.DeleteOldTerminal(ctx, taskRetentionDays)
	if err != nil {
		return fmt.Errorf("delete old tasks: %w", err)
	}

	j.logger.WithField("deleted", deleted).Info("Old tasks pruned")
	return nil
}
