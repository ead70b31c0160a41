package scheduler

import "context"

// Job represents a scheduled job
type Job interface {
	// Name returns the job name
	Name() string

	// Run executes the job
	Run(ctx context.Context) error

	// Schedule returns the cron schedule expression, with seconds.
	// Example: "0 0 22 * * *" (every day at 10 PM)
	Schedule() string
}
