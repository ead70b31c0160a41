package contracts

import "time"

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskType identifies what kind of work a task performs.
type TaskType string

const (
	TaskFetchTicker    TaskType = "fetch_ticker"
	TaskCalcSector     TaskType = "calc_sector"
	TaskCalcIndustry   TaskType = "calc_industry"
	TaskCalcStockRS    TaskType = "calc_stock_rs"
	TaskCalcSectorRS   TaskType = "calc_sector_rs"
	TaskCalcIndustryRS TaskType = "calc_industry_rs"
	TaskCalcAllRS      TaskType = "calc_all_rs"
)

// Task is the persisted record of one background task. The database
// row is the authoritative source of task state; in-memory handles are
// a bounded convenience cache.
type Task struct {
	ID        string     `json:"task_id"`
	Type      TaskType   `json:"task_type"`
	Target    string     `json:"target"`
	Symbol    string     `json:"symbol,omitempty"`
	Status    TaskStatus `json:"status"`
	Progress  string     `json:"progress,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Error     string     `json:"error,omitempty"`
}

// IsTerminal reports whether the task has finished, successfully or not.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// TaskStats summarizes task counts per type.
type TaskStats struct {
	Type      TaskType `json:"task_type"`
	Total     int      `json:"total"`
	Running   int      `json:"running"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
}

// BatchStage is the pipeline stage a batch has reached.
type BatchStage int

const (
	StageFetchPrices BatchStage = 1
	StageAggregate   BatchStage = 2
	StageCalculateRS BatchStage = 3
)

// BatchStatus is the lifecycle state of a pipeline batch.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchError     BatchStatus = "error"
)

// Batch tracks one run of the full refresh pipeline across its three
// stages. Task ID lists record which tasks each stage spawned.
type Batch struct {
	ID          string      `json:"batch_id"`
	Stage       BatchStage  `json:"stage"`
	Status      BatchStatus `json:"status"`
	PriceTasks  []string    `json:"price_tasks"`
	ReturnTasks []string    `json:"return_tasks"`
	RSTask      string      `json:"rs_task,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}
