// Package task runs background work on a fixed pool of workers, with
// every task persisted to the database before it executes. The
// database row is the authoritative record of task state; in-memory
// handles are a bounded cache for quick status lookups.
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// maxHandles bounds the in-memory handle cache. When full, the oldest
// finished handle is evicted first, then the oldest of any state.
const maxHandles = 100

// defaultQueueSize bounds how many submitted tasks may wait for a worker.
const defaultQueueSize = 4096

// Func is the unit of work a task performs. It receives the ID of its
// own task row so it can report progress against it.
type Func func(ctx context.Context, taskID string) error

type job struct {
	task *contracts.Task
	fn   Func
}

// Executor is a fixed-size worker pool backed by persisted task rows.
type Executor struct {
	repo   contracts.TaskRepository
	log    *logger.Logger
	runCtx context.Context
	queue  chan job
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*contracts.Task
	order   []string
	closed  bool
}

// NewExecutor creates an executor with the given number of workers.
// Tasks execute under ctx; cancelling it aborts running tasks.
func NewExecutor(ctx context.Context, workers int, repo contracts.TaskRepository, log *logger.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}

	e := &Executor{
		repo:    repo,
		log:     log,
		runCtx:  ctx,
		queue:   make(chan job, defaultQueueSize),
		handles: make(map[string]*contracts.Task),
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Submit persists a new task row and queues it for execution,
// returning the task ID. The row exists before Submit returns, so a
// caller can immediately poll it.
func (e *Executor) Submit(ctx context.Context, taskType contracts.TaskType, target, symbol string, fn Func) (string, error) {
	t := &contracts.Task{
		ID:     uuid.NewString(),
		Type:   taskType,
		Target: target,
		Symbol: symbol,
		Status: contracts.TaskRunning,
	}

	if err := e.repo.Create(ctx, t); err != nil {
		return "", fmt.Errorf("failed to create task record: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.failTask(t, "executor is shut down")
		return "", fmt.Errorf("executor is shut down")
	}
	e.remember(t)
	e.mu.Unlock()

	select {
	case e.queue <- job{task: t, fn: fn}:
		return t.ID, nil
	default:
		e.failTask(t, "task queue is full")
		return "", fmt.Errorf("task queue is full")
	}
}

// Handle returns the cached in-memory view of a task, if still cached.
// Callers needing the authoritative state should read the repository.
func (e *Executor) Handle(id string) (*contracts.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.handles[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Close stops accepting tasks and waits for queued work to drain.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.queue)
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for j := range e.queue {
		e.run(j)
	}
}

func (e *Executor) run(j job) {
	log := e.log.WithFields(map[string]interface{}{
		"task_id":   j.task.ID,
		"task_type": string(j.task.Type),
		"target":    j.task.Target,
	})
	log.Debug("Task started")

	if err := j.fn(e.runCtx, j.task.ID); err != nil {
		log.WithError(err).Error("Task failed")
		e.failTask(j.task, err.Error())
		return
	}

	if err := e.repo.Complete(e.runCtx, j.task.ID); err != nil {
		log.WithError(err).Error("Failed to mark task completed")
	}
	e.setStatus(j.task.ID, contracts.TaskCompleted, "")
	log.Debug("Task completed")
}

func (e *Executor) failTask(t *contracts.Task, msg string) {
	if err := e.repo.Fail(context.Background(), t.ID, msg); err != nil {
		e.log.WithError(err).WithField("task_id", t.ID).Error("Failed to mark task failed")
	}
	e.setStatus(t.ID, contracts.TaskFailed, msg)
}

func (e *Executor) setStatus(id string, status contracts.TaskStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.handles[id]; ok {
		t.Status = status
		t.Error = errMsg
	}
}

// remember caches the handle, evicting when over capacity. Caller
// holds e.mu.
func (e *Executor) remember(t *contracts.Task) {
	e.handles[t.ID] = t
	e.order = append(e.order, t.ID)

	if len(e.order) <= maxHandles {
		return
	}

	// Prefer evicting the oldest finished handle.
	for i, id := range e.order {
		if h, ok := e.handles[id]; ok && h.IsTerminal() {
			delete(e.handles, id)
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}

	delete(e.handles, e.order[0])
	e.order = e.order[1:]
}
