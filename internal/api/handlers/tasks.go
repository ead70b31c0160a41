package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// defaultTaskListLimit caps unbounded task listings.
const defaultTaskListLimit = 100

// TaskHandler handles background task endpoints
type TaskHandler struct {
	tasks  contracts.TaskRepository
	logger *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks contracts.TaskRepository, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: log}
}

// List returns recent tasks, optionally filtered
// GET /api/tasks?type=fetch_ticker&status=running&limit=50
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultTaskListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.tasks.List(r.Context(),
		contracts.TaskType(q.Get("type")),
		contracts.TaskStatus(q.Get("status")),
		limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		respondError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// Get returns one task by ID
// GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	task, err := h.tasks.Get(r.Context(), id)
	if errors.Is(err, contracts.ErrNoData) {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get task")
		respondError(w, http.StatusInternalServerError, "Failed to get task")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// Stats returns task counts grouped by type
// GET /api/tasks/stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load task stats")
		respondError(w, http.StatusInternalServerError, "Failed to load task stats")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}
