package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rankforge/rsengine/internal/pipeline"
	"github.com/rankforge/rsengine/pkg/logger"
)

// statusPushInterval is how often the websocket stream pushes a fresh
// pipeline snapshot.
const statusPushInterval = 2 * time.Second

// PipelineHandler handles pipeline control and status endpoints
type PipelineHandler struct {
	orch     *pipeline.Orchestrator
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(orch *pipeline.Orchestrator, log *logger.Logger) *PipelineHandler {
	return &PipelineHandler{
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log,
	}
}

// Refresh starts the full three-stage pipeline
// POST /api/pipeline/refresh
func (h *PipelineHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	batchID, err := h.orch.StartRefreshAll(r.Context())
	if errors.Is(err, pipeline.ErrBatchActive) {
		respondError(w, http.StatusConflict, "A pipeline batch is already running")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to start refresh pipeline")
		respondError(w, http.StatusInternalServerError, "Failed to start pipeline")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

// Recalculate rebuilds returns and RS from cached prices
// POST /api/pipeline/recalculate
func (h *PipelineHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	batchID, err := h.orch.StartRecalculate(r.Context())
	if errors.Is(err, pipeline.ErrBatchActive) {
		respondError(w, http.StatusConflict, "A pipeline batch is already running")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to start recalculate pipeline")
		respondError(w, http.StatusInternalServerError, "Failed to start pipeline")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

// QueueRS queues a standalone RS calculation over the backfill
// window, for one entity class when ?type is given, otherwise all
// POST /api/pipeline/rs
func (h *PipelineHandler) QueueRS(w http.ResponseWriter, r *http.Request) {
	var taskID string
	var err error
	if raw := r.URL.Query().Get("type"); raw != "" {
		entityType, ok := parseEntityType(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "type must be stock, sector or industry")
			return
		}
		taskID, err = h.orch.QueueEntityRS(r.Context(), entityType)
	} else {
		taskID, err = h.orch.QueueRSCalculation(r.Context())
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to queue RS calculation")
		respondError(w, http.StatusInternalServerError, "Failed to queue RS calculation")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// Status returns the pipeline snapshot, advancing the active batch if
// its current stage has finished
// GET /api/pipeline/status
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.orch.Status(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load pipeline status")
		respondError(w, http.StatusInternalServerError, "Failed to load pipeline status")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// ClearScores deletes all RS scores
// DELETE /api/pipeline/scores
func (h *PipelineHandler) ClearScores(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearRSScores(r.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to clear scores")
		respondError(w, http.StatusInternalServerError, "Failed to clear scores")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cleared": "rs_scores"})
}

// ClearReturns deletes all sector and industry returns
// DELETE /api/pipeline/returns
func (h *PipelineHandler) ClearReturns(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ClearReturns(r.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to clear returns")
		respondError(w, http.StatusInternalServerError, "Failed to clear returns")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cleared": "returns"})
}

// StatusStream pushes pipeline snapshots over a websocket until the
// client disconnects
// GET /ws/pipeline
func (h *PipelineHandler) StatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		status, err := h.orch.Status(r.Context())
		if err != nil {
			h.logger.WithError(err).Error("Failed to load pipeline status")
		} else if err := conn.WriteJSON(status); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
