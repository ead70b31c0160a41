package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// ScoreHandler handles RS score endpoints
type ScoreHandler struct {
	scores contracts.ScoreRepository
	logger *logger.Logger
}

// NewScoreHandler creates a new score handler
func NewScoreHandler(scores contracts.ScoreRepository, log *logger.Logger) *ScoreHandler {
	return &ScoreHandler{scores: scores, logger: log}
}

func parseEntityType(raw string) (contracts.EntityType, bool) {
	switch contracts.EntityType(raw) {
	case contracts.EntityStock, contracts.EntitySector, contracts.EntityIndustry:
		return contracts.EntityType(raw), true
	default:
		return "", false
	}
}

// Latest returns the most recent scores for an entity class, ranked
// strongest first
// GET /api/scores/{entity_type}/latest
func (h *ScoreHandler) Latest(w http.ResponseWriter, r *http.Request) {
	entityType, ok := parseEntityType(mux.Vars(r)["entity_type"])
	if !ok {
		respondError(w, http.StatusBadRequest, "entity_type must be stock, sector or industry")
		return
	}

	scores, err := h.scores.Latest(r.Context(), entityType)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load latest scores")
		respondError(w, http.StatusInternalServerError, "Failed to load scores")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"count":       len(scores),
		"scores":      scores,
	})
}

// History returns an entity's score series from an optional start date
// GET /api/scores/{entity_type}/{name}/history?from=YYYY-MM-DD
func (h *ScoreHandler) History(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entityType, ok := parseEntityType(vars["entity_type"])
	if !ok {
		respondError(w, http.StatusBadRequest, "entity_type must be stock, sector or industry")
		return
	}
	name := vars["name"]
	from := r.URL.Query().Get("from")
	if from == "" {
		from = "0001-01-01"
	}

	scores, err := h.scores.History(r.Context(), entityType, name, from)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load score history")
		respondError(w, http.StatusInternalServerError, "Failed to load score history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"entity_name": name,
		"count":       len(scores),
		"scores":      scores,
	})
}
