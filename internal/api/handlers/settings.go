package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/pkg/logger"
)

// SettingsHandler handles calculation settings endpoints
type SettingsHandler struct {
	settings contracts.SettingsRepository
	logger   *logger.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings contracts.SettingsRepository, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: log}
}

// settingKeys lists the keys the API accepts for updates.
var settingKeys = map[string]struct{}{
	"benchmark":       {},
	"q1_weight":       {},
	"q2_weight":       {},
	"q3_weight":       {},
	"q4_weight":       {},
	"lookback_days":   {},
	"backfill_days":   {},
	"min_data_points": {},
	"start_date":      {},
}

// Get returns the effective calculation settings
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load settings")
		respondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// Update overwrites the given setting keys. Unknown keys are rejected;
// malformed values fall back to defaults on the next load.
// PUT /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "No settings provided")
		return
	}

	for key := range req {
		if _, ok := settingKeys[key]; !ok {
			respondError(w, http.StatusBadRequest, "Unknown setting: "+key)
			return
		}
	}

	for key, value := range req {
		if err := h.settings.Set(r.Context(), key, value); err != nil {
			h.logger.WithError(err).Error("Failed to save setting")
			respondError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}

	settings, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to reload settings")
		respondError(w, http.StatusInternalServerError, "Failed to reload settings")
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
