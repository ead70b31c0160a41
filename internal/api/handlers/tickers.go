package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/internal/pipeline"
	"github.com/rankforge/rsengine/pkg/logger"
)

// TickerHandler handles ticker universe endpoints
type TickerHandler struct {
	tickers contracts.TickerRepository
	prices  contracts.PriceRepository
	scores  contracts.ScoreRepository
	orch    *pipeline.Orchestrator
	logger  *logger.Logger
}

// NewTickerHandler creates a new ticker handler
func NewTickerHandler(
	tickers contracts.TickerRepository,
	prices contracts.PriceRepository,
	scores contracts.ScoreRepository,
	orch *pipeline.Orchestrator,
	log *logger.Logger,
) *TickerHandler {
	return &TickerHandler{
		tickers: tickers,
		prices:  prices,
		scores:  scores,
		orch:    orch,
		logger:  log,
	}
}

// List returns all tracked tickers
// GET /api/tickers
func (h *TickerHandler) List(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.tickers.GetAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tickers")
		respondError(w, http.StatusInternalServerError, "Failed to list tickers")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(tickers),
		"tickers": tickers,
	})
}

// Get returns one ticker
// GET /api/tickers/{symbol}
func (h *TickerHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	ticker, err := h.tickers.Get(r.Context(), symbol)
	if errors.Is(err, contracts.ErrNoData) {
		respondError(w, http.StatusNotFound, "Ticker not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get ticker")
		respondError(w, http.StatusInternalServerError, "Failed to get ticker")
		return
	}
	respondJSON(w, http.StatusOK, ticker)
}

// AddTickerRequest represents a request to track new symbols
type AddTickerRequest struct {
	Symbols []string `json:"symbols"`
}

// Add registers symbols and queues their first price fetch. Metadata
// is filled in by the fetch worker.
// POST /api/tickers
func (h *TickerHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddTickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	symbols := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		respondError(w, http.StatusBadRequest, "At least one symbol is required")
		return
	}

	taskIDs, err := h.orch.QueueFetch(r.Context(), symbols)
	if err != nil {
		h.logger.WithError(err).Error("Failed to queue fetch tasks")
		respondError(w, http.StatusInternalServerError, "Failed to queue fetch tasks")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"symbols":  symbols,
		"task_ids": taskIDs,
	})
}

// Delete removes a ticker together with its prices and RS scores
// DELETE /api/tickers/{symbol}
func (h *TickerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	if _, err := h.tickers.Get(ctx, symbol); errors.Is(err, contracts.ErrNoData) {
		respondError(w, http.StatusNotFound, "Ticker not found")
		return
	}

	if err := h.prices.DeleteBySymbol(ctx, symbol); err != nil {
		h.logger.WithError(err).Error("Failed to delete prices")
		respondError(w, http.StatusInternalServerError, "Failed to delete ticker")
		return
	}
	if err := h.scores.DeleteByEntity(ctx, contracts.EntityStock, symbol); err != nil {
		h.logger.WithError(err).Error("Failed to delete scores")
		respondError(w, http.StatusInternalServerError, "Failed to delete ticker")
		return
	}
	if err := h.tickers.Delete(ctx, symbol); err != nil {
		h.logger.WithError(err).Error("Failed to delete ticker")
		respondError(w, http.StatusInternalServerError, "Failed to delete ticker")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"deleted": symbol})
}
