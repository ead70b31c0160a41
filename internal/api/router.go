package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rankforge/rsengine/internal/api/handlers"
	"github.com/rankforge/rsengine/pkg/database"
	"github.com/rankforge/rsengine/pkg/logger"
)

// NewRouter creates and configures the HTTP router
func NewRouter(
	tickerHandler *handlers.TickerHandler,
	scoreHandler *handlers.ScoreHandler,
	pipelineHandler *handlers.PipelineHandler,
	settingsHandler *handlers.SettingsHandler,
	taskHandler *handlers.TaskHandler,
	db *database.DB,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(db)).Methods("GET")

	// Pipeline status stream
	r.HandleFunc("/ws/pipeline", pipelineHandler.StatusStream)

	api := r.PathPrefix("/api").Subrouter()

	// Ticker endpoints
	api.HandleFunc("/tickers", tickerHandler.List).Methods("GET")
	api.HandleFunc("/tickers", tickerHandler.Add).Methods("POST")
	api.HandleFunc("/tickers/{symbol}", tickerHandler.Get).Methods("GET")
	api.HandleFunc("/tickers/{symbol}", tickerHandler.Delete).Methods("DELETE")

	// Score endpoints
	api.HandleFunc("/scores/{entity_type}/latest", scoreHandler.Latest).Methods("GET")
	api.HandleFunc("/scores/{entity_type}/{name}/history", scoreHandler.History).Methods("GET")

	// Pipeline endpoints
	api.HandleFunc("/pipeline/refresh", pipelineHandler.Refresh).Methods("POST")
	api.HandleFunc("/pipeline/recalculate", pipelineHandler.Recalculate).Methods("POST")
	api.HandleFunc("/pipeline/rs", pipelineHandler.QueueRS).Methods("POST")
	api.HandleFunc("/pipeline/status", pipelineHandler.Status).Methods("GET")
	api.HandleFunc("/pipeline/scores", pipelineHandler.ClearScores).Methods("DELETE")
	api.HandleFunc("/pipeline/returns", pipelineHandler.ClearReturns).Methods("DELETE")

	// Settings endpoints
	api.HandleFunc("/settings", settingsHandler.Get).Methods("GET")
	api.HandleFunc("/settings", settingsHandler.Update).Methods("PUT")

	// Task endpoints
	api.HandleFunc("/tasks", taskHandler.List).Methods("GET")
	api.HandleFunc("/tasks/stats", taskHandler.Stats).Methods("GET")
	api.HandleFunc("/tasks/{id}", taskHandler.Get).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler reports server and database health
func healthCheckHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		dbStatus := "ok"
		code := http.StatusOK
		if err := db.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			dbStatus = "unavailable"
			code = http.StatusServiceUnavailable
		}

		stats := db.PoolStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   status,
			"service":  "rsengine-api",
			"database": dbStatus,
			"pool": map[string]interface{}{
				"total_conns": stats.TotalConns(),
				"idle_conns":  stats.IdleConns(),
			},
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
