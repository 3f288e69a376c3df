package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(logger))

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Trade lifecycle
	api.HandleFunc("/trades", handler.CreateTrade).Methods("POST")
	api.HandleFunc("/trades", handler.ListTrades).Methods("GET")
	api.HandleFunc("/trades/{id}", handler.GetTrade).Methods("GET")
	api.HandleFunc("/trades/{id}", handler.DeleteTrade).Methods("DELETE")
	api.HandleFunc("/trades/{id}/journal", handler.UpdateJournal).Methods("PATCH")
	api.HandleFunc("/trades/{id}/fills", handler.AddFill).Methods("POST")
	api.HandleFunc("/trades/{id}/fills/{fillID}", handler.AmendFill).Methods("PUT")
	api.HandleFunc("/trades/{id}/fills/{fillID}", handler.RemoveFill).Methods("DELETE")

	// Analytics views
	api.HandleFunc("/users/{userID}/stats", handler.GetUserStats).Methods("GET")
	api.HandleFunc("/users/{userID}/breakdown", handler.GetUserBreakdown).Methods("GET")
	api.HandleFunc("/users/{userID}/streaks", handler.GetUserStreaks).Methods("GET")
	api.HandleFunc("/leaderboard", handler.GetLeaderboard).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
