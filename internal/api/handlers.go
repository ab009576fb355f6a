package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/store"
)

// Readiness states reported by /ready.
const (
	ReadyOK            = "READY"
	ReadyMigrations    = "MIGRATIONS_PENDING"
	ReadyDBUnavailable = "DB_UNAVAILABLE"
)

type errorResponse struct {
	Error string `json:"error"`
}

type runsResponse struct {
	Runs []model.IngestionRun `json:"runs"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": ReadyDBUnavailable,
			"error":  err.Error(),
		})
		return
	}
	ok, err := s.store.MigrationsApplied(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": ReadyDBUnavailable,
			"error":  err.Error(),
		})
		return
	}
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": ReadyMigrations})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": ReadyOK})
}

// handleIngest runs synchronously. SUCCESS maps to 200, a run already in
// progress elsewhere to 202, anything else to 500.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	date, err := model.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	result := s.ingester.Ingest(r.Context(), date)
	switch result.Status {
	case model.RunStatusSuccess:
		writeJSON(w, http.StatusOK, result)
	case model.RunStatusRunning:
		writeJSON(w, http.StatusAccepted, result)
	default:
		writeJSON(w, http.StatusInternalServerError, result)
	}
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := model.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	idx, err := s.store.DailyIndex(r.Context(), date)
	if err != nil {
		zap.L().Error("api: daily index", zap.String("date", date.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load daily index")
		return
	}
	if idx == nil {
		writeError(w, http.StatusNotFound, "no index for "+date.String())
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := s.store.Item(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		zap.L().Error("api: item", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(r.Context(), store.DefaultRecentRuns)
	if err != nil {
		zap.L().Error("api: recent runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	if runs == nil {
		runs = []model.IngestionRun{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
