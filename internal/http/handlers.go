package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/client"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/lifecycle"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/validation"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/views"
)

// Analyzer runs the anomaly pipeline for a city.
type Analyzer interface {
	Analyze(ctx context.Context, city string) (models.AnomalyReport, error)
}

// HealthConfig holds the optional probes consulted by the health handler.
type HealthConfig struct {
	// StartTime is when the process started; reported as uptime in the health response.
	StartTime time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analyzer     Analyzer
	client       client.ClimateClient
	healthConfig *HealthConfig
	logger       *zap.Logger
	cityMinLen   int
	cityMaxLen   int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	analyzer Analyzer,
	cl client.ClimateClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	cityMinLen, cityMaxLen int,
) *Handler {
	return &Handler{
		analyzer:     analyzer,
		client:       cl,
		healthConfig: healthConfig,
		logger:       logger,
		cityMinLen:   cityMinLen,
		cityMaxLen:   cityMaxLen,
	}
}

// GetDashboard handles GET /. With no city query it renders the search form;
// with ?city= it runs the analysis and renders the report inline. Failures
// render as a message in the page rather than an error status.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	data := views.DashboardData{}

	raw := strings.TrimSpace(r.URL.Query().Get("city"))
	if raw != "" {
		data.City = raw
		city, err := validation.ValidateCity(raw, h.cityMinLen, h.cityMaxLen)
		if err != nil {
			data.ErrorMessage = err.Error()
		} else if report, err := h.analyzer.Analyze(r.Context(), city); err != nil {
			data.ErrorMessage = dashboardErrorMessage(err)
			h.logAnalysisError(r, err)
		} else {
			rv := views.BuildReportView(report)
			data.Report = &rv
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.RenderDashboard(w, &data); err != nil {
		h.logger.Error("dashboard render failed", zap.Error(err))
	}
}

// GetAnalysis handles GET /api/v1/analysis/{city}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.cityMinLen, h.cityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	report, err := h.analyzer.Analyze(r.Context(), city)
	if err != nil {
		h.logAnalysisError(r, err)
		writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["openMeteo"] = "unhealthy"
	} else {
		checks["openMeteo"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		// Cache reachability is informational; the service degrades to
		// uncached fetches when the cache is down.
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "climate-anomaly-dashboard",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > upstream unreachable > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.Ping(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "open_meteo_unreachable"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeAnalysisError maps pipeline errors onto API status codes.
func writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, client.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "No location matches the requested city")
	case errors.Is(err, client.ErrRateLimited):
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED", "Weather API is rate limiting requests, try again shortly")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch climate data")
	}
}

// dashboardErrorMessage converts pipeline errors into user-facing page text.
func dashboardErrorMessage(err error) string {
	switch {
	case errors.Is(err, client.ErrCityNotFound):
		return "City not found. Check the spelling and try again."
	case errors.Is(err, client.ErrRateLimited):
		return "The weather service is busy right now. Try again in a minute."
	default:
		return "Could not fetch climate data. Try again shortly."
	}
}

func (h *Handler) logAnalysisError(r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("analysis error", zap.Error(err))
	}
}
