package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/ringscan/internal/analysis"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/ingest"
	"github.com/opensource-finance/ringscan/internal/repository"
	"github.com/opensource-finance/ringscan/internal/rules"
)

// CacheHeader reports whether POST /analyze was answered from the report cache.
const CacheHeader = "X-Cache"

// Handler holds dependencies for API handlers.
type Handler struct {
	service   *analysis.Service
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	version   string
	maxUpload int64
}

// NewHandler creates a new API handler. repo, cache, bus and engine may be nil.
func NewHandler(service *analysis.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, version string, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = domain.DefaultDetectionConfig().MaxUploadBytes
	}
	return &Handler{
		service:   service,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		version:   version,
		maxUpload: maxUpload,
	}
}

// Analyze handles POST /analyze. The ledger is either the "file" field of a
// multipart form or a raw CSV body.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	upload, status, err := h.readUpload(w, r)
	if err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.service.Run(ctx, upload)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrMissingColumn), errors.Is(err, ingest.ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	default:
		slog.Error("analysis failed",
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "analysis failed"})
		return
	}

	if result.Cached {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}

	slog.Info("ledger analysed",
		"analysis_id", result.Report.ID,
		"trace_id", GetTraceID(ctx),
		"accounts", result.Report.Summary.TotalAccountsAnalyzed,
		"suspicious_accounts", result.Report.Summary.SuspiciousAccountsFlagged,
		"fraud_rings", result.Report.Summary.FraudRingsDetected,
		"alerts", len(result.Alerts),
		"cached", result.Cached,
	)

	writeJSON(w, http.StatusOK, result.Report)
}

// SubmitBatch handles POST /batches: the ledger is queued for the worker and
// the report is published on ringscan.analysis.completed.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	upload, status, err := h.readUpload(w, r)
	if err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicBatchSubmitted, upload); err != nil {
		slog.Error("failed to queue batch", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue batch",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"bytes":  len(upload),
		"topic":  domain.TopicBatchSubmitted,
	})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUpload)
			}
			return nil, http.StatusBadRequest, fmt.Errorf("multipart field \"file\" is required")
		}
		defer file.Close()
		src = file
	}

	upload, err := io.ReadAll(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUpload)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(upload) == 0 {
		return nil, http.StatusBadRequest, fmt.Errorf("empty upload")
	}

	return upload, http.StatusOK, nil
}

// ListAnalyses returns the most recent archived reports.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	reports, err := h.repo.ListReports(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}
	if reports == nil {
		reports = []*domain.ReportSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": reports,
		"count":    len(reports),
	})
}

// GetAnalysis retrieves an archived report by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetReport(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get report", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListAlerts returns the alerts raised for an archived report.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context(), id)
	if err != nil {
		slog.Error("failed to list alerts", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis_id": id,
		"alerts":      alerts,
		"count":       len(alerts),
	})
}

// ListRules returns the alert rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := []*domain.AlertRule{}
	if h.engine != nil {
		loaded = h.engine.GetLoadedRules()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRule compiles an alert rule and loads it into the engine. Rules live
// in memory only; they apply to analyses started after the call.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var rule domain.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}
	switch rule.Severity {
	case "":
		rule.Severity = domain.SeverityMedium
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be low, medium or high",
		})
		return
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if rule.Enabled {
		if err := h.engine.LoadRule(&rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
	}

	slog.Info("alert rule created", "id", rule.ID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
