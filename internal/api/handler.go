package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/flags"
	"github.com/learnersafe/heron/internal/repository"
	"github.com/learnersafe/heron/internal/rules"
	"github.com/learnersafe/heron/internal/scan"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	engine  *rules.Engine
	flags   *flags.Manager
	scanner *scan.Scanner
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, engine *rules.Engine, mgr *flags.Manager, scanner *scan.Scanner, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		engine:  engine,
		flags:   mgr,
		scanner: scanner,
		version: version,
	}
}

// BulkCheckRequest is the optional request body for POST /duplications/run-bulk-check.
type BulkCheckRequest struct {
	Incremental bool       `json:"incremental,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// RunBulkCheck triggers an asynchronous bulk duplication scan.
// Returns 202 with the running scan report, or 409 when a scan is
// already active for the population.
func (h *Handler) RunBulkCheck(w http.ResponseWriter, r *http.Request) {
	var req BulkCheckRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	opts := scan.Options{Incremental: req.Incremental}
	if req.Incremental {
		if req.Since == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since is required for incremental scans",
			})
			return
		}
		opts.Since = *req.Since
	}

	report, err := h.scanner.Start(r.Context(), opts)
	if err != nil {
		if errors.Is(err, scan.ErrScanRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "a scan is already running",
			})
			return
		}
		slog.Error("failed to start scan", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to start scan",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, report)
}

// GetScan retrieves a scan report by ID.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "id")

	report, err := h.repo.GetScanReport(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "scan not found",
			})
			return
		}
		slog.Error("failed to get scan report", "scan_id", scanID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get scan report",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// CheckLearner runs an on-demand duplication check for one learner.
func (h *Handler) CheckLearner(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerId")

	detections, err := h.scanner.Check(r.Context(), learnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "learner not found",
			})
			return
		}
		slog.Error("learner check failed", "learner_id", learnerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "learner check failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"learnerId":  learnerID,
		"detections": detections,
		"count":      len(detections),
	})
}

// PendingFlags lists flags awaiting review (Pending and UnderReview).
func (h *Handler) PendingFlags(w http.ResponseWriter, r *http.Request) {
	flagList, err := h.repo.ListFlagsByStatus(r.Context(), domain.StatusPending, domain.StatusUnderReview)
	if err != nil {
		slog.Error("failed to list pending flags", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list pending flags",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flags": flagList,
		"count": len(flagList),
	})
}

// LearnerFlags lists every flag involving a learner, on either side.
func (h *Handler) LearnerFlags(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerId")

	flagList, err := h.repo.ListFlagsByLearner(r.Context(), learnerID)
	if err != nil {
		slog.Error("failed to list learner flags", "learner_id", learnerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list learner flags",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"learnerId": learnerID,
		"flags":     flagList,
		"count":     len(flagList),
	})
}

// ReviewRequest is the request body for PUT /duplications/flags/{id}/review.
type ReviewRequest struct {
	Status     domain.FlagStatus `json:"status"`
	ReviewedBy string            `json:"reviewedBy"`
	Notes      string            `json:"notes,omitempty"`
}

// ReviewFlag applies a review transition to a flag.
func (h *Handler) ReviewFlag(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	flag, err := h.flags.Review(r.Context(), flagID, req.Status, req.ReviewedBy, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "flag not found",
			})
		case errors.Is(err, flags.ErrInvalidTransition), errors.Is(err, flags.ErrReviewerRequired):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, repository.ErrConflict):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "flag was modified concurrently, retry",
			})
		default:
			slog.Error("flag review failed", "flag_id", flagID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "flag review failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, flag)
}

// ListRules returns all rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// CreateRuleRequest is the request body for creating a match rule.
type CreateRuleRequest struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Type          domain.MatchType `json:"type"`
	Weight        float64          `json:"weight"`
	Priority      int              `json:"priority"`
	MinConfidence float64          `json:"minConfidence"`
	Filter        string           `json:"filter,omitempty"`
	Enabled       bool             `json:"enabled"`
}

// CreateRule validates, persists and loads a new match rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	rule := &domain.MatchRule{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		Type:          req.Type,
		Weight:        req.Weight,
		Priority:      req.Priority,
		MinConfidence: req.MinConfidence,
		Filter:        req.Filter,
		Enabled:       req.Enabled,
	}

	// Validate by loading: a bad match type, weight or CEL filter is
	// rejected before anything is persisted.
	if err := h.engine.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveMatchRule(ctx, rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules replaces the engine's rule set from the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ruleList, err := h.repo.ListMatchRules(r.Context())
	if err != nil {
		slog.Error("failed to load rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	if err := h.engine.ReloadRules(ruleList); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"count":    h.engine.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
