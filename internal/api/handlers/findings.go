package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apimiddleware "sentinel-lab/internal/api/middleware"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// FindingsHandler handles case management and population scans
type FindingsHandler struct {
	cases     *services.CaseService
	detection *services.DetectionService
	logger    *logger.Logger
}

// NewFindingsHandler creates a new findings handler
func NewFindingsHandler(cases *services.CaseService, detection *services.DetectionService, log *logger.Logger) *FindingsHandler {
	return &FindingsHandler{
		cases:     cases,
		detection: detection,
		logger:    log.WithComponent("findings-handler"),
	}
}

// List handles GET /api/v1/findings?identity=&status=&risk_level=&limit=&offset=
func (h *FindingsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.FindingFilter{
		Identity:  q.Get("identity"),
		Status:    models.FindingStatus(q.Get("status")),
		RiskLevel: models.RiskLevel(q.Get("risk_level")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(h.logger, w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(h.logger, w, http.StatusBadRequest, "invalid offset", err)
			return
		}
		filter.Offset = n
	}

	findings, err := h.cases.ListFindings(r.Context(), filter)
	if err != nil {
		respondServiceError(h.logger, w, "failed to list findings", err)
		return
	}
	if findings == nil {
		findings = []*models.Finding{}
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"findings": findings,
		"count":    len(findings),
	})
}

// Get handles GET /api/v1/findings/{id}
func (h *FindingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid finding ID", err)
		return
	}

	finding, err := h.cases.GetFinding(r.Context(), id)
	if err != nil {
		respondServiceError(h.logger, w, "failed to get finding", err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, finding)
}

type statusRequest struct {
	Status models.FindingStatus `json:"status"`
	Actor  string               `json:"actor"`
	Notes  string               `json:"notes"`
}

// UpdateStatus handles PATCH /api/v1/findings/{id}/status
func (h *FindingsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid finding ID", err)
		return
	}

	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Actor == "" {
		req.Actor = apimiddleware.GetActor(r.Context())
	}

	finding, err := h.cases.UpdateStatus(r.Context(), id, req.Status, req.Actor, req.Notes)
	if err != nil {
		respondServiceError(h.logger, w, "failed to update finding", err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, finding)
}

type implementedRequest struct {
	Actor string `json:"actor"`
}

// MarkImplemented handles POST /api/v1/mitigations/{id}/implemented
func (h *FindingsHandler) MarkImplemented(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid mitigation ID", err)
		return
	}

	var req implementedRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Actor == "" {
		req.Actor = apimiddleware.GetActor(r.Context())
	}

	action, err := h.cases.MarkImplemented(r.Context(), id, req.Actor)
	if err != nil {
		respondServiceError(h.logger, w, "failed to mark mitigation implemented", err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, action)
}

// Stats handles GET /api/v1/findings/stats
func (h *FindingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cases.Stats(r.Context())
	if err != nil {
		respondServiceError(h.logger, w, "failed to get finding stats", err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, stats)
}

// Scan handles POST /api/v1/scan
func (h *FindingsHandler) Scan(w http.ResponseWriter, r *http.Request) {
	result, err := h.detection.Scan(r.Context())
	if err != nil {
		respondServiceError(h.logger, w, "scan failed", err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, result)
}
