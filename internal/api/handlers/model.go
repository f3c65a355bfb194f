package handlers

import (
	"fmt"
	"net/http"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// ModelHandler exposes the anomaly model and the attribution, mapping and planning stages
type ModelHandler struct {
	handle    *services.ModelHandle
	trainer   *services.Trainer
	explainer *services.Explainer
	mapper    *services.TechniqueMapper
	planner   *services.MitigationPlanner
	logger    *logger.Logger
}

// NewModelHandler creates a new model handler
func NewModelHandler(
	handle *services.ModelHandle,
	trainer *services.Trainer,
	explainer *services.Explainer,
	mapper *services.TechniqueMapper,
	planner *services.MitigationPlanner,
	log *logger.Logger,
) *ModelHandler {
	return &ModelHandler{
		handle:    handle,
		trainer:   trainer,
		explainer: explainer,
		mapper:    mapper,
		planner:   planner,
		logger:    log.WithComponent("model-handler"),
	}
}

// Info handles GET /api/v1/model
func (h *ModelHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := h.handle.Info()
	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"model":    info,
		"training": h.trainer.IsTraining(),
	})
}

type trainRequest struct {
	Population []models.Fingerprint `json:"population"`
}

// Train handles POST /api/v1/model/train. Without a population in the body the
// population is built from every identity's baseline window.
func (h *ModelHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var (
		result *models.TrainingResult
		err    error
	)
	if len(req.Population) > 0 {
		result, err = h.trainer.Train(r.Context(), req.Population)
	} else {
		result, err = h.trainer.TrainFromStore(r.Context())
	}
	if err != nil {
		respondServiceError(h.logger, w, "training failed", err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, result)
}

type fingerprintRequest struct {
	Fingerprint *models.Fingerprint `json:"fingerprint"`
}

func (h *ModelHandler) readFingerprint(w http.ResponseWriter, r *http.Request) (models.Fingerprint, bool) {
	var req fingerprintRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid fingerprint", err)
		return models.Fingerprint{}, false
	}
	if req.Fingerprint == nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid fingerprint", fmt.Errorf("fingerprint is required"))
		return models.Fingerprint{}, false
	}
	return *req.Fingerprint, true
}

// Score handles POST /api/v1/model/score
func (h *ModelHandler) Score(w http.ResponseWriter, r *http.Request) {
	fp, ok := h.readFingerprint(w, r)
	if !ok {
		return
	}
	result, err := h.handle.Score(fp)
	if err != nil {
		respondServiceError(h.logger, w, "scoring failed", err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, result)
}

// Explain handles POST /api/v1/model/explain
func (h *ModelHandler) Explain(w http.ResponseWriter, r *http.Request) {
	fp, ok := h.readFingerprint(w, r)
	if !ok {
		return
	}
	explanation, err := h.explainer.Explain(fp)
	if err != nil {
		respondServiceError(h.logger, w, "attribution failed", err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, explanation)
}

// Catalog handles GET /api/v1/techniques
func (h *ModelHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, h.mapper.Catalog())
}

type mapRequest struct {
	Category    string                     `json:"category"`
	TopFeatures []models.AttributedFeature `json:"top_features"`
	RiskScore   int                        `json:"risk_score"`
}

// MapTechniques handles POST /api/v1/techniques/map
func (h *ModelHandler) MapTechniques(w http.ResponseWriter, r *http.Request) {
	var req mapRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.RiskScore < 0 || req.RiskScore > 100 {
		respondError(h.logger, w, http.StatusBadRequest, "invalid risk_score", fmt.Errorf("risk_score must be in [0, 100], got %d", req.RiskScore))
		return
	}
	if req.Category == "" {
		req.Category = services.DetermineCategory(req.TopFeatures)
	}

	techniques := h.mapper.MapTechniques(req.Category, req.TopFeatures, req.RiskScore)
	if techniques == nil {
		techniques = []models.TechniqueMapping{}
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"category":   req.Category,
		"techniques": techniques,
	})
}

type planRequest struct {
	Category   string                    `json:"category"`
	RiskLevel  models.RiskLevel          `json:"risk_level"`
	Techniques []models.TechniqueMapping `json:"techniques"`
}

// PlanMitigations handles POST /api/v1/mitigations/plan
func (h *ModelHandler) PlanMitigations(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	switch req.RiskLevel {
	case models.RiskLevelLow, models.RiskLevelMedium, models.RiskLevelHigh, models.RiskLevelCritical:
	default:
		respondError(h.logger, w, http.StatusBadRequest, "invalid risk_level", fmt.Errorf("unknown risk level %q", req.RiskLevel))
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"actions":    h.planner.PlanMitigations(req.Category, req.RiskLevel, req.Techniques),
		"compliance": h.planner.ComplianceCitations(req.Category),
	})
}
