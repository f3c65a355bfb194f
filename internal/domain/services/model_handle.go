package services

import (
	"sync/atomic"

	"sentinel-lab/internal/domain/models"
)

// ModelHandle owns the currently loaded artifact. Readers always see either the
// previous or the next complete artifact, never a partial one.
type ModelHandle struct {
	current atomic.Pointer[AnomalyModel]
}

// NewModelHandle returns an empty handle
func NewModelHandle() *ModelHandle {
	return &ModelHandle{}
}

// Current returns the loaded artifact or nil
func (h *ModelHandle) Current() *AnomalyModel {
	return h.current.Load()
}

// Swap installs a fully built artifact and returns the previous one
func (h *ModelHandle) Swap(m *AnomalyModel) *AnomalyModel {
	return h.current.Swap(m)
}

// IsTrained reports whether an artifact is loaded
func (h *ModelHandle) IsTrained() bool {
	return h.current.Load() != nil
}

// Score scores a fingerprint against the current artifact
func (h *ModelHandle) Score(fp models.Fingerprint) (models.ScoreResult, error) {
	m := h.current.Load()
	if m == nil {
		return models.ScoreResult{}, models.ErrModelNotTrained
	}
	return m.PredictSingle(fp), nil
}

// Info describes the loaded artifact, or reports an untrained model
func (h *ModelHandle) Info() models.ModelInfo {
	m := h.current.Load()
	if m == nil {
		return models.ModelInfo{
			ModelType:    "isolation_forest+kmeans",
			IsTrained:    false,
			NFeatures:    models.NumFeatures,
			FeatureNames: models.FeatureNames[:],
		}
	}
	return m.Info()
}
