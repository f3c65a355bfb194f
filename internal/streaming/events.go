package streaming

import (
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
)

// EventType represents the type of pipeline event
type EventType string

const (
	EventTypeFindingCreated EventType = "finding_created"
	EventTypeFindingUpdated EventType = "finding_updated"
	EventTypeModelTrained   EventType = "model_trained"
)

// Envelope wraps a finding or model change for downstream consumers
type Envelope struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"` // publishing bus

	Identity  string               `json:"identity,omitempty"`
	RiskLevel models.RiskLevel     `json:"risk_level,omitempty"`
	Status    models.FindingStatus `json:"status,omitempty"`

	Finding *models.Finding   `json:"finding,omitempty"`
	Model   *models.ModelInfo `json:"model,omitempty"`
}

// NewFindingEnvelope creates an envelope for a created or updated finding
func NewFindingEnvelope(eventType EventType, f *models.Finding) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Identity:  f.Identity,
		RiskLevel: f.RiskLevel,
		Status:    f.Status,
		Finding:   f,
	}
}

// NewModelEnvelope creates an envelope announcing a newly trained model
func NewModelEnvelope(info models.ModelInfo) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      EventTypeModelTrained,
		Timestamp: time.Now().UTC(),
		Model:     &info,
	}
}

var riskRank = map[models.RiskLevel]int{
	models.RiskLevelLow:      1,
	models.RiskLevelMedium:   2,
	models.RiskLevelHigh:     3,
	models.RiskLevelCritical: 4,
}

// Subscription filters the envelopes a subscriber receives
type Subscription struct {
	Identity     string           `json:"identity,omitempty"`
	MinRiskLevel models.RiskLevel `json:"min_risk_level,omitempty"`
	FindingsOnly bool             `json:"findings_only,omitempty"`
}

// Matches reports whether an envelope passes the subscription filters
func (s *Subscription) Matches(env *Envelope) bool {
	if s == nil {
		return true
	}
	if s.FindingsOnly && env.Finding == nil {
		return false
	}
	if s.Identity != "" && env.Identity != s.Identity {
		return false
	}
	if s.MinRiskLevel != "" && env.Finding != nil {
		if riskRank[env.RiskLevel] < riskRank[s.MinRiskLevel] {
			return false
		}
	}
	return true
}
