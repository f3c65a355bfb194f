package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FindingStatus tracks case-management progress on a finding
type FindingStatus string

const (
	FindingStatusOpen          FindingStatus = "open"
	FindingStatusInvestigating FindingStatus = "investigating"
	FindingStatusResolved      FindingStatus = "resolved"
	FindingStatusFalsePositive FindingStatus = "false_positive"
)

var findingTransitions = map[FindingStatus][]FindingStatus{
	FindingStatusOpen:          {FindingStatusInvestigating, FindingStatusResolved, FindingStatusFalsePositive},
	FindingStatusInvestigating: {FindingStatusResolved, FindingStatusFalsePositive},
}

// IsTerminal reports whether no further transitions are possible
func (s FindingStatus) IsTerminal() bool {
	return s == FindingStatusResolved || s == FindingStatusFalsePositive
}

// Valid reports whether s is a known status
func (s FindingStatus) Valid() bool {
	switch s {
	case FindingStatusOpen, FindingStatusInvestigating, FindingStatusResolved, FindingStatusFalsePositive:
		return true
	}
	return false
}

// CanTransitionTo reports whether a finding in status s may move to next
func (s FindingStatus) CanTransitionTo(next FindingStatus) bool {
	for _, allowed := range findingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FindingSource distinguishes model-detected findings from rule bypasses
type FindingSource string

const (
	FindingSourceModel FindingSource = "model"
	FindingSourceRule  FindingSource = "rule"
)

// Finding is a detected behavioral anomaly for one identity
type Finding struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	Identity           string              `json:"identity" db:"identity"`
	DetectedAt         time.Time           `json:"detected_at" db:"detected_at"`
	Source             FindingSource       `json:"source" db:"source"`
	RawScore           float64             `json:"raw_score" db:"raw_score"`
	RiskScore          int                 `json:"risk_score" db:"risk_score"`
	RiskLevel          RiskLevel           `json:"risk_level" db:"risk_level"`
	Category           string              `json:"category" db:"category"`
	Description        string              `json:"description" db:"description"`
	Cluster            *int                `json:"cluster,omitempty" db:"cluster"`
	TriggerEventID     *uuid.UUID          `json:"trigger_event_id,omitempty" db:"trigger_event_id"`
	Contributions      map[string]float64  `json:"per_feature_contributions,omitempty" db:"contributions"`
	AttributedFeatures []AttributedFeature `json:"attributed_features" db:"attributed_features"`
	Status             FindingStatus       `json:"status" db:"status"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy         *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNotes    *string             `json:"resolution_notes,omitempty" db:"resolution_notes"`

	Techniques  []TechniqueMapping `json:"techniques,omitempty" db:"-"`
	Mitigations []MitigationAction `json:"mitigations,omitempty" db:"-"`
	Compliance  []string           `json:"compliance,omitempty" db:"-"`
}

// Transition moves the finding to next, stamping resolution fields on terminal states
func (f *Finding) Transition(next FindingStatus, actor, notes string, at time.Time) error {
	if !f.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, next)
	}
	f.Status = next
	if next.IsTerminal() {
		f.ResolvedAt = &at
		if actor != "" {
			f.ResolvedBy = &actor
		}
	}
	if notes != "" {
		f.ResolutionNotes = &notes
	}
	return nil
}

// TechniqueMapping links a finding to a cataloged technique. Immutable once stored.
type TechniqueMapping struct {
	ID            uuid.UUID `json:"id" db:"id"`
	FindingID     uuid.UUID `json:"finding_id" db:"finding_id"`
	TechniqueID   string    `json:"technique_id" db:"technique_id"`
	TechniqueName string    `json:"technique_name" db:"technique_name"`
	Tactic        string    `json:"tactic" db:"tactic"`
	Description   string    `json:"description,omitempty" db:"description"`
	Confidence    float64   `json:"confidence" db:"confidence"`
}

// ActionCategory is the response horizon of a mitigation action
type ActionCategory string

const (
	ActionImmediate ActionCategory = "immediate"
	ActionShortTerm ActionCategory = "short_term"
	ActionLongTerm  ActionCategory = "long_term"
)

// MitigationAction is a recommended response step. Only the implemented fields change after creation.
type MitigationAction struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	FindingID     uuid.UUID      `json:"finding_id" db:"finding_id"`
	Priority      int            `json:"priority" db:"priority"`
	Category      ActionCategory `json:"category" db:"category"`
	Action        string         `json:"action" db:"action"`
	Description   string         `json:"description" db:"description"`
	Implemented   bool           `json:"implemented" db:"implemented"`
	ImplementedAt *time.Time     `json:"implemented_at,omitempty" db:"implemented_at"`
	ImplementedBy *string        `json:"implemented_by,omitempty" db:"implemented_by"`
}

// FindingFilter narrows finding listings
type FindingFilter struct {
	Identity  string
	Status    FindingStatus
	RiskLevel RiskLevel
	Limit     int
	Offset    int
}

// FindingStats aggregates finding counts for dashboards
type FindingStats struct {
	Total       int                   `json:"total"`
	ByStatus    map[FindingStatus]int `json:"by_status"`
	ByRiskLevel map[RiskLevel]int     `json:"by_risk_level"`
	ByCategory  map[string]int        `json:"by_category"`
}
