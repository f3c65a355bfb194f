// Package memory provides in-process event and finding stores for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
)

// Store implements both the event store and the finding store in memory
type Store struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
	events     map[string][]models.Event
	findings   map[uuid.UUID]*models.Finding
	actions    map[uuid.UUID]uuid.UUID // action id -> finding id
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		identities: make(map[string]*models.Identity),
		events:     make(map[string][]models.Event),
		findings:   make(map[uuid.UUID]*models.Finding),
		actions:    make(map[uuid.UUID]uuid.UUID),
	}
}

// UpsertIdentity creates or replaces an identity
func (s *Store) UpsertIdentity(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *identity
	if existing, ok := s.identities[identity.ID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = existing.CreatedAt
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.identities[identity.ID] = &cp
	return nil
}

// Identity returns an identity or models.ErrInvalidIdentity
func (s *Store) Identity(_ context.Context, id string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, models.ErrInvalidIdentity
	}
	cp := *identity
	return &cp, nil
}

// ListIdentities returns all identities ordered by id
func (s *Store) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, *identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BaselineLocation returns the identity's usual location, if any
func (s *Store) BaselineLocation(_ context.Context, id string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, models.ErrInvalidIdentity
	}
	return identity.BaselineLocation, nil
}

// RecordEvents appends events; they are never modified afterwards
func (s *Store) RecordEvents(_ context.Context, events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, ok := s.identities[ev.Identity]; !ok {
			return models.ErrInvalidIdentity
		}
	}
	for _, ev := range events {
		s.events[ev.Identity] = append(s.events[ev.Identity], *ev)
	}
	return nil
}

// FetchEvents returns events at or after since in timestamp order
func (s *Store) FetchEvents(_ context.Context, identity string, since time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, ev := range s.events[identity] {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// CreateFinding stores a finding with its mappings and actions
func (s *Store) CreateFinding(_ context.Context, f *models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneFinding(f)
	s.findings[f.ID] = cp
	for _, a := range cp.Mitigations {
		s.actions[a.ID] = f.ID
	}
	return nil
}

// GetFinding returns a copy of a stored finding
func (s *Store) GetFinding(_ context.Context, id uuid.UUID) (*models.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.findings[id]
	if !ok {
		return nil, models.ErrFindingNotFound
	}
	return cloneFinding(f), nil
}

// ListFindings filters and pages findings, newest first
func (s *Store) ListFindings(_ context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Finding
	for _, f := range s.findings {
		if filter.Identity != "" && f.Identity != filter.Identity {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.RiskLevel != "" && f.RiskLevel != filter.RiskLevel {
			continue
		}
		out = append(out, cloneFinding(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})

	if filter.Offset >= len(out) {
		return []*models.Finding{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateFindingStatus persists the status and resolution fields of f
func (s *Store) UpdateFindingStatus(_ context.Context, f *models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.findings[f.ID]
	if !ok {
		return models.ErrFindingNotFound
	}
	stored.Status = f.Status
	stored.ResolvedAt = f.ResolvedAt
	stored.ResolvedBy = f.ResolvedBy
	stored.ResolutionNotes = f.ResolutionNotes
	return nil
}

// MarkMitigationImplemented flags an action as done; repeated calls keep the first stamp
func (s *Store) MarkMitigationImplemented(_ context.Context, id uuid.UUID, by string, at time.Time) (*models.MitigationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	findingID, ok := s.actions[id]
	if !ok {
		return nil, models.ErrMitigationNotFound
	}
	f := s.findings[findingID]
	for i := range f.Mitigations {
		a := &f.Mitigations[i]
		if a.ID != id {
			continue
		}
		if !a.Implemented {
			a.Implemented = true
			a.ImplementedAt = &at
			if by != "" {
				a.ImplementedBy = &by
			}
		}
		cp := *a
		return &cp, nil
	}
	return nil, models.ErrMitigationNotFound
}

// FindingStats aggregates counts over all findings
func (s *Store) FindingStats(_ context.Context) (*models.FindingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.FindingStats{
		ByStatus:    make(map[models.FindingStatus]int),
		ByRiskLevel: make(map[models.RiskLevel]int),
		ByCategory:  make(map[string]int),
	}
	for _, f := range s.findings {
		stats.Total++
		stats.ByStatus[f.Status]++
		stats.ByRiskLevel[f.RiskLevel]++
		stats.ByCategory[f.Category]++
	}
	return stats, nil
}

func cloneFinding(f *models.Finding) *models.Finding {
	cp := *f
	cp.Techniques = append([]models.TechniqueMapping(nil), f.Techniques...)
	cp.Mitigations = append([]models.MitigationAction(nil), f.Mitigations...)
	cp.AttributedFeatures = append([]models.AttributedFeature(nil), f.AttributedFeatures...)
	cp.Compliance = append([]string(nil), f.Compliance...)
	if f.Contributions != nil {
		cp.Contributions = make(map[string]float64, len(f.Contributions))
		for k, v := range f.Contributions {
			cp.Contributions[k] = v
		}
	}
	return &cp
}
