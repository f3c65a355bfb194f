package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CaseService handles analyst workflow on stored findings
type CaseService struct {
	findings  FindingStore
	publisher Publisher
	now       func() time.Time
	logger    *logger.Logger
}

// NewCaseService creates a new case service; publisher may be nil
func NewCaseService(findings FindingStore, publisher Publisher, log *logger.Logger) *CaseService {
	return &CaseService{
		findings:  findings,
		publisher: publisher,
		now:       time.Now,
		logger:    log.WithComponent("cases"),
	}
}

// GetFinding returns a finding with its mappings and actions
func (s *CaseService) GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	return s.findings.GetFinding(ctx, id)
}

// ListFindings returns findings newest first
func (s *CaseService) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.findings.ListFindings(ctx, filter)
}

// UpdateStatus moves a finding through open -> investigating -> resolved | false_positive
func (s *CaseService) UpdateStatus(ctx context.Context, id uuid.UUID, next models.FindingStatus, actor, notes string) (*models.Finding, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, next)
	}
	f, err := s.findings.GetFinding(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := f.Status
	if err := f.Transition(next, actor, notes, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.findings.UpdateFindingStatus(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to update finding: %w", err)
	}

	s.logger.WithFindingID(id.String()).Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("actor", actor).
		Msg("finding status changed")

	if s.publisher != nil {
		if err := s.publisher.PublishFindingUpdate(ctx, f); err != nil {
			s.logger.Warn().Err(err).Str("finding_id", id.String()).Msg("failed to publish finding update")
		}
	}
	return f, nil
}

// MarkImplemented records that a mitigation action was carried out
func (s *CaseService) MarkImplemented(ctx context.Context, actionID uuid.UUID, actor string) (*models.MitigationAction, error) {
	action, err := s.findings.MarkMitigationImplemented(ctx, actionID, actor, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("action_id", actionID.String()).
		Str("finding_id", action.FindingID.String()).
		Str("actor", actor).
		Msg("mitigation implemented")
	return action, nil
}

// Stats aggregates findings by status, risk level and category
func (s *CaseService) Stats(ctx context.Context) (*models.FindingStats, error) {
	return s.findings.FindingStats(ctx)
}
