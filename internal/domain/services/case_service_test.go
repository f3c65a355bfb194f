package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/pkg/logger"
)

func seedFinding(t *testing.T, store *memory.Store) *models.Finding {
	t.Helper()
	id := uuid.New()
	f := &models.Finding{
		ID:         id,
		Identity:   "jdoe",
		DetectedAt: time.Now().UTC(),
		Source:     models.FindingSourceModel,
		RiskScore:  72,
		RiskLevel:  models.RiskLevelHigh,
		Category:   CategoryFailedLogin,
		Status:     models.FindingStatusOpen,
		Mitigations: []models.MitigationAction{
			{ID: uuid.New(), FindingID: id, Priority: 1, Category: models.ActionImmediate, Action: "Lock account temporarily"},
		},
	}
	require.NoError(t, store.CreateFinding(context.Background(), f))
	return f
}

func TestCaseService_StatusWorkflow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{}
	svc := NewCaseService(store, pub, logger.Nop())
	resolvedAt := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return resolvedAt }

	f := seedFinding(t, store)

	got, err := svc.UpdateStatus(ctx, f.ID, models.FindingStatusInvestigating, "analyst", "")
	require.NoError(t, err)
	assert.Equal(t, models.FindingStatusInvestigating, got.Status)
	assert.Nil(t, got.ResolvedAt)

	got, err = svc.UpdateStatus(ctx, f.ID, models.FindingStatusResolved, "analyst", "password reset")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, resolvedAt, *got.ResolvedAt)
	assert.Equal(t, "analyst", *got.ResolvedBy)
	assert.Equal(t, "password reset", *got.ResolutionNotes)

	_, err = svc.UpdateStatus(ctx, f.ID, models.FindingStatusOpen, "analyst", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := svc.GetFinding(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FindingStatusResolved, stored.Status)
	assert.Len(t, pub.updated, 2)
}

func TestCaseService_RejectsUnknownStatusAndFinding(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewCaseService(store, nil, logger.Nop())
	f := seedFinding(t, store)

	_, err := svc.UpdateStatus(ctx, f.ID, "closed", "analyst", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, uuid.New(), models.FindingStatusResolved, "analyst", "")
	assert.ErrorIs(t, err, models.ErrFindingNotFound)

	_, err = svc.ListFindings(ctx, models.FindingFilter{Status: "closed"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCaseService_FalsePositiveShortcut(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewCaseService(store, nil, logger.Nop())
	f := seedFinding(t, store)

	got, err := svc.UpdateStatus(ctx, f.ID, models.FindingStatusFalsePositive, "", "")
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
	assert.NotNil(t, got.ResolvedAt)
	assert.Nil(t, got.ResolvedBy)
}

func TestCaseService_MarkImplementedAndStats(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewCaseService(store, nil, logger.Nop())
	f := seedFinding(t, store)

	action, err := svc.MarkImplemented(ctx, f.Mitigations[0].ID, "analyst")
	require.NoError(t, err)
	assert.True(t, action.Implemented)
	assert.Equal(t, f.ID, action.FindingID)

	_, err = svc.MarkImplemented(ctx, uuid.New(), "analyst")
	assert.ErrorIs(t, err, models.ErrMitigationNotFound)

	list, err := svc.ListFindings(ctx, models.FindingFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Mitigations[0].Implemented)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByRiskLevel[models.RiskLevelHigh])
}
