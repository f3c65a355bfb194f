package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
)

func TestStore_EventsRequireKnownIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.RecordEvents(ctx, []*models.Event{{ID: uuid.New(), Identity: "ghost", Type: models.EventTypeLogin}})
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)

	_, err = s.BaselineLocation(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
}

func TestStore_FetchEventsSinceOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.UpsertIdentity(ctx, &models.Identity{ID: "alice"}))

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordEvents(ctx, []*models.Event{
		{ID: uuid.New(), Identity: "alice", Type: models.EventTypeLogin, Timestamp: base.Add(2 * time.Hour)},
		{ID: uuid.New(), Identity: "alice", Type: models.EventTypeLogin, Timestamp: base.Add(-48 * time.Hour)},
		{ID: uuid.New(), Identity: "alice", Type: models.EventTypeLogin, Timestamp: base},
	}))

	events, err := s.FetchEvents(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, base, events[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Hour), events[1].Timestamp)
}

func TestStore_FindingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	actionID := uuid.New()
	f := &models.Finding{
		ID:         uuid.New(),
		Identity:   "alice",
		DetectedAt: time.Now().UTC(),
		RiskLevel:  models.RiskLevelHigh,
		Category:   "night_activity",
		Status:     models.FindingStatusOpen,
		Mitigations: []models.MitigationAction{
			{ID: actionID, Priority: 1, Category: models.ActionImmediate, Action: "Verify employee activity"},
		},
	}
	require.NoError(t, s.CreateFinding(ctx, f))

	got, err := s.GetFinding(ctx, f.ID)
	require.NoError(t, err)
	require.NoError(t, got.Transition(models.FindingStatusInvestigating, "", "", time.Now()))
	require.NoError(t, s.UpdateFindingStatus(ctx, got))

	again, err := s.GetFinding(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FindingStatusInvestigating, again.Status)

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	action, err := s.MarkMitigationImplemented(ctx, actionID, "analyst", at)
	require.NoError(t, err)
	assert.True(t, action.Implemented)
	assert.Equal(t, at, *action.ImplementedAt)

	action, err = s.MarkMitigationImplemented(ctx, actionID, "someone-else", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "analyst", *action.ImplementedBy)

	_, err = s.MarkMitigationImplemented(ctx, uuid.New(), "analyst", at)
	assert.ErrorIs(t, err, models.ErrMitigationNotFound)

	_, err = s.GetFinding(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrFindingNotFound)

	stats, err := s.FindingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.FindingStatusInvestigating])
	assert.Equal(t, 1, stats.ByCategory["night_activity"])
}

func TestStore_ListFindingsFilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		identity := "alice"
		if i%2 == 1 {
			identity = "bob"
		}
		require.NoError(t, s.CreateFinding(ctx, &models.Finding{
			ID:         uuid.New(),
			Identity:   identity,
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
			Status:     models.FindingStatusOpen,
		}))
	}

	alice, err := s.ListFindings(ctx, models.FindingFilter{Identity: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 3)
	assert.True(t, alice[0].DetectedAt.After(alice[1].DetectedAt))

	page, err := s.ListFindings(ctx, models.FindingFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	empty, err := s.ListFindings(ctx, models.FindingFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
