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

func seedIdentity(t *testing.T, store *memory.Store, id, name string) {
	t.Helper()
	require.NoError(t, store.UpsertIdentity(context.Background(), &models.Identity{
		ID:               id,
		DisplayName:      name,
		BaselineLocation: strPtr("NYC"),
	}))
}

// noisyEvents is a burst of escalations and failed logins in the last few hours
func noisyEvents(identity string) []*models.Event {
	now := time.Now().UTC()
	var out []*models.Event
	for i := 0; i < 30; i++ {
		out = append(out, &models.Event{Identity: identity, Type: models.EventTypePrivilegeEscalation, Timestamp: now.Add(-time.Duration(i+1) * time.Minute)})
	}
	for i := 0; i < 20; i++ {
		out = append(out, &models.Event{Identity: identity, Type: models.EventTypeLogin, Success: false, Timestamp: now.Add(-time.Duration(i+1) * time.Minute), Location: strPtr("Lagos")})
	}
	return out
}

func TestIngestEvent_PolicyViolationBypassesModel(t *testing.T) {
	ctx := context.Background()
	handle := NewModelHandle()
	svc, store, pub := newTestPipeline(t, handle)
	seedIdentity(t, store, "jdoe", "Jane Doe")

	ev := &models.Event{Identity: "jdoe", Type: models.EventTypePolicyViolation, Action: strPtr("usb_storage")}
	res, err := svc.IngestEvent(ctx, ev)
	require.NoError(t, err)
	require.NotNil(t, res.Finding)
	assert.Empty(t, res.PipelineError)

	f := res.Finding
	assert.Equal(t, models.RiskLevelCritical, f.RiskLevel)
	assert.Equal(t, 100, f.RiskScore)
	assert.Equal(t, models.FindingStatusOpen, f.Status)
	assert.Equal(t, models.FindingSourceRule, f.Source)
	assert.Equal(t, CategoryPolicyViolation, f.Category)
	require.Len(t, f.Techniques, 1)
	assert.Equal(t, "T1078", f.Techniques[0].TechniqueID)
	assert.Equal(t, f.ID, f.Techniques[0].FindingID)
	require.Len(t, f.Mitigations, 1)
	assert.Equal(t, f.ID, f.Mitigations[0].FindingID)
	assert.NotEmpty(t, f.AttributedFeatures)
	require.NotNil(t, f.TriggerEventID)
	assert.Equal(t, ev.ID, *f.TriggerEventID)

	assert.False(t, handle.IsTrained())

	stored, err := store.GetFinding(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Techniques, 1)
	assert.Len(t, pub.created, 1)
}

func TestIngestEvent_UntrainedModelSkipsQuietly(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestPipeline(t, NewModelHandle())
	seedIdentity(t, store, "jdoe", "Jane Doe")

	res, err := svc.IngestEvent(ctx, &models.Event{Identity: "jdoe", Type: models.EventTypeLogin, Success: true})
	require.NoError(t, err)
	assert.Nil(t, res.Finding)
	assert.Empty(t, res.PipelineError)
	assert.NotEqual(t, uuid.Nil, res.Event.ID)
	assert.False(t, res.Event.Timestamp.IsZero())

	events, err := store.FetchEvents(ctx, "jdoe", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngestEvent_UnknownIdentity(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestPipeline(t, NewModelHandle())

	_, err := svc.IngestEvent(ctx, &models.Event{Identity: "ghost", Type: models.EventTypeLogin})
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)

	events, err := store.FetchEvents(ctx, "ghost", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIngestEvent_AnomalyProducesFinding(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newTestPipeline(t, trainedHandle(t))
	seedIdentity(t, store, "mallory", "Mallory")

	n, err := svc.RecordBulk(ctx, noisyEvents("mallory"))
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	ev := &models.Event{Identity: "mallory", Type: models.EventTypePrivilegeEscalation}
	res, err := svc.IngestEvent(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, res.PipelineError)
	require.NotNil(t, res.Finding)

	f := res.Finding
	assert.Equal(t, models.FindingSourceModel, f.Source)
	assert.Equal(t, models.FindingStatusOpen, f.Status)
	assert.Less(t, f.RawScore, 0.0)
	assert.Equal(t, models.RiskLevelFor(f.RiskScore), f.RiskLevel)
	assert.NotEmpty(t, f.Description)
	assert.NotEmpty(t, f.AttributedFeatures)
	assert.LessOrEqual(t, len(f.AttributedFeatures), MaxTopFeatures)
	assert.Len(t, f.Contributions, models.NumFeatures)
	assert.NotEmpty(t, f.Compliance)
	require.NotNil(t, f.Cluster)
	require.NotNil(t, f.TriggerEventID)
	assert.Equal(t, ev.ID, *f.TriggerEventID)

	for _, m := range f.Techniques {
		assert.Greater(t, m.Confidence, 0.3)
		assert.Equal(t, f.ID, m.FindingID)
	}
	require.NotEmpty(t, f.Mitigations)
	assertSortedByPriority(t, f.Mitigations)
	for _, a := range f.Mitigations {
		assert.Equal(t, f.ID, a.FindingID)
	}

	listed, err := store.ListFindings(ctx, models.FindingFilter{Identity: "mallory"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, f.ID, listed[0].ID)
	assert.Len(t, pub.created, 1)
}

func TestIngestBatch_AppliesRulesPerEvent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestPipeline(t, NewModelHandle())
	seedIdentity(t, store, "jdoe", "Jane Doe")

	res, err := svc.IngestBatch(ctx, "jdoe", []*models.Event{
		{Type: models.EventTypeLogin, Success: true},
		{Type: models.EventTypeProcessStart, CPUUsage: floatPtr(97)},
		{Type: models.EventTypePolicyViolation},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.EventsReceived)
	assert.Empty(t, res.PipelineError)
	require.Len(t, res.Findings, 2)

	assert.Equal(t, CategoryHighCPUUsage, res.Findings[0].Category)
	require.NotEmpty(t, res.Findings[0].Techniques)
	assert.Equal(t, "T1496", res.Findings[0].Techniques[0].TechniqueID)
	assert.Equal(t, models.RiskLevelHigh, res.Findings[0].RiskLevel)
	assert.Equal(t, CategoryPolicyViolation, res.Findings[1].Category)

	events, err := store.FetchEvents(ctx, "jdoe", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecordBulk_SkipsUnknownIdentities(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestPipeline(t, NewModelHandle())
	seedIdentity(t, store, "jdoe", "Jane Doe")

	n, err := svc.RecordBulk(ctx, []*models.Event{
		{Identity: "jdoe", Type: models.EventTypeLogin, Success: true},
		{Identity: "ghost", Type: models.EventTypeLogin},
		{Identity: "jdoe", Type: "firewall"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := store.FetchEvents(ctx, "jdoe", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeFirewallChange, events[1].Type)
}

func TestRecordBulk_StoresTimestampsInUTC(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestPipeline(t, NewModelHandle())
	seedIdentity(t, store, "jdoe", "Jane Doe")

	karachi := time.FixedZone("+05:00", 5*60*60)
	local := time.Date(2026, 10, 14, 3, 0, 0, 0, karachi)
	_, err := svc.RecordBulk(ctx, []*models.Event{
		{Identity: "jdoe", Type: models.EventTypeLogin, Success: true, Timestamp: local},
	})
	require.NoError(t, err)

	events, err := store.FetchEvents(ctx, "jdoe", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.UTC, events[0].Timestamp.Location())
	assert.Equal(t, 22, events[0].Timestamp.Hour())
	assert.True(t, local.Equal(events[0].Timestamp))
}

func TestScan(t *testing.T) {
	ctx := context.Background()

	untrained, _, _ := newTestPipeline(t, NewModelHandle())
	_, err := untrained.Scan(ctx)
	assert.ErrorIs(t, err, models.ErrModelNotTrained)

	svc, store, _ := newTestPipeline(t, trainedHandle(t))
	seedIdentity(t, store, "quiet", "Quiet User")
	seedIdentity(t, store, "mallory", "Mallory")
	_, err = svc.RecordBulk(ctx, noisyEvents("mallory"))
	require.NoError(t, err)

	res, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "mallory", res.Findings[0].Identity)
}

type panickingEvents struct {
	*memory.Store
}

func (p panickingEvents) FetchEvents(context.Context, string, time.Time) ([]models.Event, error) {
	panic("storage driver exploded")
}

func TestIngestEvent_PipelinePanicDoesNotFailIngestion(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()
	store := memory.NewStore()
	seedIdentity(t, store, "jdoe", "Jane Doe")
	events := panickingEvents{store}
	handle := trainedHandle(t)

	svc := NewDetectionService(DetectionDeps{
		Events:    events,
		Findings:  store,
		Extractor: NewFeatureExtractor(events, FeatureExtractorConfig{}, log),
		Handle:    handle,
		Explainer: NewExplainer(handle, false, log),
		Mapper:    NewTechniqueMapper(DefaultTechniqueCatalog, DefaultMapperWeights(), log),
		Planner:   NewMitigationPlanner(log),
		Rules:     NewRuleEngine(90, 90),
	}, DetectionConfig{}, log)

	res, err := svc.IngestEvent(ctx, &models.Event{Identity: "jdoe", Type: models.EventTypeLogin, Success: true})
	require.NoError(t, err)
	assert.Nil(t, res.Finding)
	assert.Contains(t, res.PipelineError, "storage driver exploded")

	recorded, err := store.FetchEvents(ctx, "jdoe", time.Time{})
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
}
