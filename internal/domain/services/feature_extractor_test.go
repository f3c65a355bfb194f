package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/pkg/logger"
)

func feature(fp models.Fingerprint, name string) float64 {
	v, _ := fp.Get(name)
	return v
}

func TestExtractFingerprint_NoEventsYieldsDefault(t *testing.T) {
	fp := ExtractFingerprint(nil, nil, 30*24*time.Hour)
	assert.Equal(t, models.DefaultFingerprint, fp)
}

func TestComputeFingerprint_ThirtyDaysWithoutEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertIdentity(ctx, &models.Identity{ID: "quiet", BaselineLocation: strPtr("Berlin")}))

	ex := NewFeatureExtractor(store, FeatureExtractorConfig{}, logger.Nop())
	fp, count, err := ex.ComputeFingerprint(ctx, "quiet", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 9.0, feature(fp, models.FeatureAvgLoginHour))
	assert.Equal(t, 2.0, feature(fp, models.FeatureLoginHourStd))
	assert.Equal(t, 443.0, feature(fp, models.FeatureAvgPortNumber))
	assert.Equal(t, 0.8, feature(fp, models.FeatureWeekdayActivityRatio))
	assert.Equal(t, 0.05, feature(fp, models.FeatureNightActivityRatio))
}

func TestComputeFingerprint_UnknownIdentity(t *testing.T) {
	ex := NewFeatureExtractor(memory.NewStore(), FeatureExtractorConfig{}, logger.Nop())
	_, _, err := ex.ComputeFingerprint(context.Background(), "ghost", 24*time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidIdentity)
}

func TestComputeFingerprint_IgnoresEventsAfterNow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertIdentity(ctx, &models.Identity{ID: "alice"}))

	now := monday.Add(12 * time.Hour)
	require.NoError(t, store.RecordEvents(ctx, []*models.Event{
		{ID: uuid.New(), Identity: "alice", Type: models.EventTypeFileAccess, Timestamp: now.Add(-time.Hour)},
		{ID: uuid.New(), Identity: "alice", Type: models.EventTypeFileAccess, Timestamp: now.Add(time.Hour)},
	}))

	ex := NewFeatureExtractor(store, FeatureExtractorConfig{}, logger.Nop())
	ex.now = func() time.Time { return now }

	fp, count, err := ex.ComputeFingerprint(ctx, "alice", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1.0, feature(fp, models.FeatureFileAccessRate))
}

func TestExtractFingerprint_RatesPerDay(t *testing.T) {
	var events []models.Event
	for i := 0; i < 60; i++ {
		events = append(events, models.Event{Type: models.EventTypeFileAccess, Timestamp: monday.Add(10 * time.Hour), FilePath: strPtr("/home/alice/report.txt")})
	}
	for i := 0; i < 3; i++ {
		events = append(events, models.Event{Type: models.EventTypeFirewallChange, Timestamp: monday.Add(11 * time.Hour)})
	}
	events = append(events, models.Event{Type: "firewall", Timestamp: monday.Add(11 * time.Hour)})

	fp := ExtractFingerprint(events, nil, 30*24*time.Hour)
	assert.InDelta(t, 2.0, feature(fp, models.FeatureFileAccessRate), 1e-9)
	assert.Equal(t, 0.0, feature(fp, models.FeatureSensitiveFileAccessRate))
	// four changes over 30/7 weeks
	assert.InDelta(t, 4/(30.0/7), feature(fp, models.FeatureFirewallChangeRate), 1e-9)
}

func TestExtractFingerprint_ShortWindowFloorsDenominators(t *testing.T) {
	events := []models.Event{
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(10 * time.Hour)},
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(10 * time.Hour)},
		{Type: models.EventTypeFirewallChange, Timestamp: monday.Add(10 * time.Hour)},
	}
	fp := ExtractFingerprint(events, nil, time.Hour)
	assert.Equal(t, 2.0, feature(fp, models.FeatureNetworkActivityVolume))
	assert.Equal(t, 1.0, feature(fp, models.FeatureFirewallChangeRate))
}

func TestExtractFingerprint_SensitivePaths(t *testing.T) {
	paths := []string{"/etc/shadow", "/srv/app/CONFIG.yml", "/home/bob/api_key.pem", "/home/bob/notes.txt"}
	var events []models.Event
	for _, p := range paths {
		events = append(events, models.Event{Type: models.EventTypeFileAccess, Timestamp: monday.Add(9 * time.Hour), FilePath: strPtr(p)})
	}
	fp := ExtractFingerprint(events, nil, 24*time.Hour)
	assert.Equal(t, 4.0, feature(fp, models.FeatureFileAccessRate))
	assert.Equal(t, 3.0, feature(fp, models.FeatureSensitiveFileAccessRate))
}

func TestExtractFingerprint_LoginStatistics(t *testing.T) {
	tests := []struct {
		name     string
		hours    []int
		failed   int
		wantMean float64
		wantStd  float64
	}{
		{"single login has zero spread", []int{14}, 0, 14, 0},
		{"sample standard deviation", []int{9, 11}, 1, 10, math.Sqrt2},
		{"three logins", []int{8, 9, 10}, 2, 9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []models.Event
			for i, h := range tt.hours {
				events = append(events, models.Event{
					Type:      models.EventTypeLogin,
					Timestamp: monday.Add(time.Duration(h) * time.Hour),
					Success:   i >= tt.failed,
				})
			}
			fp := ExtractFingerprint(events, nil, 24*time.Hour)
			assert.InDelta(t, tt.wantMean, feature(fp, models.FeatureAvgLoginHour), 1e-9)
			assert.InDelta(t, tt.wantStd, feature(fp, models.FeatureLoginHourStd), 1e-9)
			assert.Equal(t, float64(tt.failed), feature(fp, models.FeatureFailedLoginRate))
		})
	}
}

func TestExtractFingerprint_NoLoginsKeepsLoginDefaults(t *testing.T) {
	events := []models.Event{{Type: models.EventTypeNetwork, Timestamp: monday.Add(15 * time.Hour)}}
	fp := ExtractFingerprint(events, nil, 24*time.Hour)
	assert.Equal(t, 9.0, feature(fp, models.FeatureAvgLoginHour))
	assert.Equal(t, 2.0, feature(fp, models.FeatureLoginHourStd))
	assert.Equal(t, 0.0, feature(fp, models.FeatureUniquePortsCount))
	assert.Equal(t, 0.0, feature(fp, models.FeatureAvgPortNumber))
}

func TestExtractFingerprint_NightAndWeekday(t *testing.T) {
	saturday := monday.Add(5 * 24 * time.Hour)
	events := []models.Event{
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(23 * time.Hour)},
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(5 * time.Hour)},
		{Type: models.EventTypeNetwork, Timestamp: saturday.Add(10 * time.Hour)},
		{Type: models.EventTypeNetwork, Timestamp: saturday.Add(6 * time.Hour)},
	}
	fp := ExtractFingerprint(events, nil, 7*24*time.Hour)
	assert.Equal(t, 0.5, feature(fp, models.FeatureWeekdayActivityRatio))
	assert.Equal(t, 0.5, feature(fp, models.FeatureNightActivityRatio))
}

func TestExtractFingerprint_HoursIgnoreZoneOffset(t *testing.T) {
	instant := monday.Add(22 * time.Hour)
	offset := instant.In(time.FixedZone("+05:00", 5*60*60))
	require.Equal(t, 3, offset.Hour())

	utc := ExtractFingerprint([]models.Event{{Type: models.EventTypeLogin, Success: true, Timestamp: instant}}, nil, 24*time.Hour)
	shifted := ExtractFingerprint([]models.Event{{Type: models.EventTypeLogin, Success: true, Timestamp: offset}}, nil, 24*time.Hour)

	assert.Equal(t, utc, shifted)
	assert.Equal(t, 22.0, feature(shifted, models.FeatureAvgLoginHour))
	assert.Equal(t, 1.0, feature(shifted, models.FeatureNightActivityRatio))
}

func TestExtractFingerprint_LocationsAndPorts(t *testing.T) {
	events := []models.Event{
		{Type: models.EventTypeLogin, Success: true, Timestamp: monday.Add(9 * time.Hour), Location: strPtr("NYC")},
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(10 * time.Hour), Location: strPtr("London"), Port: intPtr(22)},
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(11 * time.Hour), Location: strPtr("London"), Port: intPtr(443)},
		{Type: models.EventTypeNetwork, Timestamp: monday.Add(12 * time.Hour), Port: intPtr(443)},
	}

	fp := ExtractFingerprint(events, strPtr("NYC"), 24*time.Hour)
	assert.Equal(t, 2.0, feature(fp, models.FeatureUniqueLocationsCount))
	assert.InDelta(t, 2.0/3, feature(fp, models.FeatureAvgLocationDistance), 1e-9)
	assert.Equal(t, 2.0, feature(fp, models.FeatureUniquePortsCount))
	assert.InDelta(t, (22+443+443)/3.0, feature(fp, models.FeatureAvgPortNumber), 1e-9)

	noBaseline := ExtractFingerprint(events, nil, 24*time.Hour)
	assert.Equal(t, 0.0, feature(noBaseline, models.FeatureAvgLocationDistance))
}

func TestFeatureExtractor_CachesBaselineLocation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.UpsertIdentity(ctx, &models.Identity{ID: "alice", BaselineLocation: strPtr("NYC")}))

	ex := NewFeatureExtractor(store, FeatureExtractorConfig{CacheSize: 4, CacheTTL: time.Hour}, logger.Nop())
	loc, err := ex.baselineLocation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "NYC", *loc)

	require.NoError(t, store.UpsertIdentity(ctx, &models.Identity{ID: "alice", BaselineLocation: strPtr("Paris")}))
	loc, err = ex.baselineLocation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "NYC", *loc)

	ex.InvalidateBaseline("alice")
	loc, err = ex.baselineLocation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Paris", *loc)
}

func TestGetFeatureNames(t *testing.T) {
	ex := NewFeatureExtractor(memory.NewStore(), FeatureExtractorConfig{}, logger.Nop())
	names := ex.GetFeatureNames()
	require.Len(t, names, models.NumFeatures)
	assert.Equal(t, models.FeatureAvgLoginHour, names[0])
	assert.Equal(t, models.FeatureNightActivityRatio, names[models.NumFeatures-1])
}
