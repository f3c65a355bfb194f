package services

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

func TestTrainAnomalyModel_InsufficientData(t *testing.T) {
	_, err := TrainAnomalyModel(context.Background(), makePopulation(9, 1), DefaultTrainOptions(), logger.Nop())
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestTrainAnomalyModel_IdenticalPopulationHasNoOutliers(t *testing.T) {
	population := make([]models.Fingerprint, 20)
	for i := range population {
		population[i] = models.DefaultFingerprint
	}

	m, err := TrainAnomalyModel(context.Background(), population, smallTrainOptions(), logger.Nop())
	require.NoError(t, err)

	for _, fp := range population {
		res := m.PredictSingle(fp)
		assert.False(t, res.IsAnomaly)
		assert.Equal(t, 0.0, res.RawScore)
		assert.Equal(t, 50, res.RiskScore)
		assert.Equal(t, models.RiskLevelMedium, res.RiskLevel)
	}
}

func TestAnomalyModel_ScoreIsDeterministic(t *testing.T) {
	population := makePopulation(150, 3)
	a, err := TrainAnomalyModel(context.Background(), population, smallTrainOptions(), logger.Nop())
	require.NoError(t, err)
	b, err := TrainAnomalyModel(context.Background(), population, smallTrainOptions(), logger.Nop())
	require.NoError(t, err)

	probe := extremeFingerprint()
	assert.Equal(t, a.PredictSingle(probe), a.PredictSingle(probe))
	assert.Equal(t, a.PredictSingle(probe), b.PredictSingle(probe))
	assert.Equal(t, a.Scorer.Offset, b.Scorer.Offset)
}

func TestAnomalyModel_FlagsOutlier(t *testing.T) {
	m := trainedModel(t)

	outlier := m.PredictSingle(extremeFingerprint())
	typical := m.PredictSingle(models.DefaultFingerprint)

	assert.True(t, outlier.IsAnomaly)
	assert.Less(t, outlier.RawScore, 0.0)
	assert.Greater(t, outlier.RiskScore, typical.RiskScore)
	assert.False(t, typical.IsAnomaly)
	assert.GreaterOrEqual(t, outlier.Cluster, 0)
	assert.Less(t, outlier.Cluster, len(m.Clusters.Centroids))
}

func TestAnomalyModel_ContaminationShareOfTrainingOutliers(t *testing.T) {
	population := makePopulation(200, 11)
	m, err := TrainAnomalyModel(context.Background(), population, smallTrainOptions(), logger.Nop())
	require.NoError(t, err)

	outliers := 0
	for _, fp := range population {
		if m.PredictSingle(fp).IsAnomaly {
			outliers++
		}
	}
	// offset is the 10th percentile of training scores
	assert.InDelta(t, 20, outliers, 2)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		raw  float64
		want int
	}{
		{-1, 100},
		{-0.5, 100},
		{-0.3, 80},
		{0, 50},
		{0.1, 40},
		{0.5, 0},
		{0.9, 0},
		{math.NaN(), 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskScore(tt.raw), "raw=%v", tt.raw)
	}
}

func TestRiskScore_MonotoneAndBounded(t *testing.T) {
	prev := 101
	for raw := -1.5; raw <= 1.5; raw += 0.01 {
		r := RiskScore(raw)
		assert.GreaterOrEqual(t, r, 0)
		assert.LessOrEqual(t, r, 100)
		assert.LessOrEqual(t, r, prev)
		prev = r
	}
}

func TestAnomalyModel_ArtifactSurvivesJSON(t *testing.T) {
	m := trainedModel(t)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var loaded AnomalyModel
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.NoError(t, loaded.Validate())

	for _, fp := range []models.Fingerprint{models.DefaultFingerprint, extremeFingerprint()} {
		assert.Equal(t, m.PredictSingle(fp), loaded.PredictSingle(fp))
	}
}

func TestAnomalyModel_ValidateRejectsForeignLayout(t *testing.T) {
	m := trainedModel(t)
	m.FeatureNames = append([]string(nil), m.FeatureNames...)
	m.FeatureNames[0] = "login_hour"
	assert.Error(t, m.Validate())

	assert.Error(t, (&AnomalyModel{}).Validate())
}

func TestModelHandle(t *testing.T) {
	h := NewModelHandle()
	assert.False(t, h.IsTrained())
	assert.False(t, h.Info().IsTrained)

	_, err := h.Score(models.DefaultFingerprint)
	assert.ErrorIs(t, err, models.ErrModelNotTrained)

	m := trainedModel(t)
	assert.Nil(t, h.Swap(m))
	assert.Same(t, m, h.Current())

	info := h.Info()
	assert.True(t, info.IsTrained)
	assert.Equal(t, 200, info.NSamples)
	assert.Equal(t, models.NumFeatures, info.NFeatures)
	assert.Equal(t, 50, info.NumTrees)
}
