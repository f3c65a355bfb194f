package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// AnomalyModelVersion is bumped whenever the artifact layout changes
const AnomalyModelVersion = "2"

// AnomalyModel is an immutable trained artifact: outlier scorer, cluster head and the
// scaler both were fit through. A new training run replaces it wholesale.
type AnomalyModel struct {
	Version       string           `json:"version"`
	Scorer        *IsolationForest `json:"outlier_scorer"`
	Clusters      *KMeans          `json:"cluster_model"`
	Scaler        *StandardScaler  `json:"feature_scaler"`
	FeatureNames  []string         `json:"feature_names"`
	TrainedAt     time.Time        `json:"trained_at"`
	NSamples      int              `json:"n_samples"`
	NFeatures     int              `json:"n_features"`
	Contamination float64          `json:"contamination"`
}

// TrainOptions are the hyperparameters of a training run
type TrainOptions struct {
	Contamination float64
	Clusters      int
	NumTrees      int
	SampleSize    int
	Restarts      int
	RandomSeed    int64
	MinPopulation int
}

// DefaultTrainOptions matches the documented defaults
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Contamination: 0.1,
		Clusters:      5,
		NumTrees:      100,
		SampleSize:    256,
		Restarts:      10,
		RandomSeed:    42,
		MinPopulation: 10,
	}
}

// TrainAnomalyModel fits scaler, isolation forest and k-means over a fingerprint population
func TrainAnomalyModel(ctx context.Context, population []models.Fingerprint, opts TrainOptions, log *logger.Logger) (*AnomalyModel, error) {
	if opts.MinPopulation <= 0 {
		opts.MinPopulation = DefaultTrainOptions().MinPopulation
	}
	if len(population) < opts.MinPopulation {
		return nil, fmt.Errorf("%w: %d fingerprints, need at least %d", models.ErrInsufficientData, len(population), opts.MinPopulation)
	}

	raw := make([][]float64, len(population))
	for i, fp := range population {
		raw[i] = fp.Vector()
	}

	scaler, err := FitStandardScaler(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	data := scaler.TransformAll(raw)

	forest := NewIsolationForest(IsolationForestConfig{
		NumTrees:      opts.NumTrees,
		SampleSize:    opts.SampleSize,
		Contamination: opts.Contamination,
		RandomSeed:    opts.RandomSeed,
	}, log)
	if err := forest.Train(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to train outlier scorer: %w", err)
	}

	km := NewKMeans(KMeansConfig{
		K:          opts.Clusters,
		Restarts:   opts.Restarts,
		RandomSeed: opts.RandomSeed,
	}, log)
	if err := km.Train(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to train cluster model: %w", err)
	}

	return &AnomalyModel{
		Version:       AnomalyModelVersion,
		Scorer:        forest,
		Clusters:      km,
		Scaler:        scaler,
		FeatureNames:  append([]string(nil), models.FeatureNames[:]...),
		TrainedAt:     time.Now().UTC(),
		NSamples:      len(population),
		NFeatures:     models.NumFeatures,
		Contamination: forest.Contamination,
	}, nil
}

// Validate checks that a loaded artifact is usable for inference
func (m *AnomalyModel) Validate() error {
	if m.Scorer == nil || m.Clusters == nil || m.Scaler == nil {
		return errors.New("artifact is missing a component")
	}
	if m.NFeatures != models.NumFeatures || len(m.FeatureNames) != models.NumFeatures {
		return fmt.Errorf("artifact has %d features, expected %d", m.NFeatures, models.NumFeatures)
	}
	for i, name := range m.FeatureNames {
		if name != models.FeatureNames[i] {
			return fmt.Errorf("artifact feature %d is %q, expected %q", i, name, models.FeatureNames[i])
		}
	}
	if len(m.Scaler.Mean) != models.NumFeatures || len(m.Scaler.Scale) != models.NumFeatures {
		return errors.New("artifact scaler has wrong dimensionality")
	}
	if len(m.Scorer.Trees) == 0 {
		return errors.New("artifact has no trees")
	}
	if len(m.Clusters.Centroids) == 0 {
		return errors.New("artifact has no centroids")
	}
	return nil
}

// PredictSingle scores one fingerprint against the artifact
func (m *AnomalyModel) PredictSingle(fp models.Fingerprint) models.ScoreResult {
	x := m.Scaler.Transform(fp.Vector())
	raw := m.Scorer.DecisionFunction(x)
	cluster, _ := m.Clusters.Predict(x)
	risk := RiskScore(raw)

	return models.ScoreResult{
		IsAnomaly: raw < 0,
		RawScore:  raw,
		RiskScore: risk,
		RiskLevel: models.RiskLevelFor(risk),
		Cluster:   cluster,
	}
}

// Info describes the artifact
func (m *AnomalyModel) Info() models.ModelInfo {
	return models.ModelInfo{
		ModelType:     "isolation_forest+kmeans",
		Version:       m.Version,
		IsTrained:     true,
		TrainedAt:     m.TrainedAt,
		NSamples:      m.NSamples,
		NFeatures:     m.NFeatures,
		FeatureNames:  m.FeatureNames,
		Contamination: m.Contamination,
		NumTrees:      len(m.Scorer.Trees),
		Clusters:      len(m.Clusters.Centroids),
		Offset:        m.Scorer.Offset,
		Silhouette:    m.Clusters.Silhouette,
		Inertia:       m.Clusters.Inertia,
	}
}

// RiskScore maps a decision value onto 0-100; lower raw scores mean higher risk
func RiskScore(raw float64) int {
	r := math.Round((0.5 - raw) * 100)
	if math.IsNaN(r) {
		return 100
	}
	return int(math.Max(0, math.Min(100, r)))
}
