package models

import "time"

// RiskLevel buckets a 0-100 risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelFor maps a risk score onto its level
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score < 40:
		return RiskLevelLow
	case score < 60:
		return RiskLevelMedium
	case score < 80:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// ScoreResult is the anomaly model's verdict on a single fingerprint
type ScoreResult struct {
	IsAnomaly bool      `json:"is_anomaly"`
	RawScore  float64   `json:"raw_score"` // negative means outlier
	RiskScore int       `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level"`
	Cluster   int       `json:"cluster"`
}

// Impact is the direction a feature pushes anomaly risk
type Impact string

const (
	ImpactIncreases Impact = "increases"
	ImpactDecreases Impact = "decreases"
)

// AttributionMethod names how contributions were computed
type AttributionMethod string

const (
	AttributionTreeSHAP  AttributionMethod = "tree_shap"
	AttributionHeuristic AttributionMethod = "heuristic"
)

// AttributedFeature is one ranked entry of an explanation
type AttributedFeature struct {
	Feature      string  `json:"feature"`
	DisplayName  string  `json:"display_name"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Impact       Impact  `json:"impact"`
	Description  string  `json:"description"`
}

// Explanation decomposes an anomaly score into per-feature contributions
type Explanation struct {
	Method        AttributionMethod   `json:"method"`
	Contributions map[string]float64  `json:"per_feature_contributions"`
	TopFeatures   []AttributedFeature `json:"top_features"`
}

// ModelInfo describes the currently loaded anomaly model artifact
type ModelInfo struct {
	ModelType     string    `json:"model_type"`
	Version       string    `json:"version"`
	IsTrained     bool      `json:"is_trained"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
	NSamples      int       `json:"n_samples"`
	NFeatures     int       `json:"n_features"`
	FeatureNames  []string  `json:"feature_names,omitempty"`
	Contamination float64   `json:"contamination,omitempty"`
	NumTrees      int       `json:"num_trees,omitempty"`
	Clusters      int       `json:"clusters,omitempty"`
	Offset        float64   `json:"offset,omitempty"`
	Silhouette    float64   `json:"silhouette,omitempty"`
	Inertia       float64   `json:"inertia,omitempty"`
}

// TrainingResult summarizes a completed training run
type TrainingResult struct {
	Info         ModelInfo     `json:"model"`
	OutlierCount int           `json:"outlier_count"`
	Duration     time.Duration `json:"duration"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
}
