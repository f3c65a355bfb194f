package services

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/pkg/logger"
)

// makePopulation draws fingerprints scattered around the default employee profile
func makePopulation(n int, seed int64) []models.Fingerprint {
	r := rand.New(rand.NewSource(seed))
	out := make([]models.Fingerprint, n)
	for i := range out {
		fp := models.DefaultFingerprint
		for d := range fp {
			spread := math.Max(0.1*math.Abs(fp[d]), 0.05)
			fp[d] += r.NormFloat64() * spread
		}
		out[i] = fp
	}
	return out
}

// extremeFingerprint is far outside the default population on three features
func extremeFingerprint() models.Fingerprint {
	fp := models.DefaultFingerprint
	set := func(name string, v float64) {
		i, _ := models.FeatureIndex(name)
		fp[i] = v
	}
	set(models.FeaturePrivilegeEscalationRate, 25)
	set(models.FeatureFailedLoginRate, 18)
	set(models.FeatureNightActivityRatio, 0.95)
	return fp
}

func smallTrainOptions() TrainOptions {
	opts := DefaultTrainOptions()
	opts.NumTrees = 50
	opts.Restarts = 3
	return opts
}

func trainedModel(t *testing.T) *AnomalyModel {
	t.Helper()
	m, err := TrainAnomalyModel(context.Background(), makePopulation(200, 7), smallTrainOptions(), logger.Nop())
	require.NoError(t, err)
	return m
}

func trainedHandle(t *testing.T) *ModelHandle {
	t.Helper()
	h := NewModelHandle()
	h.Swap(trainedModel(t))
	return h
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

// newTestPipeline wires a detection service over an in-memory store
func newTestPipeline(t *testing.T, handle *ModelHandle) (*DetectionService, *memory.Store, *recordingPublisher) {
	t.Helper()
	log := logger.Nop()
	store := memory.NewStore()
	pub := &recordingPublisher{}

	extractor := NewFeatureExtractor(store, FeatureExtractorConfig{}, log)
	svc := NewDetectionService(DetectionDeps{
		Events:    store,
		Findings:  store,
		Publisher: pub,
		Extractor: extractor,
		Handle:    handle,
		Explainer: NewExplainer(handle, false, log),
		Mapper:    NewTechniqueMapper(DefaultTechniqueCatalog, DefaultMapperWeights(), log),
		Planner:   NewMitigationPlanner(log),
		Rules:     NewRuleEngine(90, 90),
	}, DetectionConfig{}, log)
	return svc, store, pub
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*models.Finding
	updated  []*models.Finding
	trainedN int
}

func (p *recordingPublisher) PublishFinding(_ context.Context, f *models.Finding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, f)
	return nil
}

func (p *recordingPublisher) PublishFindingUpdate(_ context.Context, f *models.Finding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, f)
	return nil
}

func (p *recordingPublisher) PublishModelTrained(_ context.Context, _ models.ModelInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trainedN++
	return nil
}

// monday is 2026-03-02, a Monday
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
