package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/metrics"
	"sentinel-lab/pkg/logger"
)

// TrainerConfig controls model training
type TrainerConfig struct {
	Options        TrainOptions
	BaselineWindow time.Duration
	Timeout        time.Duration
	LockTTL        time.Duration
	FingerprintTTL time.Duration
	Workers        int
	ArtifactPath   string // reported in results only
}

// Trainer fits new artifacts and installs them into the model handle
type Trainer struct {
	events    EventStore
	extractor *FeatureExtractor
	handle    *ModelHandle
	artifacts ArtifactStore    // optional
	lock      TrainingLock     // optional
	cache     FingerprintCache // optional
	publisher Publisher        // optional
	metrics   *metrics.Metrics
	cfg       TrainerConfig
	logger    *logger.Logger

	trainingInProgress atomic.Bool
	trainingMu         sync.Mutex
}

// TrainerDeps groups the trainer's collaborators
type TrainerDeps struct {
	Events    EventStore
	Extractor *FeatureExtractor
	Handle    *ModelHandle
	Artifacts ArtifactStore
	Lock      TrainingLock
	Cache     FingerprintCache
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// NewTrainer creates a new trainer
func NewTrainer(deps TrainerDeps, cfg TrainerConfig, log *logger.Logger) *Trainer {
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 30 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Timeout + 5*time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Trainer{
		events:    deps.Events,
		extractor: deps.Extractor,
		handle:    deps.Handle,
		artifacts: deps.Artifacts,
		lock:      deps.Lock,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		cfg:       cfg,
		logger:    log.WithComponent("trainer"),
	}
}

// IsTraining reports whether a training run is in progress in this process
func (t *Trainer) IsTraining() bool {
	return t.trainingInProgress.Load()
}

// Train fits a new artifact over the supplied population. On any failure the
// currently loaded artifact stays in place.
func (t *Trainer) Train(ctx context.Context, population []models.Fingerprint) (*models.TrainingResult, error) {
	if !t.trainingInProgress.CompareAndSwap(false, true) {
		return nil, models.ErrTrainingInProgress
	}
	defer t.trainingInProgress.Store(false)

	t.trainingMu.Lock()
	defer t.trainingMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	if t.lock != nil {
		release, err := t.lock.Acquire(ctx, t.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	return t.train(ctx, population)
}

// TrainFromStore builds the population from every identity's baseline window and trains on it
func (t *Trainer) TrainFromStore(ctx context.Context) (*models.TrainingResult, error) {
	if !t.trainingInProgress.CompareAndSwap(false, true) {
		return nil, models.ErrTrainingInProgress
	}
	defer t.trainingInProgress.Store(false)

	t.trainingMu.Lock()
	defer t.trainingMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	if t.lock != nil {
		release, err := t.lock.Acquire(ctx, t.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	population, err := t.BuildPopulation(ctx)
	if err != nil {
		t.metrics.ObserveTraining("error", 0, 0)
		return nil, err
	}
	return t.train(ctx, population)
}

// BuildPopulation computes a baseline fingerprint per identity that has events in the window
func (t *Trainer) BuildPopulation(ctx context.Context) ([]models.Fingerprint, error) {
	identities, err := t.events.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	fps := make([]*models.Fingerprint, len(identities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for i := range identities {
		i := i
		id := identities[i].ID
		g.Go(func() error {
			if t.cache != nil {
				if cached, ok := t.cache.GetFingerprint(gctx, id, t.cfg.BaselineWindow); ok {
					if cached.EventCount > 0 {
						fp := cached.Fingerprint
						fps[i] = &fp
					}
					return nil
				}
			}

			fp, count, err := t.extractor.ComputeFingerprint(gctx, id, t.cfg.BaselineWindow)
			if errors.Is(err, models.ErrInvalidIdentity) {
				t.logger.Warn().Str("identity", id).Msg("identity vanished during population build, skipping")
				return nil
			}
			if err != nil {
				return fmt.Errorf("baseline fingerprint for %s: %w", id, err)
			}
			if t.cache != nil {
				entry := &models.IdentityFingerprint{
					Identity:    id,
					Window:      t.cfg.BaselineWindow,
					EventCount:  count,
					Fingerprint: fp,
					ComputedAt:  time.Now().UTC(),
				}
				if err := t.cache.SetFingerprint(gctx, entry, t.cfg.FingerprintTTL); err != nil {
					t.logger.Warn().Err(err).Str("identity", id).Msg("failed to cache fingerprint")
				}
			}
			if count > 0 {
				fps[i] = &fp
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	population := make([]models.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if fp != nil {
			population = append(population, *fp)
		}
	}

	t.logger.Info().
		Int("identities", len(identities)).
		Int("population", len(population)).
		Msg("built training population")

	return population, nil
}

func (t *Trainer) train(ctx context.Context, population []models.Fingerprint) (*models.TrainingResult, error) {
	start := time.Now()
	t.logger.Info().Int("samples", len(population)).Msg("starting model training")

	artifact, err := TrainAnomalyModel(ctx, population, t.cfg.Options, t.logger)
	if err != nil {
		t.metrics.ObserveTraining("error", time.Since(start).Seconds(), len(population))
		t.logger.Error().Err(err).Msg("model training failed")
		return nil, err
	}

	if t.artifacts != nil {
		if err := t.artifacts.Save(ctx, artifact); err != nil {
			t.metrics.ObserveTraining("error", time.Since(start).Seconds(), len(population))
			return nil, fmt.Errorf("failed to persist artifact: %w", err)
		}
	}
	t.handle.Swap(artifact)

	outliers := 0
	for _, fp := range population {
		if artifact.PredictSingle(fp).IsAnomaly {
			outliers++
		}
	}

	result := &models.TrainingResult{
		Info:         artifact.Info(),
		OutlierCount: outliers,
		Duration:     time.Since(start),
	}
	if t.artifacts != nil {
		result.ArtifactPath = t.cfg.ArtifactPath
	}
	t.metrics.ObserveTraining("success", result.Duration.Seconds(), len(population))

	if t.publisher != nil {
		if err := t.publisher.PublishModelTrained(ctx, result.Info); err != nil {
			t.metrics.IncPublishErrors()
			t.logger.Warn().Err(err).Msg("failed to publish model trained event")
		}
	}

	t.logger.Info().
		Int("samples", artifact.NSamples).
		Int("outliers", outliers).
		Float64("silhouette", artifact.Clusters.Silhouette).
		Dur("duration", result.Duration).
		Msg("model training complete")

	return result, nil
}

// LoadArtifact installs the persisted artifact if one exists. A missing artifact is not an error.
func (t *Trainer) LoadArtifact(ctx context.Context) (bool, error) {
	if t.artifacts == nil {
		return false, nil
	}
	artifact, err := t.artifacts.Load(ctx)
	if errors.Is(err, os.ErrNotExist) {
		t.logger.Info().Msg("no persisted model artifact, starting untrained")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load artifact: %w", err)
	}
	if err := artifact.Validate(); err != nil {
		return false, fmt.Errorf("invalid artifact: %w", err)
	}
	t.handle.Swap(artifact)

	t.logger.Info().
		Str("version", artifact.Version).
		Time("trained_at", artifact.TrainedAt).
		Int("samples", artifact.NSamples).
		Msg("loaded model artifact")

	return true, nil
}
