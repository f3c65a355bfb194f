package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
)

// EventStore is the durable event store the pipeline reads from and records into.
// BaselineLocation and Identity return models.ErrInvalidIdentity for unknown identities.
type EventStore interface {
	RecordEvents(ctx context.Context, events []*models.Event) error
	FetchEvents(ctx context.Context, identity string, since time.Time) ([]models.Event, error)
	BaselineLocation(ctx context.Context, identity string) (*string, error)
	Identity(ctx context.Context, id string) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	UpsertIdentity(ctx context.Context, identity *models.Identity) error
}

// FindingStore persists findings together with their mappings and actions
type FindingStore interface {
	CreateFinding(ctx context.Context, f *models.Finding) error
	GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error)
	ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error)
	UpdateFindingStatus(ctx context.Context, f *models.Finding) error
	MarkMitigationImplemented(ctx context.Context, id uuid.UUID, by string, at time.Time) (*models.MitigationAction, error)
	FindingStats(ctx context.Context) (*models.FindingStats, error)
}

// Publisher announces findings and model changes to downstream consumers
type Publisher interface {
	PublishFinding(ctx context.Context, f *models.Finding) error
	PublishFindingUpdate(ctx context.Context, f *models.Finding) error
	PublishModelTrained(ctx context.Context, info models.ModelInfo) error
}

// ArtifactStore persists trained model artifacts
type ArtifactStore interface {
	Save(ctx context.Context, artifact *AnomalyModel) error
	Load(ctx context.Context) (*AnomalyModel, error)
}

// TrainingLock is a cross-process lease guarding training
type TrainingLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), err error)
}

// FingerprintCache keeps recently computed fingerprints
type FingerprintCache interface {
	GetFingerprint(ctx context.Context, identity string, window time.Duration) (*models.IdentityFingerprint, bool)
	SetFingerprint(ctx context.Context, fp *models.IdentityFingerprint, ttl time.Duration) error
}
