package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/metrics"
	"sentinel-lab/pkg/logger"
)

// DetectionConfig holds the windows the pipeline fingerprints over
type DetectionConfig struct {
	RecencyWindow time.Duration // single-event ingestion
	BatchWindow   time.Duration // agent batch ingestion
	ScanWorkers   int
}

// IngestResult reports what happened to an ingested event
type IngestResult struct {
	Event         *models.Event   `json:"event"`
	Finding       *models.Finding `json:"finding,omitempty"`
	PipelineError string          `json:"pipeline_error,omitempty"`
}

// BatchResult reports a batch ingestion
type BatchResult struct {
	EventsReceived int               `json:"events_received"`
	Findings       []*models.Finding `json:"findings,omitempty"`
	PipelineError  string            `json:"pipeline_error,omitempty"`
}

// DetectionService runs the behavioral anomaly pipeline:
// fingerprint, score, explain, map, plan, persist.
type DetectionService struct {
	events    EventStore
	findings  FindingStore
	publisher Publisher
	extractor *FeatureExtractor
	handle    *ModelHandle
	explainer *Explainer
	mapper    *TechniqueMapper
	planner   *MitigationPlanner
	rules     *RuleEngine
	metrics   *metrics.Metrics
	cfg       DetectionConfig
	now       func() time.Time
	logger    *logger.Logger
}

// DetectionDeps groups the collaborators of the detection service
type DetectionDeps struct {
	Events    EventStore
	Findings  FindingStore
	Publisher Publisher // optional
	Extractor *FeatureExtractor
	Handle    *ModelHandle
	Explainer *Explainer
	Mapper    *TechniqueMapper
	Planner   *MitigationPlanner
	Rules     *RuleEngine
	Metrics   *metrics.Metrics // optional
}

// NewDetectionService wires the pipeline
func NewDetectionService(deps DetectionDeps, cfg DetectionConfig, log *logger.Logger) *DetectionService {
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 24 * time.Hour
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 7 * 24 * time.Hour
	}
	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = 4
	}
	return &DetectionService{
		events:    deps.Events,
		findings:  deps.Findings,
		publisher: deps.Publisher,
		extractor: deps.Extractor,
		handle:    deps.Handle,
		explainer: deps.Explainer,
		mapper:    deps.Mapper,
		planner:   deps.Planner,
		rules:     deps.Rules,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
		logger:    log.WithComponent("detection"),
	}
}

// IngestEvent records the event, then runs the pipeline for its identity.
// Only a storage failure fails ingestion; pipeline errors are reported in the result.
func (s *DetectionService) IngestEvent(ctx context.Context, ev *models.Event) (*IngestResult, error) {
	identity, err := s.events.Identity(ctx, ev.Identity)
	if err != nil {
		return nil, err
	}
	s.prepare(ev)
	if err := s.events.RecordEvents(ctx, []*models.Event{ev}); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	s.metrics.IncEventsIngested(string(ev.Type))

	result := &IngestResult{Event: ev}
	finding, err := s.safeDetect(ctx, identity, ev, s.cfg.RecencyWindow)
	if err != nil {
		result.PipelineError = err.Error()
	}
	result.Finding = finding
	return result, nil
}

// IngestBatch records an agent batch for one identity, applies per-event rules,
// then runs one statistical pass over the batch window.
func (s *DetectionService) IngestBatch(ctx context.Context, identityID string, events []*models.Event) (*BatchResult, error) {
	identity, err := s.events.Identity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		ev.Identity = identityID
		s.prepare(ev)
	}
	if err := s.events.RecordEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to record events: %w", err)
	}
	for _, ev := range events {
		s.metrics.IncEventsIngested(string(ev.Type))
	}

	result := &BatchResult{EventsReceived: len(events)}
	var pipelineErrs []error
	for _, ev := range events {
		if match, ok := s.rules.Evaluate(ev, identity.Name()); ok {
			f, err := s.safeRule(ctx, identity, ev, match)
			if err != nil {
				pipelineErrs = append(pipelineErrs, err)
				continue
			}
			result.Findings = append(result.Findings, f)
		}
	}

	f, err := s.safeDetect(ctx, identity, nil, s.cfg.BatchWindow)
	if err != nil {
		pipelineErrs = append(pipelineErrs, err)
	} else if f != nil {
		result.Findings = append(result.Findings, f)
	}
	if err := errors.Join(pipelineErrs...); err != nil {
		result.PipelineError = err.Error()
	}
	return result, nil
}

// RecordBulk stores events for known identities without running the pipeline.
// Events for unknown identities are skipped.
func (s *DetectionService) RecordBulk(ctx context.Context, events []*models.Event) (int, error) {
	known := make(map[string]bool)
	accepted := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		ok, seen := known[ev.Identity]
		if !seen {
			_, err := s.events.Identity(ctx, ev.Identity)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, models.ErrInvalidIdentity):
				ok = false
			default:
				return 0, err
			}
			known[ev.Identity] = ok
		}
		if ok {
			s.prepare(ev)
			accepted = append(accepted, ev)
		}
	}
	if len(accepted) == 0 {
		return 0, nil
	}
	if err := s.events.RecordEvents(ctx, accepted); err != nil {
		return 0, fmt.Errorf("failed to record events: %w", err)
	}
	for _, ev := range accepted {
		s.metrics.IncEventsIngested(string(ev.Type))
	}
	return len(accepted), nil
}

// Detect runs the pipeline for one identity. trigger may be nil for scheduled scans.
// A nil finding with nil error means the identity scored as normal.
func (s *DetectionService) Detect(ctx context.Context, identity *models.Identity, trigger *models.Event, window time.Duration) (*models.Finding, error) {
	log := s.logger.WithIdentity(identity.ID)

	if match, ok := s.rules.Evaluate(trigger, identity.Name()); ok {
		return s.applyRule(ctx, identity, trigger, match)
	}

	start := s.now()
	fp, _, err := s.extractor.ComputeFingerprint(ctx, identity.ID, window)
	if err != nil {
		return nil, err
	}
	score, err := s.handle.Score(fp)
	s.metrics.ObserveScore(s.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	if !score.IsAnomaly {
		s.metrics.IncPipelineRun("normal")
		log.Debug().Float64("raw_score", score.RawScore).Msg("fingerprint within baseline")
		return nil, nil
	}

	explanation, err := s.explainer.Explain(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to explain score: %w", err)
	}
	s.metrics.IncAttribution(string(explanation.Method))

	category := DetermineCategory(explanation.TopFeatures)
	techniques := s.mapper.MapTechniques(category, explanation.TopFeatures, score.RiskScore)
	actions := s.planner.PlanMitigations(category, score.RiskLevel, techniques)

	cluster := score.Cluster
	finding := &models.Finding{
		ID:                 uuid.New(),
		Identity:           identity.ID,
		DetectedAt:         s.now().UTC(),
		Source:             models.FindingSourceModel,
		RawScore:           score.RawScore,
		RiskScore:          score.RiskScore,
		RiskLevel:          score.RiskLevel,
		Category:           category,
		Description:        Describe(category, explanation.TopFeatures, identity.Name()),
		Cluster:            &cluster,
		Contributions:      explanation.Contributions,
		AttributedFeatures: explanation.TopFeatures,
		Status:             models.FindingStatusOpen,
		Techniques:         techniques,
		Mitigations:        actions,
		Compliance:         s.planner.ComplianceCitations(category),
	}
	if trigger != nil {
		finding.TriggerEventID = &trigger.ID
	}

	if err := s.persist(ctx, finding); err != nil {
		return nil, err
	}
	s.metrics.IncPipelineRun("finding")

	log.Info().
		Str("finding_id", finding.ID.String()).
		Str("category", category).
		Int("risk_score", finding.RiskScore).
		Str("attribution", string(explanation.Method)).
		Msg("behavioral anomaly detected")

	return finding, nil
}

// ScanResult is the outcome of a population scan
type ScanResult struct {
	Scanned  int               `json:"scanned"`
	Findings []*models.Finding `json:"findings"`
	Failed   int               `json:"failed"`
}

// Scan runs the recency pipeline over every known identity in parallel
func (s *DetectionService) Scan(ctx context.Context) (*ScanResult, error) {
	if !s.handle.IsTrained() {
		return nil, models.ErrModelNotTrained
	}
	identities, err := s.events.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	results := make([]*models.Finding, len(identities))
	failed := make([]bool, len(identities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ScanWorkers)
	for i := range identities {
		i := i
		g.Go(func() error {
			f, err := s.safeDetect(gctx, &identities[i], nil, s.cfg.RecencyWindow)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed[i] = true
				return nil
			}
			results[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ScanResult{Scanned: len(identities)}
	for i, f := range results {
		if f != nil {
			out.Findings = append(out.Findings, f)
		}
		if failed[i] {
			out.Failed++
		}
	}
	s.logger.Info().
		Int("scanned", out.Scanned).
		Int("findings", len(out.Findings)).
		Int("failed", out.Failed).
		Msg("population scan complete")
	return out, nil
}

// safeDetect isolates pipeline failures: panics become errors, an untrained model is a skip
func (s *DetectionService) safeDetect(ctx context.Context, identity *models.Identity, trigger *models.Event, window time.Duration) (f *models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			s.metrics.IncPipelineRun("error")
			s.logger.Error().Err(err).Str("identity", identity.ID).Msg("detection pipeline failed")
		}
	}()

	f, err = s.Detect(ctx, identity, trigger, window)
	if errors.Is(err, models.ErrModelNotTrained) {
		s.metrics.IncPipelineRun("skipped")
		s.logger.Debug().Str("identity", identity.ID).Msg("model not trained, skipping anomaly processing")
		return nil, nil
	}
	return f, err
}

func (s *DetectionService) safeRule(ctx context.Context, identity *models.Identity, ev *models.Event, match *RuleMatch) (f *models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panic: %v", r)
		}
		if err != nil {
			s.metrics.IncPipelineRun("error")
			s.logger.Error().Err(err).Str("identity", identity.ID).Str("rule", match.Rule).Msg("rule processing failed")
		}
	}()
	return s.applyRule(ctx, identity, ev, match)
}

// applyRule synthesizes a finding from a rule match without consulting the model.
// Attribution uses the reference-deviation heuristic over the recency window.
func (s *DetectionService) applyRule(ctx context.Context, identity *models.Identity, trigger *models.Event, match *RuleMatch) (*models.Finding, error) {
	fp, _, err := s.extractor.ComputeFingerprint(ctx, identity.ID, s.cfg.RecencyWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity.ID).Msg("fingerprint unavailable for rule finding, using default")
		fp = models.DefaultFingerprint
	}
	explanation := HeuristicExplanation(fp)

	techniques := match.Techniques
	if techniques == nil {
		techniques = s.mapper.MapTechniques(match.Category, explanation.TopFeatures, match.RiskScore)
	}
	actions := match.Actions
	if actions == nil {
		actions = s.planner.PlanMitigations(match.Category, match.RiskLevel, techniques)
	}

	finding := &models.Finding{
		ID:                 uuid.New(),
		Identity:           identity.ID,
		DetectedAt:         s.now().UTC(),
		Source:             models.FindingSourceRule,
		RawScore:           0,
		RiskScore:          match.RiskScore,
		RiskLevel:          match.RiskLevel,
		Category:           match.Category,
		Description:        match.Description,
		Contributions:      explanation.Contributions,
		AttributedFeatures: explanation.TopFeatures,
		Status:             models.FindingStatusOpen,
		Techniques:         techniques,
		Mitigations:        actions,
		Compliance:         s.planner.ComplianceCitations(match.Category),
	}
	if trigger != nil {
		finding.TriggerEventID = &trigger.ID
	}

	if err := s.persist(ctx, finding); err != nil {
		return nil, err
	}
	s.metrics.IncPipelineRun("rule")

	s.logger.Warn().
		Str("identity", identity.ID).
		Str("finding_id", finding.ID.String()).
		Str("rule", match.Rule).
		Int("risk_score", finding.RiskScore).
		Msg("rule-based finding created")

	return finding, nil
}

// persist binds mappings and actions to the finding, stores it and announces it
func (s *DetectionService) persist(ctx context.Context, f *models.Finding) error {
	for i := range f.Techniques {
		f.Techniques[i].FindingID = f.ID
	}
	for i := range f.Mitigations {
		f.Mitigations[i].FindingID = f.ID
	}
	if err := s.findings.CreateFinding(ctx, f); err != nil {
		return fmt.Errorf("failed to store finding: %w", err)
	}
	s.metrics.IncFindingCreated(string(f.RiskLevel), string(f.Source))

	if s.publisher != nil {
		if err := s.publisher.PublishFinding(ctx, f); err != nil {
			s.metrics.IncPublishErrors()
			s.logger.Warn().Err(err).Str("finding_id", f.ID.String()).Msg("failed to publish finding")
		}
	}
	return nil
}

func (s *DetectionService) prepare(ev *models.Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Type = ev.Type.Normalize()
}
