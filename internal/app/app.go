package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel-lab/internal/api"
	"sentinel-lab/internal/api/handlers"
	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/artifact"
	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
	"sentinel-lab/internal/infrastructure/database/repository"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/internal/metrics"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
)

// App is the wired detection pipeline shared by the server and the CLI
type App struct {
	Config *config.Config

	DB    *database.PostgresDB     // nil when running in memory
	Cache *cache.RedisCache        // nil when Redis is disabled or unreachable
	NATS  *streaming.NATSPublisher // nil when NATS is disabled or unreachable
	Bus   *streaming.EventBus

	Events    services.EventStore
	Findings  services.FindingStore
	Artifacts *artifact.FileStore

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Handle    *services.ModelHandle
	Extractor *services.FeatureExtractor
	Explainer *services.Explainer
	Mapper    *services.TechniqueMapper
	Planner   *services.MitigationPlanner
	Rules     *services.RuleEngine
	Detection *services.DetectionService
	Trainer   *services.Trainer
	Cases     *services.CaseService

	stopRelay context.CancelFunc

	base   *logger.Logger
	logger *logger.Logger
}

// New connects the configured infrastructure and wires every service.
// Unreachable optional backends are logged and skipped; the store falls back to memory.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		base:   log,
		logger: log.WithComponent("app"),
	}

	a.initStores(ctx)
	a.initMessaging(ctx)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	catalog := services.DefaultTechniqueCatalog
	if cfg.MITRE.CatalogFile != "" {
		loaded, err := services.LoadTechniqueCatalog(cfg.MITRE.CatalogFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		catalog = loaded
		a.logger.Info().Str("file", cfg.MITRE.CatalogFile).Int("techniques", len(catalog.Techniques)).Msg("technique catalog loaded")
	}
	weights := services.DefaultMapperWeights()
	weights.MinScore = cfg.MITRE.MinScore

	a.Handle = services.NewModelHandle()
	a.Extractor = services.NewFeatureExtractor(a.Events, services.FeatureExtractorConfig{
		CacheSize: cfg.Pipeline.LocationCacheSize,
		CacheTTL:  cfg.Pipeline.LocationCacheTTL,
	}, log)
	a.Explainer = services.NewExplainer(a.Handle, cfg.Pipeline.ForceFallback, log)
	a.Mapper = services.NewTechniqueMapper(catalog, weights, log)
	a.Planner = services.NewMitigationPlanner(log)
	a.Rules = services.NewRuleEngine(cfg.Pipeline.CPUThreshold, cfg.Pipeline.MemoryThreshold)

	a.Detection = services.NewDetectionService(services.DetectionDeps{
		Events:    a.Events,
		Findings:  a.Findings,
		Publisher: a.Bus,
		Extractor: a.Extractor,
		Handle:    a.Handle,
		Explainer: a.Explainer,
		Mapper:    a.Mapper,
		Planner:   a.Planner,
		Rules:     a.Rules,
		Metrics:   a.Metrics,
	}, services.DetectionConfig{
		RecencyWindow: cfg.Pipeline.RecencyWindow,
		BatchWindow:   cfg.Pipeline.BatchWindow,
		ScanWorkers:   cfg.Pipeline.ScanWorkers,
	}, log)

	a.Artifacts = artifact.NewFileStore(cfg.Model.ArtifactPath, log)
	trainerDeps := services.TrainerDeps{
		Events:    a.Events,
		Extractor: a.Extractor,
		Handle:    a.Handle,
		Artifacts: a.Artifacts,
		Publisher: a.Bus,
		Metrics:   a.Metrics,
	}
	if a.Cache != nil {
		trainerDeps.Lock = a.Cache
		trainerDeps.Cache = a.Cache
	}
	a.Trainer = services.NewTrainer(trainerDeps, services.TrainerConfig{
		Options: services.TrainOptions{
			Contamination: cfg.Model.Contamination,
			Clusters:      cfg.Model.Clusters,
			NumTrees:      cfg.Model.NumTrees,
			SampleSize:    cfg.Model.SampleSize,
			Restarts:      cfg.Model.ClusterRestarts,
			RandomSeed:    cfg.Model.RandomSeed,
			MinPopulation: cfg.Model.MinPopulation,
		},
		BaselineWindow: cfg.Pipeline.BaselineWindow,
		Timeout:        cfg.Model.TrainTimeout,
		LockTTL:        cfg.Model.LockTTL,
		FingerprintTTL: cfg.Pipeline.FingerprintTTL,
		Workers:        cfg.Pipeline.ScanWorkers,
		ArtifactPath:   cfg.Model.ArtifactPath,
	}, log)

	a.Cases = services.NewCaseService(a.Findings, a.Bus, log)

	loaded, err := a.Trainer.LoadArtifact(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}
	if !loaded {
		a.logger.Warn().Str("path", cfg.Model.ArtifactPath).Msg("no model artifact found; anomaly scoring disabled until training")
	}

	return a, nil
}

func (a *App) initStores(ctx context.Context) {
	cfg := a.Config
	if cfg.Database.Enabled {
		db, err := database.NewPostgres(ctx, cfg.Database, a.base)
		if err == nil {
			err = db.Migrate(ctx)
			if err != nil {
				db.Close()
			}
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("PostgreSQL unavailable, continuing with in-memory store")
		} else {
			a.DB = db
			a.Events = repository.NewEventRepository(db.Pool())
			a.Findings = repository.NewFindingRepository(db.Pool())
		}
	}
	if a.Events == nil {
		store := memory.NewStore()
		a.Events = store
		a.Findings = store
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewRedis(ctx, cfg.Redis, a.base)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Redis unavailable, continuing without fingerprint cache and training lease")
		} else {
			a.Cache = c
		}
	}
}

func (a *App) initMessaging(ctx context.Context) {
	var upstream streaming.Upstream
	if a.Config.NATS.Enabled {
		p, err := streaming.NewNATSPublisher(ctx, a.Config.NATS, a.base)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to connect to NATS, publishing locally only")
		} else {
			a.NATS = p
			upstream = p
		}
	}
	a.Bus = streaming.NewEventBus(upstream, a.base)

	if a.NATS == nil {
		return
	}
	relayCtx, cancel := context.WithCancel(context.Background())
	if err := a.Bus.Relay(relayCtx, a.NATS); err != nil {
		cancel()
		a.logger.Warn().Err(err).Msg("failed to subscribe to NATS, remote findings will not reach local streams")
		return
	}
	a.stopRelay = cancel
}

// Checks returns the readiness probes of the connected backends
func (a *App) Checks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if a.DB != nil {
		checks["postgres"] = a.DB
	}
	if a.Cache != nil {
		checks["redis"] = a.Cache
	}
	return checks
}

// HTTPHandler builds the chi router over the wired services
func (a *App) HTTPHandler() (http.Handler, error) {
	h, err := handlers.NewHandlers(handlers.Dependencies{
		Events:    a.Events,
		Detection: a.Detection,
		Cases:     a.Cases,
		Trainer:   a.Trainer,
		Extractor: a.Extractor,
		Handle:    a.Handle,
		Explainer: a.Explainer,
		Mapper:    a.Mapper,
		Planner:   a.Planner,
		Bus:       a.Bus,
		Checks:    a.Checks(),
		Version:   a.Config.App.Version,
		Logger:    a.base,
	})
	if err != nil {
		return nil, err
	}
	metricsHandler := promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
	return api.NewRouter(*a.Config, h, metricsHandler, a.base).Setup(), nil
}

// Close releases every connection the app opened
func (a *App) Close() {
	if a.stopRelay != nil {
		a.stopRelay()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close Redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
