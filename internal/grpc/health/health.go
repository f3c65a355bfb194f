package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

// DetectionService is the service name whose status tracks model readiness
const DetectionService = "sentinel.v1.DetectionService"

// Pinger is a backing service whose failure marks the server NOT_SERVING
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor keeps gRPC health statuses in sync with dependencies and the model.
// The overall ("") status follows the dependencies; DetectionService additionally
// requires a trained model.
type Monitor struct {
	server   *health.Server
	handle   *services.ModelHandle
	checks   map[string]Pinger
	interval time.Duration
	logger   *logger.Logger
}

// Register installs the health service on grpcServer and returns its monitor
func Register(grpcServer *grpc.Server, handle *services.ModelHandle, checks map[string]Pinger, interval time.Duration, log *logger.Logger) *Monitor {
	m := NewMonitor(handle, checks, interval, log)
	grpc_health_v1.RegisterHealthServer(grpcServer, m.server)
	return m
}

// NewMonitor creates a monitor with an initial status evaluation pending
func NewMonitor(handle *services.ModelHandle, checks map[string]Pinger, interval time.Duration, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		server:   health.NewServer(),
		handle:   handle,
		checks:   checks,
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
}

// Server returns the underlying health server
func (m *Monitor) Server() *health.Server {
	return m.server
}

// Run refreshes statuses every interval until ctx is done, then marks everything NOT_SERVING
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Update(ctx)
		}
	}
}

// Update evaluates dependencies and model readiness once
func (m *Monitor) Update(ctx context.Context) {
	depsHealthy := true
	for name, p := range m.checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			depsHealthy = false
			m.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
		}
	}

	overall := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if depsHealthy {
		overall = grpc_health_v1.HealthCheckResponse_SERVING
	}
	detection := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if depsHealthy && m.handle.IsTrained() {
		detection = grpc_health_v1.HealthCheckResponse_SERVING
	}

	m.server.SetServingStatus("", overall)
	m.server.SetServingStatus(DetectionService, detection)
}
