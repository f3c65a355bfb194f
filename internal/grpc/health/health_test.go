package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

type stubPinger struct{ err error }

func (s *stubPinger) Ping(context.Context) error { return s.err }

func status(t *testing.T, m *Monitor, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.Server().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestMonitorUntrainedModel(t *testing.T) {
	m := NewMonitor(services.NewModelHandle(), map[string]Pinger{"postgres": &stubPinger{}}, 0, logger.Nop())
	m.Update(context.Background())

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(t, m, DetectionService))
}

func TestMonitorDependencyFailure(t *testing.T) {
	redis := &stubPinger{err: errors.New("connection refused")}
	m := NewMonitor(services.NewModelHandle(), map[string]Pinger{"redis": redis}, 0, logger.Nop())
	m.Update(context.Background())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(t, m, ""))

	redis.err = nil
	m.Update(context.Background())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, ""))
}

func TestMonitorTrainedModel(t *testing.T) {
	population := make([]models.Fingerprint, 20)
	for i := range population {
		fp := models.DefaultFingerprint
		fp[0] += float64(i % 5)
		fp[6] += float64(i)
		population[i] = fp
	}
	opts := services.DefaultTrainOptions()
	opts.NumTrees = 20
	opts.Restarts = 2
	model, err := services.TrainAnomalyModel(context.Background(), population, opts, logger.Nop())
	require.NoError(t, err)

	handle := services.NewModelHandle()
	handle.Swap(model)

	m := NewMonitor(handle, nil, 0, logger.Nop())
	m.Update(context.Background())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(t, m, DetectionService))
}
