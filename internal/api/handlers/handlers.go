package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Handlers holds all API handlers
type Handlers struct {
	Health   *HealthHandler
	Events   *EventsHandler
	Model    *ModelHandler
	Findings *FindingsHandler
	Stream   *StreamHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Events    services.EventStore
	Detection *services.DetectionService
	Cases     *services.CaseService
	Trainer   *services.Trainer
	Extractor *services.FeatureExtractor
	Handle    *services.ModelHandle
	Explainer *services.Explainer
	Mapper    *services.TechniqueMapper
	Planner   *services.MitigationPlanner
	Bus       *streaming.EventBus // optional
	Checks    map[string]Pinger   // readiness probes by name
	Version   string
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) (*Handlers, error) {
	events, err := NewEventsHandler(deps.Events, deps.Detection, deps.Extractor, deps.Logger)
	if err != nil {
		return nil, err
	}
	return &Handlers{
		Health:   NewHealthHandler(deps.Checks, deps.Handle, deps.Version, deps.Logger),
		Events:   events,
		Model:    NewModelHandler(deps.Handle, deps.Trainer, deps.Explainer, deps.Mapper, deps.Planner, deps.Logger),
		Findings: NewFindingsHandler(deps.Cases, deps.Detection, deps.Logger),
		Stream:   NewStreamHandler(deps.Bus, deps.Logger),
	}, nil
}

// respondJSON sends a JSON response
func respondJSON(log *logger.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response; 5xx responses are logged
func respondError(log *logger.Logger, w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["details"] = err.Error()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg(message)
		}
	}
	respondJSON(log, w, status, body)
}

// respondServiceError maps domain sentinel errors onto status codes
func respondServiceError(log *logger.Logger, w http.ResponseWriter, message string, err error) {
	respondError(log, w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidIdentity),
		errors.Is(err, models.ErrFindingNotFound),
		errors.Is(err, models.ErrMitigationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTrainingInProgress),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a size-limited JSON body into dst
func decodeBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// decodeOptionalBody is decodeBody that leaves dst untouched for an empty body
func decodeOptionalBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
