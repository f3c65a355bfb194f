package handlers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
	"sentinel-lab/pkg/logger"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// EventsHandler handles event ingestion and identity endpoints
type EventsHandler struct {
	events      services.EventStore
	detection   *services.DetectionService
	extractor   *services.FeatureExtractor
	eventSchema *gojsonschema.Schema
	batchSchema *gojsonschema.Schema
	logger      *logger.Logger
}

// NewEventsHandler creates a new events handler and compiles the payload schemas
func NewEventsHandler(events services.EventStore, detection *services.DetectionService, extractor *services.FeatureExtractor, log *logger.Logger) (*EventsHandler, error) {
	eventSchema, err := loadSchema("schemas/event.json")
	if err != nil {
		return nil, err
	}
	batchSchema, err := loadSchema("schemas/batch.json")
	if err != nil {
		return nil, err
	}
	return &EventsHandler{
		events:      events,
		detection:   detection,
		extractor:   extractor,
		eventSchema: eventSchema,
		batchSchema: batchSchema,
		logger:      log.WithComponent("events-handler"),
	}, nil
}

func loadSchema(name string) (*gojsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
	}
	return schema, nil
}

// readValidated reads the body, validates it against schema and decodes it into dst
func readValidated(r *http.Request, schema *gojsonschema.Schema, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return json.Unmarshal(data, dst)
}

type eventBatch struct {
	Events []*models.Event `json:"events"`
}

// Ingest handles POST /api/v1/events
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if err := readValidated(r, h.eventSchema, &ev); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid event", err)
		return
	}

	result, err := h.detection.IngestEvent(r.Context(), &ev)
	if err != nil {
		respondServiceError(h.logger, w, "failed to ingest event", err)
		return
	}

	respondJSON(h.logger, w, http.StatusAccepted, result)
}

// IngestBatch handles POST /api/v1/identities/{id}/events/batch
func (h *EventsHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "id")

	var batch eventBatch
	if err := readValidated(r, h.batchSchema, &batch); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid event batch", err)
		return
	}

	result, err := h.detection.IngestBatch(r.Context(), identity, batch.Events)
	if err != nil {
		respondServiceError(h.logger, w, "failed to ingest batch", err)
		return
	}

	respondJSON(h.logger, w, http.StatusAccepted, result)
}

// RecordBulk handles POST /api/v1/events/bulk. Events are stored without detection.
func (h *EventsHandler) RecordBulk(w http.ResponseWriter, r *http.Request) {
	var batch eventBatch
	if err := readValidated(r, h.batchSchema, &batch); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid event batch", err)
		return
	}
	for i, ev := range batch.Events {
		if ev.Identity == "" {
			respondError(h.logger, w, http.StatusBadRequest, "invalid event batch",
				fmt.Errorf("events[%d]: identity is required", i))
			return
		}
	}

	recorded, err := h.detection.RecordBulk(r.Context(), batch.Events)
	if err != nil {
		respondServiceError(h.logger, w, "failed to record events", err)
		return
	}

	respondJSON(h.logger, w, http.StatusAccepted, map[string]int{
		"received": len(batch.Events),
		"recorded": recorded,
		"skipped":  len(batch.Events) - recorded,
	})
}

type identityRequest struct {
	DisplayName      string  `json:"display_name"`
	Department       string  `json:"department"`
	BaselineLocation *string `json:"baseline_location"`
}

// UpsertIdentity handles PUT /api/v1/identities/{id}
func (h *EventsHandler) UpsertIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req identityRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	identity := &models.Identity{
		ID:               id,
		DisplayName:      req.DisplayName,
		Department:       req.Department,
		BaselineLocation: req.BaselineLocation,
	}
	if err := h.events.UpsertIdentity(r.Context(), identity); err != nil {
		respondServiceError(h.logger, w, "failed to save identity", err)
		return
	}
	h.extractor.InvalidateBaseline(id)

	respondJSON(h.logger, w, http.StatusOK, identity)
}

// ListIdentities handles GET /api/v1/identities
func (h *EventsHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.events.ListIdentities(r.Context())
	if err != nil {
		respondServiceError(h.logger, w, "failed to list identities", err)
		return
	}
	if identities == nil {
		identities = []models.Identity{}
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"identities": identities,
		"count":      len(identities),
	})
}

// Fingerprint handles GET /api/v1/identities/{id}/fingerprint?window=24h
func (h *EventsHandler) Fingerprint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(h.logger, w, http.StatusBadRequest, "invalid window", errors.New("window must be a positive duration"))
			return
		}
		window = d
	}

	if _, err := h.events.Identity(r.Context(), id); err != nil {
		respondServiceError(h.logger, w, "unknown identity", err)
		return
	}

	fp, count, err := h.extractor.ComputeFingerprint(r.Context(), id, window)
	if err != nil {
		respondServiceError(h.logger, w, "failed to compute fingerprint", err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, models.IdentityFingerprint{
		Identity:    id,
		Window:      window,
		EventCount:  count,
		Fingerprint: fp,
		ComputedAt:  time.Now().UTC(),
	})
}
