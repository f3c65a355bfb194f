package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/streaming"
	"sentinel-lab/pkg/logger"
)

const keepAliveInterval = 30 * time.Second

// StreamHandler serves live pipeline envelopes as server-sent events
type StreamHandler struct {
	bus    *streaming.EventBus
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler; bus may be nil
func NewStreamHandler(bus *streaming.EventBus, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		bus:    bus,
		logger: log.WithComponent("stream-handler"),
	}
}

// Findings handles GET /api/v1/findings/stream?identity=&min_risk_level=
func (h *StreamHandler) Findings(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		respondError(h.logger, w, http.StatusServiceUnavailable, "streaming not available", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(h.logger, w, http.StatusInternalServerError, "streaming unsupported by connection", nil)
		return
	}

	q := r.URL.Query()
	sub := &streaming.Subscription{
		Identity:     q.Get("identity"),
		MinRiskLevel: models.RiskLevel(q.Get("min_risk_level")),
	}

	envelopes, unsubscribe := h.bus.Subscribe(sub)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("stream subscriber connected")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env, open := <-envelopes:
			if !open {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal envelope")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
