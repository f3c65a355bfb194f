package streaming

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

// Upstream is a durable transport the bus forwards envelopes to
type Upstream interface {
	Publish(ctx context.Context, env *Envelope) error
	IsConnected() bool
}

// Source delivers envelopes published by other instances
type Source interface {
	Subscribe(ctx context.Context, sub *Subscription) (<-chan *Envelope, error)
}

type subscriber struct {
	ch  chan *Envelope
	sub *Subscription
}

// EventBus distributes pipeline envelopes to local subscribers and an optional upstream.
// It implements services.Publisher.
type EventBus struct {
	upstream Upstream
	origin   string
	logger   *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
	nextID      int
}

// NewEventBus creates a new event bus; upstream may be nil
func NewEventBus(upstream Upstream, log *logger.Logger) *EventBus {
	return &EventBus{
		upstream:    upstream,
		origin:      uuid.New().String(),
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]subscriber),
	}
}

// PublishFinding announces a newly created finding
func (eb *EventBus) PublishFinding(ctx context.Context, f *models.Finding) error {
	return eb.Publish(ctx, NewFindingEnvelope(EventTypeFindingCreated, f))
}

// PublishFindingUpdate announces a finding status change
func (eb *EventBus) PublishFindingUpdate(ctx context.Context, f *models.Finding) error {
	return eb.Publish(ctx, NewFindingEnvelope(EventTypeFindingUpdated, f))
}

// PublishModelTrained announces a swapped-in model artifact
func (eb *EventBus) PublishModelTrained(ctx context.Context, info models.ModelInfo) error {
	return eb.Publish(ctx, NewModelEnvelope(info))
}

// Publish broadcasts locally and forwards upstream. Only upstream failures are returned.
func (eb *EventBus) Publish(ctx context.Context, env *Envelope) error {
	if env.Origin == "" {
		env.Origin = eb.origin
	}
	eb.broadcast(env)

	if eb.upstream == nil || !eb.upstream.IsConnected() {
		return nil
	}
	return eb.upstream.Publish(ctx, env)
}

// Relay feeds envelopes from other instances to local subscribers until ctx ends or the source closes.
// Envelopes this bus published are skipped since they were already broadcast.
func (eb *EventBus) Relay(ctx context.Context, src Source) error {
	ch, err := src.Subscribe(ctx, nil)
	if err != nil {
		return err
	}

	go func() {
		for env := range ch {
			if env.Origin == eb.origin {
				continue
			}
			eb.broadcast(env)
		}
		eb.logger.Debug().Msg("relay stopped")
	}()

	return nil
}

func (eb *EventBus) broadcast(env *Envelope) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if !s.sub.Matches(env) {
			continue
		}
		select {
		case s.ch <- env:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping envelope")
		}
	}
}

// Subscribe registers a local subscriber and returns its channel and an unsubscribe func
func (eb *EventBus) Subscribe(sub *Subscription) (<-chan *Envelope, func()) {
	eb.mu.Lock()
	eb.nextID++
	id := strconv.Itoa(eb.nextID)
	ch := make(chan *Envelope, 100)
	eb.subscribers[id] = subscriber{ch: ch, sub: sub}
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if s, ok := eb.subscribers[id]; ok {
			close(s.ch)
			delete(eb.subscribers, id)
			eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
		}
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close drops every subscriber
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}
}
