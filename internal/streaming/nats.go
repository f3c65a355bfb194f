package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"sentinel-lab/internal/config"
	"sentinel-lab/pkg/logger"
)

var errNotConnected = errors.New("NATS not connected")

// NATSPublisher publishes pipeline envelopes to NATS JetStream
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATSPublisher connects to NATS and ensures the stream exists
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "SENTINEL"
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Behavioral anomaly findings and model events",
		Subjects:    streamSubjects(cfg.Subjects),
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     100000,
		MaxBytes:    256 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn.IsConnected()
}

// Publish sends an envelope and waits for the stream acknowledgement
func (p *NATSPublisher) Publish(ctx context.Context, env *Envelope) error {
	if !p.IsConnected() {
		return errNotConnected
	}

	subject := subjectFor(p.config.Subjects, env)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("type", string(env.Type)).
		Str("identity", env.Identity).
		Msg("published envelope")

	return nil
}

// Subscribe creates an ephemeral consumer and delivers matching envelopes
func (p *NATSPublisher) Subscribe(ctx context.Context, sub *Subscription) (<-chan *Envelope, error) {
	if !p.IsConnected() {
		return nil, errNotConnected
	}

	consumer, err := p.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     3,
		FilterSubjects: streamSubjects(p.config.Subjects),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages iterator: %w", err)
	}

	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	out := make(chan *Envelope, 100)

	go func() {
		defer close(out)

		for {
			msg, err := msgs.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return
				}
				p.logger.Warn().Err(err).Msg("error getting next message")
				continue
			}

			var env Envelope
			if err := json.Unmarshal(msg.Data(), &env); err != nil {
				p.logger.Warn().Err(err).Msg("failed to unmarshal envelope")
				_ = msg.Term()
				continue
			}
			_ = msg.Ack()

			if !sub.Matches(&env) {
				continue
			}
			select {
			case out <- &env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// subjectFor routes finding envelopes by risk level below the configured subject
func subjectFor(subjects config.NATSSubjectsConfig, env *Envelope) string {
	switch env.Type {
	case EventTypeFindingCreated:
		return subjects.FindingCreated + "." + riskSegment(env)
	case EventTypeFindingUpdated:
		return subjects.FindingUpdated + "." + riskSegment(env)
	default:
		return subjects.ModelTrained
	}
}

func riskSegment(env *Envelope) string {
	if env.RiskLevel == "" {
		return "unknown"
	}
	return string(env.RiskLevel)
}

func streamSubjects(subjects config.NATSSubjectsConfig) []string {
	return []string{
		subjects.FindingCreated + ".>",
		subjects.FindingUpdated + ".>",
		subjects.ModelTrained,
	}
}
