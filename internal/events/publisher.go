// Package events publishes coordination events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ops-coordination-service/internal/models"
	"ops-coordination-service/internal/observability/metrics"
)

// Event types carried on the coordination topics.
const (
	EventReadinessChanged = "coordination.readiness.changed"
	EventVoiceSession     = "coordination.voice.session"
	EventRosterUpdated    = "coordination.roster.updated"
)

// Publisher publishes coordination events to separate Kafka topics: one
// each for readiness transitions, voice session transitions, and roster
// updates.
type Publisher struct {
	writerReadiness *kafka.Writer
	writerVoice     *kafka.Writer
	writerRoster    *kafka.Writer
	principal       string
	topicReadiness  string
	topicVoice      string
	topicRoster     string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicReadiness string
	TopicVoice     string
	TopicRoster    string
	Principal      string
	Enabled        bool
	Metrics        *metrics.Metrics
}

// New creates a new Kafka event publisher. With Kafka disabled (or no
// brokers configured) events are logged instead of published, so the rest
// of the core never has to care.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	if cfg != nil && cfg.Metrics != nil {
		m = cfg.Metrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicReadiness: cfg.TopicReadiness,
			topicVoice:     cfg.TopicVoice,
			topicRoster:    cfg.TopicRoster,
			enabled:        false,
			metrics:        m,
		}
	}

	// Longer dial timeouts cover DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicReadiness", cfg.TopicReadiness).
		Str("topicVoice", cfg.TopicVoice).
		Str("topicRoster", cfg.TopicRoster).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerReadiness: newWriter(cfg.TopicReadiness),
		writerVoice:     newWriter(cfg.TopicVoice),
		writerRoster:    newWriter(cfg.TopicRoster),
		principal:       cfg.Principal,
		topicReadiness:  cfg.TopicReadiness,
		topicVoice:      cfg.TopicVoice,
		topicRoster:     cfg.TopicRoster,
		enabled:         true,
		metrics:         m,
	}
}

// PublishReadiness publishes a readiness snapshot transition.
func (p *Publisher) PublishReadiness(ctx context.Context, key string, snap models.ReadinessSnapshot) error {
	return p.publish(ctx, p.writerReadiness, p.topicReadiness, EventReadinessChanged, key, snap)
}

// PublishVoiceSession publishes a voice session transition.
func (p *Publisher) PublishVoiceSession(ctx context.Context, key string, session models.VoiceSession) error {
	return p.publish(ctx, p.writerVoice, p.topicVoice, EventVoiceSession, key, session)
}

// PublishRoster publishes a roster update.
func (p *Publisher) PublishRoster(ctx context.Context, key string, roster models.Roster) error {
	return p.publish(ctx, p.writerRoster, p.topicRoster, EventRosterUpdated, key, roster)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerReadiness, p.writerVoice, p.writerRoster} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
