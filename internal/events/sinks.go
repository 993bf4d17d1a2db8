package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// LogSink writes one structured line per event.
func LogSink(l zerolog.Logger) Handler {
	return func(_ context.Context, ev Event) error {
		l.Info().
			Str("event_id", ev.ID).
			Str("event_type", string(ev.Type)).
			Str("query_id", ev.QueryID).
			Str("actor", ev.Actor).
			Interface("payload", ev.Payload).
			Msg("domain event")
		return nil
	}
}

// Metrics counts domain events in Prometheus.
type Metrics struct {
	Created *prometheus.CounterVec
	Changes *prometheus.CounterVec
	Deleted prometheus.Counter
}

// NewMetrics builds the counters and registers them with reg. An
// AlreadyRegisteredError is tolerated so tests and restarts can share the
// default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queries_created_total",
			Help: "Customer queries created, by triaged priority and source.",
		}, []string{"priority", "source"}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "query_changes_total",
			Help: "Field changes recorded in query history.",
		}, []string{"field"}),
		Deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queries_deleted_total",
			Help: "Customer queries deleted.",
		}),
	}
	var err error
	m.Created, err = registerVec(reg, m.Created)
	if err != nil {
		return nil, err
	}
	m.Changes, err = registerVec(reg, m.Changes)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(m.Deleted); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.Deleted = are.ExistingCollector.(prometheus.Counter)
	}
	return m, nil
}

func registerVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

// Handle updates counters for ev.
func (m *Metrics) Handle(_ context.Context, ev Event) error {
	switch p := ev.Payload.(type) {
	case CreatedPayload:
		m.Created.WithLabelValues(string(p.Priority), string(p.Source)).Inc()
	case UpdatedPayload:
		for _, ch := range p.Changes {
			m.Changes.WithLabelValues(ch.Field).Inc()
		}
	case DeletedPayload:
		m.Deleted.Inc()
	}
	return nil
}

// RedisPublisher is the subset of *redis.Client the Redis sink needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	Client  RedisPublisher
	Channel string
}

// Handle publishes ev.
func (s *RedisSink) Handle(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, s.Channel, b).Err()
}

// MessageWriter is the subset of *kafka.Writer the Kafka sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a topic keyed by query ID, so every event of
// one query lands on the same partition.
type KafkaSink struct {
	Writer MessageWriter
}

// NewKafkaSink builds an async writer for topic. Delivery failures are
// reported through onError since the request has already completed.
func NewKafkaSink(brokers []string, topic string, onError func(error)) *KafkaSink {
	return &KafkaSink{Writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(_ []kafka.Message, err error) {
			if err != nil && onError != nil {
				onError(err)
			}
		},
	}}
}

// Handle enqueues ev.
func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.QueryID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error { return s.Writer.Close() }
