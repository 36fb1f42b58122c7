package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
)

// Broadcaster publishes eviction events for deleted layer groups. Events
// are keyed by tenant so one tenant's deletes stay ordered.
type Broadcaster struct {
	logger *slog.Logger
	topic  string
	source string
	prod   sarama.SyncProducer
}

func NewBroadcaster(logger *slog.Logger, brokers []string, topic, source string) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation: create producer: %w", err)
	}
	return NewBroadcasterWithProducer(logger, prod, topic, source), nil
}

func NewBroadcasterWithProducer(logger *slog.Logger, prod sarama.SyncProducer, topic, source string) *Broadcaster {
	return &Broadcaster{logger: logger, topic: topic, source: source, prod: prod}
}

// Evicted tells every instance that tenant's layer group digest is gone.
func (b *Broadcaster) Evicted(ctx context.Context, tenant, digest string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("invalidation: %w", err)
	}
	ev := Event{
		Version:      1,
		Op:           OpDelete,
		Tenant:       tenant,
		LayergroupID: digest,
		TS:           time.Now().UTC(),
		Source:       b.source,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("invalidation: marshal: %w", err)
	}
	start := time.Now()
	_, _, err = b.prod.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(tenant),
		Value: sarama.ByteEncoder(payload),
	})
	observability.ObserveUpstream("kafka_evict", err, time.Since(start).Seconds())
	if err != nil {
		observability.IncEviction("publish_error")
		return fmt.Errorf("invalidation: send: %w", err)
	}
	observability.IncEviction("published")
	return nil
}

func (b *Broadcaster) Close() error {
	if err := b.prod.Close(); err != nil {
		return fmt.Errorf("invalidation: close producer: %w", err)
	}
	return nil
}
