// Package kafkaconsumer applies layer-group eviction events to the local
// style cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
	"github.com/mohammed-shakir/layergroup-tiler/internal/invalidation"
	"github.com/mohammed-shakir/layergroup-tiler/internal/logger"
)

// Evictor drops a locally cached record. It must not touch the shared store.
type Evictor interface {
	Evict(tenant, digest string)
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	evictor Evictor
	backoff time.Duration
}

func New(cfg Config, l *slog.Logger, ev Evictor) *Consumer {
	if l == nil {
		l = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: l, evictor: ev, backoff: 2 * time.Second}
}

// Start consumes eviction events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.evictor == nil {
		return errors.New("kafkaconsumer: missing evictor")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = logger.WithComponent(ctx, "eviction_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "eviction consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "eviction consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				observability.IncKafkaConsumerError("consume")
				c.logger.ErrorContext(ctx, "kafka consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.backoff):
				}
			}
		}
	}
}

// ProcessOne applies a single message. Malformed events are logged and
// skipped so one bad payload cannot stall the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping undecodable eviction",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncKafkaConsumerError("invalid")
		c.logger.WarnContext(ctx, "skipping invalid eviction",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	c.evictor.Evict(ev.Tenant, ev.LayergroupID)
	observability.IncEviction("applied")

	lctx := logger.WithLayergroup(logger.WithTenant(ctx, ev.Tenant), ev.LayergroupID)
	c.logger.DebugContext(lctx, "evicted local style record", "source", ev.Source)
	return nil
}
