package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/layergroup-tiler/internal/core/observability"
)

// Announcement tells purgers that a layer group now serves under Channel.
type Announcement struct {
	Channel      string    `json:"channel"`
	Tenant       string    `json:"tenant"`
	LayergroupID string    `json:"layergroupid"`
	LastUpdated  string    `json:"last_updated,omitempty"`
	TS           time.Time `json:"ts"`
}

type AnnouncerConfig struct {
	Brokers []string
	Topic   string
	Queue   int
	Dedupe  int
}

// Announcer publishes announcements on a best-effort basis. Publish never
// blocks; a full queue drops the announcement.
type Announcer struct {
	logger   *slog.Logger
	topic    string
	events   chan Announcement
	prod     sarama.AsyncProducer
	seen     *dedupe
	stopped  chan struct{}
	errsDone chan struct{}

	mu       sync.RWMutex
	closed   bool
	closeErr error
	once     sync.Once
}

func NewAnnouncer(logger *slog.Logger, cfg AnnouncerConfig) (*Announcer, error) {
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_5_0_0
	scfg.Producer.Return.Errors = true
	scfg.Producer.Return.Successes = false
	scfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("channel: create async producer: %w", err)
	}
	return NewAnnouncerWithProducer(logger, prod, cfg), nil
}

func NewAnnouncerWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, cfg AnnouncerConfig) *Announcer {
	if cfg.Queue <= 0 {
		cfg.Queue = 1024
	}
	a := &Announcer{
		logger:   logger,
		topic:    cfg.Topic,
		events:   make(chan Announcement, cfg.Queue),
		prod:     prod,
		seen:     newDedupe(cfg.Dedupe),
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(a.stopped)
		for ev := range a.events {
			b, err := json.Marshal(ev)
			if err != nil {
				a.logger.Warn("announcement marshal failed", "err", err)
				observability.IncAnnouncement("error")
				continue
			}
			a.prod.Input() <- &sarama.ProducerMessage{
				Topic: a.topic,
				Key:   sarama.StringEncoder(ev.Tenant),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(a.errsDone)
		for err := range a.prod.Errors() {
			if err != nil {
				a.logger.Warn("announcement producer error", "err", err)
				observability.IncAnnouncement("error")
			}
		}
	}()

	return a
}

// Publish queues ev unless the same channel and layer group were already
// announced recently.
func (a *Announcer) Publish(ev Announcement) {
	if !a.seen.first(ev.Channel, ev.Tenant, ev.LayergroupID) {
		observability.IncAnnouncement("deduped")
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		observability.IncAnnouncement("dropped")
		return
	}
	select {
	case a.events <- ev:
		observability.IncAnnouncement("queued")
	default:
		observability.IncAnnouncement("dropped")
	}
}

// Close flushes queued announcements and stops the producer. Publish after
// Close drops; repeated calls return the first result.
func (a *Announcer) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
		<-a.stopped

		if err := a.prod.Close(); err != nil {
			a.closeErr = fmt.Errorf("channel: close producer: %w", err)
		}
		<-a.errsDone
	})
	return a.closeErr
}
