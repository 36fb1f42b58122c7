package kafkaconsumer

import (
	"time"
)

// Config for the eviction consumer. GroupID must be unique per instance
// since every instance needs every event.
type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// DefaultConfig fills the group timings used in production.
func DefaultConfig(brokers []string, topic, groupID string) Config {
	return Config{
		Brokers:          brokers,
		Topic:            topic,
		GroupID:          groupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}
