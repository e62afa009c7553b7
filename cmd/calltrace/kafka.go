package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/getsentry/calltrace/internal/profile"
)

type (
	KafkaWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// ProfileKafkaMessage announces a profile stored by the service.
	ProfileKafkaMessage struct {
		Description string   `json:"description,omitempty"`
		Environment string   `json:"environment,omitempty"`
		ID          string   `json:"profile_id"`
		MethodCount int      `json:"method_count"`
		Received    int64    `json:"received"`
		Release     string   `json:"release,omitempty"`
		Threads     []string `json:"threads"`
		Timestamp   int64    `json:"timestamp"`
	}
)

func buildProfileKafkaMessage(c *profile.Container, environment string, received int64) ProfileKafkaMessage {
	return ProfileKafkaMessage{
		Description: c.Description(),
		Environment: environment,
		ID:          c.ID,
		MethodCount: c.Registry.Len(),
		Received:    received,
		Release:     release,
		Threads:     c.ThreadNames(),
		Timestamp:   c.Timestamp().Unix(),
	}
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    10,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		Topic:        topic,
		WriteTimeout: 3 * time.Second,
	}
}
