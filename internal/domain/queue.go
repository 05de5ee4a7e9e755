package domain

import (
	"context"
	"time"
)

// Message is one delivery taken from the job queue.
type Message interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

type Queue interface {
	IsHealthy() bool
	Probe(ctx context.Context) error
	PublishMessage(ctx context.Context, queueName string, body []byte) error
	PublishDelayedMessage(ctx context.Context, queueName string, body []byte, delay time.Duration) error
	ConsumeMessages(consumerName, queueName string, handler func(Message)) error
	Close() error
}
