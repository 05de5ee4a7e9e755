package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sf7293/task-assigner/internal/domain"
)

const defaultDialTimeout = 2 * time.Second

var _ domain.Queue = (*RabbitMQClient)(nil)

type RabbitMQClient struct {
	ctx            context.Context
	url            string
	mainQueueNames []string
	prefetch       int

	mutex    sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	closed   bool
}

// NewRabbitMQClient connects to the broker, retrying a few times, and declares the main queues.
// Every consumer it starts gets at most prefetch unacknowledged deliveries.
func NewRabbitMQClient(ctx context.Context, amqpURL string, mainQueueNames []string, prefetch int) (*RabbitMQClient, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	client := &RabbitMQClient{
		ctx:            ctx,
		url:            amqpURL,
		mainQueueNames: mainQueueNames,
		prefetch:       prefetch,
	}

	err := backoff.Retry(func() error {
		if err := client.connect(defaultDialTimeout); err != nil {
			slog.ErrorContext(ctx, "failed to connect to rabbitmq.. retrying...", "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))
	if err != nil {
		return nil, err
	}

	return client, nil
}

// NewDisconnectedRabbitMQClient builds a client without dialing. The first Probe connects it, so a
// broker that was down at startup is picked up as soon as it answers.
func NewDisconnectedRabbitMQClient(ctx context.Context, amqpURL string, mainQueueNames []string, prefetch int) *RabbitMQClient {
	if prefetch <= 0 {
		prefetch = 1
	}

	return &RabbitMQClient{
		ctx:            ctx,
		url:            amqpURL,
		mainQueueNames: mainQueueNames,
		prefetch:       prefetch,
	}
}

// connect must be called with the mutex held or before the client is shared.
func (c *RabbitMQClient) connect(dialTimeout time.Duration) error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err == nil {
		err = ch.Confirm(false)
	}
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return err
	}

	c.conn = conn
	c.channel = ch
	c.declared = map[string]bool{}

	for _, queueName := range c.mainQueueNames {
		if err := c.checkQueueDeclaration(queueName, nil); err != nil {
			slog.Error("Error while checking declarations of main queues", "error", err.Error())
			return err
		}
	}

	return nil
}

// Probe reports whether the broker can take work, reconnecting when the connection was lost.
func (c *RabbitMQClient) Probe(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		dialTimeout := defaultDialTimeout
		if deadline, ok := ctx.Deadline(); ok {
			dialTimeout = time.Until(deadline)
		}
		if dialTimeout <= 0 {
			return context.DeadlineExceeded
		}

		if err := c.connect(dialTimeout); err != nil {
			return fmt.Errorf("reconnect to rabbitmq: %w", err)
		}
		slog.InfoContext(ctx, "RabbitMQ connection has been re-established")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	return ch.Close()
}

// PublishMessage publishes a persistent message and waits for the broker to confirm it.
func (c *RabbitMQClient) PublishMessage(ctx context.Context, queueName string, body []byte) (err error) {
	return c.publish(ctx, queueName, nil, body)
}

// PublishDelayedMessage parks the message in a retry queue dedicated to its delay. When the delay
// elapses the broker dead-letters it back onto queueName.
func (c *RabbitMQClient) PublishDelayedMessage(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return c.PublishMessage(ctx, queueName, body)
	}

	retryQueueName, args := retryQueue(queueName, delay)
	return c.publish(ctx, retryQueueName, args, body)
}

// retryQueue names the queue holding messages for queueName for delay, and its declaration args.
// An idle retry queue is deleted by the broker after twice its delay plus a minute.
func retryQueue(queueName string, delay time.Duration) (string, amqp.Table) {
	return fmt.Sprintf("%s.retry.%d", queueName, delay.Milliseconds()), amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
		"x-message-ttl":             delay.Milliseconds(),
		"x-expires":                 (2*delay + time.Minute).Milliseconds(),
	}
}

func (c *RabbitMQClient) publish(ctx context.Context, queueName string, args amqp.Table, body []byte) error {
	c.mutex.Lock()
	if c.conn == nil || c.conn.IsClosed() {
		c.mutex.Unlock()
		return amqp.ErrClosed
	}

	err := c.checkQueueDeclaration(queueName, args)
	if err != nil {
		c.mutex.Unlock()
		return err
	}

	confirmation, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	c.mutex.Unlock()
	if err != nil {
		return err
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("message was not confirmed by the broker")
	}

	return nil
}

type delivery struct {
	d amqp.Delivery
}

func (m delivery) Body() []byte {
	return m.d.Body
}

func (m delivery) Ack() error {
	return m.d.Ack(false)
}

func (m delivery) Nack(requeue bool) error {
	return m.d.Nack(false, requeue)
}

// ConsumeMessages hands each delivery of queueName to handler on its own channel. Deliveries must
// be acknowledged by the handler. When the connection drops the consumer reconnects and
// subscribes again, until the client is closed or its context is done.
func (c *RabbitMQClient) ConsumeMessages(consumerName, queueName string, handler func(domain.Message)) error {
	msgs, err := c.subscribe(consumerName, queueName)
	if err != nil {
		return err
	}

	go c.consume(consumerName, queueName, handler, msgs, resubscribeBackOff())
	return nil
}

func (c *RabbitMQClient) subscribe(consumerName, queueName string) (<-chan amqp.Delivery, error) {
	c.mutex.Lock()
	if c.closed || c.conn == nil || c.conn.IsClosed() {
		c.mutex.Unlock()
		return nil, amqp.ErrClosed
	}

	err := c.checkQueueDeclaration(queueName, nil)
	var ch *amqp.Channel
	if err == nil {
		ch, err = c.conn.Channel()
	}
	c.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.ConsumeWithContext(
		c.ctx,
		queueName,    // queue
		consumerName, // consumer
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
}

// consume drains msgs and re-subscribes whenever the delivery channel closes under a live client.
func (c *RabbitMQClient) consume(consumerName, queueName string, handler func(domain.Message), msgs <-chan amqp.Delivery, retry backoff.BackOff) {
	for {
		for d := range msgs {
			handler(delivery{d: d})
		}

		if c.stopped() {
			slog.Info("Consumer stopped", "consumer", consumerName, "queue", queueName)
			return
		}
		slog.Warn("Delivery channel closed, re-subscribing", "consumer", consumerName, "queue", queueName)

		retry.Reset()
		err := backoff.Retry(func() error {
			if c.stopped() {
				return backoff.Permanent(amqp.ErrClosed)
			}

			probeCtx, cancel := context.WithTimeout(c.ctx, defaultDialTimeout)
			defer cancel()
			if err := c.Probe(probeCtx); err != nil {
				slog.Warn("RabbitMQ still unreachable, consumer waiting", "consumer", consumerName, "error", err.Error())
				return err
			}

			var err error
			msgs, err = c.subscribe(consumerName, queueName)
			return err
		}, backoff.WithContext(retry, c.ctx))
		if err != nil {
			slog.Error("Consumer gave up re-subscribing", "consumer", consumerName, "queue", queueName, "error", err.Error())
			return
		}
		slog.Info("Consumer re-subscribed", "consumer", consumerName, "queue", queueName)
	}
}

// resubscribeBackOff never gives up; the client's context or Close ends the wait.
func resubscribeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *RabbitMQClient) stopped() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed || c.ctx.Err() != nil
}

func (c *RabbitMQClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	err := c.channel.Close()
	if err != nil {
		return err
	}

	err = c.conn.Close()
	return err
}

func (c *RabbitMQClient) IsHealthy() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := c.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

// checkQueueDeclaration must be called with the mutex held. Queues declared with arguments are
// retry queues that expire when idle, so they are re-declared on every use. A failed declaration
// closes the connection, so the next Probe starts over with a fresh one.
func (c *RabbitMQClient) checkQueueDeclaration(queueName string, args amqp.Table) (err error) {
	if c.declared[queueName] {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,      // arguments
	)
	if err != nil {
		err2 := c.conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return err
	}

	if args == nil {
		c.declared[queueName] = true
	}
	return nil
}
