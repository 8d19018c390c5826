// Package queue serves fingering requests from an AMQP queue. Each request
// is answered on its reply-to queue under the request's correlation id.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the
// delivery channel
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Channel is the subset of *amqp.Channel the consumer uses
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dialer opens a channel and the connection that owns it
type Dialer func() (Channel, io.Closer, error)

// Dial returns a Dialer for a broker URL
func Dial(url string) Dialer {
	return func() (Channel, io.Closer, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		return ch, conn, nil
	}
}

// Config holds consumer settings
type Config struct {
	RequestQueue string
	ConsumerTag  string
	RetryDelay   time.Duration
}

// Consumer feeds queue deliveries into the worker one at a time
type Consumer struct {
	config Config
	worker *worker.Worker
	logger *slog.Logger
}

// NewConsumer creates a consumer
func NewConsumer(cfg Config, w *worker.Worker, logger *slog.Logger) *Consumer {
	if cfg.RequestQueue == "" {
		cfg.RequestQueue = "fingering.requests"
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "pianofinger"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{config: cfg, worker: w, logger: logger.With("component", "queue")}
}

// Serve consumes until ctx is cancelled, reconnecting after broker failures
func (c *Consumer) Serve(ctx context.Context, dial Dialer) error {
	for {
		ch, closer, err := dial()
		if err == nil {
			err = c.Run(ctx, ch)
			closer.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("consumer stopped, reconnecting", "error", err, "delay", c.config.RetryDelay)
		select {
		case <-time.After(c.config.RetryDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// Run consumes from ch until ctx is cancelled or the deliveries close
func (c *Consumer) Run(ctx context.Context, ch Channel) error {
	// one unacknowledged request at a time, matching the worker
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.config.RequestQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.config.RequestQueue, err)
	}
	deliveries, err := ch.Consume(c.config.RequestQueue, c.config.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.config.RequestQueue, err)
	}

	c.logger.Info("consuming", "queue", c.config.RequestQueue)
	for {
		select {
		case <-ctx.Done():
			// an unacknowledged delivery returns to the queue
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, ch, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch Channel, d amqp.Delivery) {
	id := d.CorrelationId
	if id == "" {
		id = d.MessageId
	}
	log := c.logger.With("id", id, "tag", d.DeliveryTag)

	var msg worker.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		err = apperrors.NewEngineError(apperrors.KindInvalidRequest, "decode", "invalid message: "+err.Error(), err)
		c.finish(ch, d, worker.ErrorReply(id, err), log)
		return
	}
	if msg.ID == "" {
		msg.ID = id
	}

	req, err := msg.Request()
	if err != nil {
		c.finish(ch, d, worker.ErrorReply(msg.ID, err), log)
		return
	}

	resp := c.worker.Do(ctx, req)
	if resp.Err != nil && ctx.Err() != nil {
		log.Info("shutting down, returning request to queue")
		d.Nack(false, true)
		return
	}
	c.finish(ch, d, worker.NewReply(resp), log)
}

// finish publishes the reply and settles the delivery
func (c *Consumer) finish(ch Channel, d amqp.Delivery, reply worker.Reply, log *slog.Logger) {
	if d.ReplyTo == "" {
		log.Warn("request has no reply-to, dropping reply", "ok", reply.OK)
		d.Ack(false)
		return
	}

	body, err := json.Marshal(reply)
	if err != nil {
		log.Error("marshal reply", "error", err)
		d.Nack(false, false)
		return
	}

	err = ch.Publish("", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		log.Error("publish reply failed, requeueing", "error", err)
		d.Nack(false, true)
		return
	}

	log.Debug("reply published", "ok", reply.OK, "reply_to", d.ReplyTo)
	d.Ack(false)
}
