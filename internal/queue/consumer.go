package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	consumerPrefetch = 50
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
)

// Handler processes one event. Returning an error asks for redelivery.
type Handler func(ctx context.Context, ev ReservationConfirmedEvent) error

// Consumer reads reservation events and hands them to a Handler. It runs a
// reconnect loop so a broker restart only pauses consumption.
type Consumer struct {
	url     string
	queue   string
	handler Handler
	logger  *zap.Logger
}

func NewConsumer(url string, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{url: url, queue: ReservationConfirmedQueue, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled. Dial failures back off from one second
// up to thirty.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("consumer dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff // reset after successful connect

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		c.logger.Warn("set QoS failed", zap.Error(err))
	}
	if err := declare(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.Info("consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks processed deliveries. Undecodable payloads are dropped; a
// failing handler gets one redelivery before the message is dropped, so a
// bad message cannot spin the consumer.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev ReservationConfirmedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Error("dropping undecodable event", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := ev.Validate(); err != nil {
		c.logger.Error("dropping invalid event", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := c.handler(ctx, ev); err != nil {
		requeue := !d.Redelivered
		c.logger.Warn("event handler failed",
			zap.Uint64("reservation_id", ev.ReservationID),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
