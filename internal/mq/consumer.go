package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler is a function that processes a message. A nil error acks
// the delivery, any error rejects it without requeue (dead-lettered).
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer is one lane: its own channel, its own queue, one goroutine that
// runs the handler for each delivery in order.
type Consumer struct {
	name          string
	channel       *amqp.Channel
	queue         string
	exclusive     bool
	prefetchCount int
	logger        *zap.Logger
	handler       MessageHandler
	wg            sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection *Connection
	// Name labels the lane in logs
	Name     string
	Queue    string
	DLQQueue string
	Exchange string
	// RoutingKeys are binding patterns on Exchange
	RoutingKeys []string
	// Exclusive declares a non-durable queue deleted with the connection.
	// Used by lanes every process must see, like live vitals.
	Exclusive     bool
	PrefetchCount int
	Logger        *zap.Logger
	Handler       MessageHandler
}

// NewConsumer declares the exchange, queue and bindings of a lane
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := laneChannel(cfg)
	if err != nil {
		return nil, err
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	deadLetter := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if err := declareQueue(ch, cfg, deadLetter); err != nil {
		// Queues declared earlier without DLX args fail the precondition
		// check and close the channel.
		cfg.Logger.Warn("failed to declare queue with DLX, trying without DLX",
			zap.String("queue", cfg.Queue),
			zap.Error(err))
		if ch, err = laneChannel(cfg); err != nil {
			return nil, err
		}
		if err := declareQueue(ch, cfg, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	for _, key := range cfg.RoutingKeys {
		if err := ch.QueueBind(cfg.Queue, key, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to bind queue %s to %s: %w", cfg.Queue, key, err)
		}
	}

	return &Consumer{
		name:          cfg.Name,
		channel:       ch,
		queue:         cfg.Queue,
		exclusive:     cfg.Exclusive,
		prefetchCount: cfg.PrefetchCount,
		logger:        cfg.Logger.With(zap.String("lane", cfg.Name)),
		handler:       cfg.Handler,
	}, nil
}

func laneChannel(cfg ConsumerConfig) (*amqp.Channel, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return ch, nil
}

// declareQueue declares durable shared queues, or exclusive auto-deleted
// ones for per-process lanes.
func declareQueue(ch *amqp.Channel, cfg ConsumerConfig, args amqp.Table) error {
	_, err := ch.QueueDeclare(cfg.Queue, !cfg.Exclusive, cfg.Exclusive, cfg.Exclusive, false, args)
	return err
}

// Start starts consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",          // consumer tag
		false,       // auto-ack
		c.exclusive, // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("received message from queue",
		zap.String("queue", c.queue),
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
	)

	err := c.handler(ctx, msg.Body)
	if err != nil {
		c.logger.Error("failed to process message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)

		// NACK with requeue=false sends to DLQ
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ACK message", zap.Error(ackErr))
	}
}

// Close closes the consumer channel and waits for the in-flight handler
func (c *Consumer) Close() error {
	if c.channel == nil {
		return nil
	}
	err := c.channel.Close()
	c.wg.Wait()
	return err
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}
