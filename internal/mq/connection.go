package mq

import (
	"context"
	"fmt"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps RabbitMQ connection
type Connection struct {
	conn     *amqp.Connection
	stopping atomic.Bool
}

// NewConnection creates a new RabbitMQ connection. Losing the connection
// outside of shutdown stops the application with exit code 1, so the
// orchestrator restarts it.
func NewConnection(lc fx.Lifecycle, shutdowner fx.Shutdowner, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("attempting to connect to RabbitMQ...")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) RABBITMQ_URL is correct, 3) Credentials are valid. Error: %w", err)
	}

	mqConn := &Connection{conn: conn}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established successfully")
			go mqConn.watch(closed, shutdowner, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mqConn.stopping.Store(true)
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

func (c *Connection) watch(closed <-chan *amqp.Error, shutdowner fx.Shutdowner, logger *zap.Logger) {
	amqpErr, ok := <-closed
	if c.stopping.Load() {
		return
	}
	if ok && amqpErr != nil {
		logger.Error("rabbitmq connection lost", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
	} else {
		logger.Error("rabbitmq connection closed unexpectedly")
	}
	if err := shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
		logger.Error("failed to request shutdown", zap.Error(err))
	}
}

// Channel creates a new RabbitMQ channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
