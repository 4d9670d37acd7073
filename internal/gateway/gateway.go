package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/message"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher forwards encoded measurements onto the exchange
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// Gateway bridges wristband MQTT telemetry onto the AMQP vitals route
type Gateway struct {
	client    mqtt.Client
	topic     string
	qos       byte
	route     config.Route
	publisher Publisher
	validator *validator.Validator
	logger    *zap.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGateway creates a gateway. It does not connect until Start.
func NewGateway(
	cfg config.MQTTConfig,
	route config.Route,
	publisher Publisher,
	validator *validator.Validator,
	logger *zap.Logger,
) *Gateway {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		topic:     cfg.VitalsTopic,
		qos:       byte(cfg.QoS),
		route:     route,
		publisher: publisher,
		validator: validator,
		logger:    logger.With(zap.String("component", "mqtt-gateway")),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	// Subscriptions are not restored by a clean-session reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := g.subscribe(c); err != nil {
			g.logger.Error("failed to subscribe after connect", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		g.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	g.client = mqtt.NewClient(opts)
	return g
}

// Start connects to the broker; the vitals topic is subscribed on connect
func (g *Gateway) Start() error {
	if token := g.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	g.logger.Info("MQTT gateway started",
		zap.String("topic", g.topic),
		zap.Int("qos", int(g.qos)),
	)
	return nil
}

// Stop unsubscribes and disconnects
func (g *Gateway) Stop() {
	g.cancel()
	if g.client.IsConnected() {
		g.client.Unsubscribe(g.topic).WaitTimeout(time.Second)
		g.client.Disconnect(250)
	}
	g.logger.Info("MQTT gateway stopped")
}

func (g *Gateway) subscribe(c mqtt.Client) error {
	token := c.Subscribe(g.topic, g.qos, func(_ mqtt.Client, msg mqtt.Message) {
		g.onMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", g.topic, token.Error())
	}
	return nil
}

func (g *Gateway) onMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(g.ctx, publishTimeout)
	defer cancel()

	err := g.HandleMessage(ctx, topic, payload)
	switch {
	case err == nil:
	case errors.Is(err, validator.ErrInvalidMessage):
		logging.Drop(g.logger, "invalid device telemetry",
			zap.String("topic", topic),
			zap.Error(err),
		)
	default:
		g.logger.Error("failed to forward device telemetry",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// HandleMessage validates one telemetry payload and republishes it on
// vitals.<device_id>. A payload without a device id takes it from the topic.
func (g *Gateway) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var msg message.VitalsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return validator.Invalid("failed to unmarshal telemetry: %v", err)
	}

	if msg.DeviceID == 0 && msg.WristbandID == 0 {
		id, err := DeviceFromTopic(g.topic, topic)
		if err != nil {
			return err
		}
		msg.DeviceID = id
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := g.validator.Timestamp(msg.MeasuredAt, g.now()); err != nil {
		return err
	}

	msg.WristbandID = 0
	body, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}

	routingKey := g.route.Key(msg.DeviceID)
	if err := g.publisher.PublishRaw(ctx, routingKey, body); err != nil {
		return fmt.Errorf("failed to forward measurement: %w", err)
	}

	logging.WithDevice(g.logger, msg.DeviceID).Debug("telemetry forwarded",
		zap.String("topic", topic),
		zap.String("routing_key", routingKey),
	)
	return nil
}

// DeviceFromTopic extracts the device id matched by the first single-level
// wildcard of filter, e.g. wristbands/+/vitals and wristbands/12/vitals give 12.
func DeviceFromTopic(filter, topic string) (int64, error) {
	levels := strings.Split(filter, "/")
	parts := strings.Split(topic, "/")

	for i, level := range levels {
		if level != "+" {
			continue
		}
		if i >= len(parts) {
			break
		}
		id, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil || id <= 0 {
			return 0, validator.Invalid("topic %q has no numeric device id", topic)
		}
		return id, nil
	}
	return 0, validator.Invalid("topic %q has no device id and payload has none", topic)
}
