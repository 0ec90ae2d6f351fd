package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
)

const (
	DefaultTopicPrefix = "anvl/detections"
	connectTimeout     = 30 * time.Second
	publishTimeout     = 10 * time.Second
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each detection to <prefix>/<toll_booth_id>.
type MQTTPublisher struct {
	client mqttClient
	prefix string
}

func NewMQTTPublisher(broker, clientID, prefix string, log zerolog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if err := connect(client, broker, connectTimeout); err != nil {
		return nil, err
	}
	return newMQTTPublisher(client, prefix), nil
}

type mqttConnector interface {
	mqttClient
	Connect() mqtt.Token
}

// connect waits for the first connection. On failure the client is
// disconnected so its background retries stop.
func connect(client mqttConnector, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return nil
}

func newMQTTPublisher(client mqttClient, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTPublisher{client: client, prefix: prefix}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Topic(tollBoothID int) string {
	return p.prefix + "/" + strconv.Itoa(tollBoothID)
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev detection.DetectionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal detection: %w", err)
	}

	topic := p.Topic(ev.TollBoothID)
	token := p.client.Publish(topic, 1, false, data)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish to %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("mqtt publish to %s: %w", topic, errors.New("timeout"))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
