package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/colony-strength/pkg/logger"
)

// MQTTTransport is a Transport over a paho MQTT client.
type MQTTTransport struct {
	client  mqtt.Client
	qos     byte
	bufSize int
}

// Connect opens a connection to the broker configured in cfg.
func Connect(cfg Config) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT: Connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT: Connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	logger.Infof("MQTT: Connected to broker %s", cfg.Broker)
	return NewMQTTTransport(client, cfg.QoS), nil
}

// NewMQTTTransport wraps a connected client.
func NewMQTTTransport(client mqtt.Client, qos byte) *MQTTTransport {
	return &MQTTTransport{client: client, qos: qos, bufSize: 256}
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return wait(ctx, t.client.Publish(topic, t.qos, false, payload))
}

func (t *MQTTTransport) Subscribe(ctx context.Context, filter string) (<-chan Message, error) {
	ch := make(chan Message, t.bufSize)
	var mu sync.Mutex
	closed := false

	handler := func(_ mqtt.Client, m mqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- Message{Topic: m.Topic(), Payload: m.Payload()}:
		default:
			logger.Warnf("MQTT: dropping message on %s, subscriber is full", m.Topic())
		}
	}
	if err := wait(ctx, t.client.Subscribe(filter, t.qos, handler)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}
	logger.Infof("MQTT: Subscribed to %s", filter)

	go func() {
		<-ctx.Done()
		if token := t.client.Unsubscribe(filter); token.WaitTimeout(time.Second) && token.Error() != nil {
			logger.Warnf("MQTT: failed to unsubscribe from %s: %v", filter, token.Error())
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
	logger.Info("MQTT: Disconnected")
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
