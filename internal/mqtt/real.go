package mqtt

import (
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/heater-dashboard/internal/logger"
)

const subscribeTimeout = 10 * time.Second

var errTimeout = errors.New("timeout")

// pahoBroker is a broker backed by a paho client with its own reconnect
// machinery switched off.
type pahoBroker struct {
	client paho.Client
	log    *logger.Logger
}

func dialPaho(log *logger.Logger) dialer {
	return func(cfg brokerConfig) broker {
		opts := paho.NewClientOptions().
			AddBroker(cfg.Broker).
			SetClientID(cfg.ClientID).
			SetKeepAlive(cfg.KeepAlive).
			SetConnectTimeout(cfg.ConnectTimeout).
			SetAutoReconnect(false).
			SetConnectRetry(false).
			SetCleanSession(true).
			SetOrderMatters(true).
			SetConnectionLostHandler(func(_ paho.Client, err error) {
				if cfg.OnConnectionLost != nil {
					cfg.OnConnectionLost(err)
				}
			})
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
			opts.SetPassword(cfg.Password)
		}
		return &pahoBroker{client: paho.NewClient(opts), log: log}
	}
}

func (p *pahoBroker) Connect(timeout time.Duration) error {
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		return errTimeout
	}
	return token.Error()
}

func (p *pahoBroker) Subscribe(topics []string, handler func(topic string, payload []byte)) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 0
	}
	token := p.client.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return errTimeout
	}
	return token.Error()
}

// Publish is QoS 0, not retained. Completion is only logged.
func (p *pahoBroker) Publish(topic, payload string) bool {
	if !p.client.IsConnectionOpen() {
		return false
	}
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.log.Warnw("MQTT publish failed", "topic", topic, "error", err)
		}
	}()
	return true
}

func (p *pahoBroker) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Disconnect also aborts a connect still in flight.
func (p *pahoBroker) Disconnect() {
	p.client.Disconnect(250)
}
