package eventing

import (
	"context"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"linemonitor/internal/observability/metrics"
	voltage "linemonitor/internal/voltage/domain"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttAckTimeout     = 5 * time.Second
	mqttDisconnectWait = 250
)

// MQTTConfig addresses the broker mirror.
type MQTTConfig struct {
	Broker     string
	ClientID   string
	Topic      string
	AlarmTopic string
}

// PowerAlarm is the JSON body published on the alarm topic on OUTAGE and CLEAR.
type PowerAlarm struct {
	Up    bool   `json:"up"`
	Type  int    `json:"type"`
	Scope string `json:"scope"`
	Line  string `json:"line,omitempty"`
}

// MQTTPublisher mirrors wire messages to a broker topic and power alarms to an alarm topic.
// Publishing never waits for the broker; failures are reported asynchronously.
type MQTTPublisher struct {
	client     mqtt.Client
	topic      string
	alarmTopic string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewMQTTPublisher connects to cfg.Broker with auto reconnect enabled.
func NewMQTTPublisher(cfg MQTTConfig, opts ...PublisherOption) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("eventing: empty mqtt broker")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "linemonitor"
	}
	o := collectOptions(opts)
	logger := o.logger.With().Str("broker", cfg.Broker).Logger()
	clientOpts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		})
	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		logger.Warn().Msg("mqtt broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, err
	}
	return NewMQTTPublisherWithClient(client, cfg, opts...), nil
}

// NewMQTTPublisherWithClient wraps an existing client.
func NewMQTTPublisherWithClient(client mqtt.Client, cfg MQTTConfig, opts ...PublisherOption) *MQTTPublisher {
	o := collectOptions(opts)
	return &MQTTPublisher{
		client:     client,
		topic:      cfg.Topic,
		alarmTopic: cfg.AlarmTopic,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Publish implements voltage.Publisher.
func (p *MQTTPublisher) Publish(_ context.Context, event voltage.Event) {
	if p == nil || p.client == nil {
		return
	}
	if p.topic != "" {
		text, err := Encode(event)
		if err != nil {
			p.logger.Error().Err(err).Msg("could not encode event")
			p.metrics.IncPublishError("mqtt")
			return
		}
		p.watch(p.client.Publish(p.topic, 0, false, text), p.topic)
	}
	if p.alarmTopic == "" || (event.Kind != voltage.KindOutage && event.Kind != voltage.KindClear) {
		return
	}
	payload, err := json.Marshal(PowerAlarm{
		Up:    event.Kind == voltage.KindClear,
		Type:  1,
		Scope: "1p",
		Line:  event.Line.String(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("could not encode power alarm")
		p.metrics.IncPublishError("mqtt")
		return
	}
	p.watch(p.client.Publish(p.alarmTopic, 1, false, payload), p.alarmTopic)
}

func (p *MQTTPublisher) watch(token mqtt.Token, topic string) {
	go func() {
		if !token.WaitTimeout(mqttAckTimeout) {
			p.logger.Warn().Str("topic", topic).Msg("mqtt publish not acknowledged")
			p.metrics.IncPublishError("mqtt")
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			p.metrics.IncPublishError("mqtt")
		}
	}()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Disconnect(mqttDisconnectWait)
	return nil
}
