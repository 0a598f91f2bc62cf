package telemetry

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/config"
	"github.com/mlsorensen/gohub/pkg/logging"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	tlsMinVersion            = tls.VersionTLS12
)

// mqttClient is the part of pahomqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes telemetry as JSON to an MQTT broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type MQTTPublisher struct {
	client mqttClient
	topics Topics
	qos    byte
	hub    string
	id     string
	logger *slog.Logger
}

type valuePayload struct {
	Port      byte      `json:"port"`
	IOType    string    `json:"io_type"`
	Mode      string    `json:"mode"`
	ModeID    byte      `json:"mode_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type devicePayload struct {
	Port      byte      `json:"port"`
	Attached  bool      `json:"attached"`
	IOType    string    `json:"io_type,omitempty"`
	TypeID    uint16    `json:"type_id,omitempty"`
	Hardware  string    `json:"hardware,omitempty"`
	Software  string    `json:"software,omitempty"`
	Virtual   bool      `json:"virtual,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type batteryPayload struct {
	Level     uint8     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type statusPayload struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectMQTT connects to the broker in cfg and announces the bridge for hub
// as online. The broker publishes an offline status if the bridge vanishes.
func ConnectMQTT(cfg config.MQTTConfig, hub string, logger *slog.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics.Status(hub), cfg.Broker.ClientID)

	logger = logging.OrDiscard(logger).With("component", "mqtt")
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newMQTTPublisher(client, cfg, hub, logger)
	if err := p.publishStatus("online", ""); err != nil {
		client.Disconnect(defaultDisconnectQuiesce)
		return nil, err
	}
	return p, nil
}

func newMQTTPublisher(client mqttClient, cfg config.MQTTConfig, hub string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topics: Topics{Prefix: cfg.TopicPrefix},
		qos:    byte(cfg.QoS),
		hub:    hub,
		id:     cfg.Broker.ClientID,
		logger: logging.OrDiscard(logger),
	}
}

// buildClientOptions creates paho options from the MQTT config section.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the retained offline status the broker publishes
// when the bridge disconnects without saying goodbye.
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	payload, _ := json.Marshal(statusPayload{
		Status:    "offline",
		ClientID:  clientID,
		Reason:    "unexpected_disconnect",
		Timestamp: time.Now().UTC(),
	})
	opts.SetBinaryWill(topic, payload, 1, true)
}

// Value publishes one decoded reading.
func (p *MQTTPublisher) Value(s Sample) error {
	return p.publish(p.topics.Value(s.Hub, s.PortID, s.Mode), false, valuePayload{
		Port:      s.PortID,
		IOType:    s.IOType.String(),
		Mode:      s.Mode,
		ModeID:    s.ModeID,
		Value:     s.Value,
		Timestamp: s.Time.UTC(),
	})
}

// Attach publishes the port's device description, or a detached marker.
func (p *MQTTPublisher) Attach(e AttachEvent) error {
	payload := devicePayload{
		Port:      e.Entry.PortID,
		Attached:  e.Kind == attachedio.Attached,
		Timestamp: e.Time.UTC(),
	}
	if payload.Attached {
		payload.IOType = e.Entry.IOType.String()
		payload.TypeID = uint16(e.Entry.IOType)
		payload.Hardware = e.Entry.HardwareRevision.String()
		payload.Software = e.Entry.SoftwareRevision.String()
		payload.Virtual = e.Entry.Virtual
	}
	return p.publish(p.topics.Device(e.Hub, e.Entry.PortID), true, payload)
}

// Battery publishes the battery level as a retained message.
func (p *MQTTPublisher) Battery(b BatteryReading) error {
	return p.publish(p.topics.Battery(b.Hub), true, batteryPayload{Level: b.Level, Timestamp: b.Time.UTC()})
}

// Close publishes a graceful offline status and disconnects.
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		if err := p.publishStatus("offline", "graceful_shutdown"); err != nil {
			p.logger.Warn("publishing offline status", "error", err)
		}
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (p *MQTTPublisher) publishStatus(status, reason string) error {
	return p.publish(p.topics.Status(p.hub), true, statusPayload{
		Status:    status,
		ClientID:  p.id,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (p *MQTTPublisher) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, topic, err)
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
