package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/config"
	"github.com/mlsorensen/gohub/pkg/lwp"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	err          error
	sent         []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:     true,
		Broker:      config.MQTTBrokerConfig{Host: "broker", Port: 1883, ClientID: "bridge-1"},
		QoS:         1,
		TopicPrefix: "gohub",
	}
}

func decode(t *testing.T, p published) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(p.payload, &out))
	return out
}

func TestMQTTPublishesValue(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newMQTTPublisher(client, testMQTTConfig(), "hub", nil)

	err := p.Value(Sample{Hub: "hub", PortID: 0x01, IOType: lwp.IOTypeTechnicLargeMotor, ModeID: 2, Mode: "POS", Value: -45, Time: at(100)})
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "gohub/hub/port/01/pos", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	body := decode(t, msg)
	assert.Equal(t, -45.0, body["value"])
	assert.Equal(t, "POS", body["mode"])
	assert.Equal(t, "Technic Large Motor", body["io_type"])
	assert.Equal(t, "1970-01-01T00:01:40Z", body["timestamp"])
}

func TestMQTTPublishesAttachAndDetach(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newMQTTPublisher(client, testMQTTConfig(), "hub", nil)

	entry := attachedio.Entry{PortID: 0x00, IOType: lwp.IOTypeTechnicLargeMotor}
	require.NoError(t, p.Attach(AttachEvent{Hub: "hub", Kind: attachedio.Attached, Entry: entry, Time: at(1)}))
	require.NoError(t, p.Attach(AttachEvent{Hub: "hub", Kind: attachedio.Detached, Entry: entry, Time: at(2)}))

	require.Len(t, client.sent, 2)
	for _, msg := range client.sent {
		assert.Equal(t, "gohub/hub/port/00/device", msg.topic)
		assert.True(t, msg.retained)
	}
	attached := decode(t, client.sent[0])
	assert.Equal(t, true, attached["attached"])
	assert.Equal(t, float64(lwp.IOTypeTechnicLargeMotor), attached["type_id"])

	detached := decode(t, client.sent[1])
	assert.Equal(t, false, detached["attached"])
	assert.NotContains(t, detached, "io_type")
}

func TestMQTTPublishErrors(t *testing.T) {
	client := &fakeClient{}
	p := newMQTTPublisher(client, testMQTTConfig(), "hub", nil)

	assert.ErrorIs(t, p.Battery(BatteryReading{Hub: "hub", Level: 90}), ErrNotConnected)

	client.connected = true
	client.err = errors.New("broker gone")
	assert.ErrorIs(t, p.Battery(BatteryReading{Hub: "hub", Level: 90}), ErrPublishFailed)
}

func TestMQTTCloseAnnouncesOffline(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newMQTTPublisher(client, testMQTTConfig(), "hub", nil)

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "gohub/hub/status", client.sent[0].topic)
	body := decode(t, client.sent[0])
	assert.Equal(t, "offline", body["status"])
	assert.Equal(t, "bridge-1", body["client_id"])
}

func TestConnectMQTTDisabled(t *testing.T) {
	_, err := ConnectMQTT(config.MQTTConfig{}, "hub", nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "user", Password: "secret"}

	opts := buildClientOptions(cfg)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://broker:1883", opts.Servers[0].String())
	assert.Equal(t, "bridge-1", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.NotNil(t, opts.TLSConfig)
}
