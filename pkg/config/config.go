// Package config loads gohub configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hub bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Transport kinds accepted in HubConfig.Transport.
const (
	TransportBLE    = "ble"
	TransportSerial = "serial"
	TransportMock   = "mock"
)

// HubConfig selects and configures the link to the hub.
type HubConfig struct {
	Name      string       `yaml:"name"`
	Transport string       `yaml:"transport"`
	BLE       BLEConfig    `yaml:"ble"`
	Serial    SerialConfig `yaml:"serial"`

	// OutputPipelining lets several output commands wait for feedback at once.
	OutputPipelining bool `yaml:"output_pipelining"`
}

// BLEConfig contains Bluetooth LE settings.
type BLEConfig struct {
	// Address of the hub. Empty connects to the first hub advertising the LWP service.
	Address        string `yaml:"address"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// SerialConfig contains settings for a BLE-UART bridge on a serial port.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Frames logs every wire frame at debug level.
	Frames bool `yaml:"frames"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TelemetryConfig lists the port modes to stream once a matching device attaches.
type TelemetryConfig struct {
	Subscriptions  []SubscriptionConfig `yaml:"subscriptions"`
	BatteryPolling int                  `yaml:"battery_polling"`
}

// SubscriptionConfig subscribes to one mode of any device of the given IO type.
// IOType is the device name as printed by lwp.IOType.String, or a hex id like "0x2e".
type SubscriptionConfig struct {
	IOType    string  `yaml:"io_type"`
	Mode      string  `yaml:"mode"`
	Threshold float64 `yaml:"threshold"`
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Name:      "hub",
			Transport: TransportBLE,
			BLE: BLEConfig{
				ConnectTimeout: 10,
			},
			Serial: SerialConfig{
				BaudRate: 115200,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gohub-bridge",
			},
			QoS:         1,
			TopicPrefix: "gohub",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "gohub",
			BatchSize:     100,
			FlushInterval: 1,
		},
		Telemetry: TelemetryConfig{
			BatteryPolling: 60,
		},
	}
}

// applyEnvOverrides applies GOHUB_* environment variables over the loaded values.
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("GOHUB_HUB_TRANSPORT"); v != "" {
		cfg.Hub.Transport = v
	}
	if v := os.Getenv("GOHUB_BLE_ADDRESS"); v != "" {
		cfg.Hub.BLE.Address = v
	}
	if v := os.Getenv("GOHUB_SERIAL_PORT"); v != "" {
		cfg.Hub.Serial.Port = v
	}
	if v := os.Getenv("GOHUB_SERIAL_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Serial.BaudRate = n
		}
	}

	// Logging
	if v := os.Getenv("GOHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("GOHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GOHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GOHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GOHUB_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GOHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: All validation problems joined together, or nil
func (c *Config) Validate() error {
	var errs []string

	switch c.Hub.Transport {
	case TransportBLE:
		if c.Hub.BLE.ConnectTimeout <= 0 {
			errs = append(errs, "hub.ble.connect_timeout must be positive")
		}
	case TransportSerial:
		if c.Hub.Serial.Port == "" {
			errs = append(errs, "hub.serial.port is required for the serial transport")
		}
		if c.Hub.Serial.BaudRate <= 0 {
			errs = append(errs, "hub.serial.baud_rate must be positive")
		}
	case TransportMock:
	default:
		errs = append(errs, fmt.Sprintf("hub.transport must be one of %s, %s, %s", TransportBLE, TransportSerial, TransportMock))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required")
		}
	}

	for i, s := range c.Telemetry.Subscriptions {
		if s.IOType == "" || s.Mode == "" {
			errs = append(errs, fmt.Sprintf("telemetry.subscriptions[%d] needs io_type and mode", i))
		}
		if s.Threshold < 0 {
			errs = append(errs, fmt.Sprintf("telemetry.subscriptions[%d].threshold must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the BLE connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Hub.BLE.ConnectTimeout) * time.Second
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}

// GetBatteryPolling returns how often the bridge asks for the battery level.
// Zero disables polling.
func (c *Config) GetBatteryPolling() time.Duration {
	return time.Duration(c.Telemetry.BatteryPolling) * time.Second
}
