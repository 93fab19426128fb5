// Package config builds the single configuration value the bridge runs with.
//
// Values are layered: built-in defaults, then the selected profile, then an
// optional YAML file, then environment variables. The result is validated
// once and passed by reference into every component; nothing reads ambient
// globals after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the whole bridge configuration.
type Config struct {
	// Profile selects the field-name set (see Profiles).
	ProfileName string  `yaml:"profile"`
	Fields      Profile `yaml:"fields"`

	Serial  SerialConfig  `yaml:"serial"`
	Influx  InfluxConfig  `yaml:"influx"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Archive ArchiveConfig `yaml:"archive"`

	LogLevel string `yaml:"log_level"`
	// LogMQTTBroker enables tee-ing log records to logs/<service>. Empty = stdout only.
	LogMQTTBroker string `yaml:"log_mqtt_broker"`
	HTTPPort      string `yaml:"http_port"`
}

// SerialConfig describes the device link and the dispatch pool behind it.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	QueueSize   int           `yaml:"queue_size"`
	Workers     int           `yaml:"workers"`
}

// InfluxConfig points at the time-series store. Range and Window are Flux
// duration literals ("-1h", "1m").
type InfluxConfig struct {
	URL   string `yaml:"url"`
	Org   string `yaml:"org"`
	Token string `yaml:"token"`

	SensorBucket      string `yaml:"sensor_bucket"`
	SensorMeasurement string `yaml:"sensor_measurement"`

	SetpointBucket      string            `yaml:"setpoint_bucket"`
	SetpointMeasurement string            `yaml:"setpoint_measurement"`
	SetpointTags        map[string]string `yaml:"setpoint_tags"`

	Range   string        `yaml:"range"`
	Window  string        `yaml:"window"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTConfig points at the cloud broker. Token is sent as the MQTT username.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Token          string        `yaml:"token"`
	Topic          string        `yaml:"topic"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// BridgeConfig tunes the periodic fuse-derive-publish loop.
type BridgeConfig struct {
	Period        time.Duration `yaml:"period"`
	PumpThreshold float64       `yaml:"pump_threshold"`
}

// ArchiveConfig enables the optional hot/cold archive. Both are optional.
type ArchiveConfig struct {
	PostgresURL string        `yaml:"postgres_url"`
	ValkeyAddr  string        `yaml:"valkey_addr"`
	LastTTL     time.Duration `yaml:"last_ttl"`
}

// Default returns the configuration the bridge was originally deployed with.
func Default() Config {
	return Config{
		ProfileName: DefaultProfile,
		Fields:      defaultFields(),
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    115200,
			ReadTimeout: 15 * time.Second,
			RetryDelay:  5 * time.Second,
			QueueSize:   64,
			Workers:     2,
		},
		Influx: InfluxConfig{
			URL:                 "http://localhost:8086",
			Org:                 "ITS",
			SensorBucket:        "SENSOR_DATA",
			SensorMeasurement:   "sht20_sensor",
			SetpointBucket:      "DWSIM_DATA",
			SetpointMeasurement: "dwsim_temperature",
			SetpointTags:        map[string]string{"stream": "Water_i"},
			Range:               "-1h",
			Window:              "1m",
			Timeout:             10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://demo.thingsboard.io:1883",
			ClientID:       "telemetry-bridge",
			Topic:          "v1/devices/me/telemetry",
			KeepAlive:      30 * time.Second,
			PublishTimeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Period:        10 * time.Second,
			PumpThreshold: 60.0,
		},
		Archive: ArchiveConfig{
			LastTTL: 24 * time.Hour,
		},
		LogLevel: "info",
		HTTPPort: "8080",
	}
}

func defaultFields() Profile {
	p := Profiles[DefaultProfile]
	p.EchoRelays = slices.Clone(p.EchoRelays)
	return p
}

// Load reads path (optional) and the process environment.
func Load(path string) (*Config, error) {
	return LoadFrom(path, os.LookupEnv)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadFrom is Load with an injectable environment.
func LoadFrom(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	var raw []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		raw = b
	}

	// The profile must be known before file overrides so that a file can
	// rename a single field of a preset.
	name := cfg.ProfileName
	if len(raw) > 0 {
		var peek struct {
			Profile string `yaml:"profile"`
			Influx  struct {
				SetpointTags map[string]string `yaml:"setpoint_tags"`
			} `yaml:"influx"`
		}
		if err := yaml.Unmarshal(raw, &peek); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if peek.Profile != "" {
			name = peek.Profile
		}
		// yaml.v3 merges into an existing map. A file that names the tag
		// filter owns it entirely, "{}" included.
		if peek.Influx.SetpointTags != nil {
			cfg.Influx.SetpointTags = nil
		}
	}
	if v, ok := lookup("PROFILE"); ok && v != "" {
		name = v
	}
	if err := cfg.UseProfile(name); err != nil {
		return nil, err
	}

	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.ProfileName = name
	}

	// Env comes last so a container can override a mounted file without
	// editing it.
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UseProfile replaces the field-name set with a built-in preset.
func (c *Config) UseProfile(name string) error {
	p, ok := Profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	p.EchoRelays = slices.Clone(p.EchoRelays)
	c.ProfileName = name
	c.Fields = p
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	e := env{lookup: lookup}

	c.Serial.Port = e.str("SERIAL_PORT", c.Serial.Port)
	c.Serial.BaudRate = e.int("BAUD_RATE", c.Serial.BaudRate)
	c.Serial.ReadTimeout = e.duration("SERIAL_READ_TIMEOUT", c.Serial.ReadTimeout)
	c.Serial.RetryDelay = e.duration("SERIAL_RETRY_DELAY", c.Serial.RetryDelay)

	c.Influx.URL = e.str("INFLUX_URL", c.Influx.URL)
	c.Influx.Org = e.str("INFLUX_ORG", c.Influx.Org)
	c.Influx.Token = strings.TrimSpace(e.str("INFLUX_TOKEN", c.Influx.Token))
	c.Influx.SensorBucket = e.str("SENSOR_BUCKET", c.Influx.SensorBucket)
	c.Influx.SensorMeasurement = e.str("SENSOR_MEASUREMENT", c.Influx.SensorMeasurement)
	c.Influx.SetpointBucket = e.str("SETPOINT_BUCKET", c.Influx.SetpointBucket)
	c.Influx.SetpointMeasurement = e.str("SETPOINT_MEASUREMENT", c.Influx.SetpointMeasurement)
	c.Influx.SetpointTags = e.tags("SETPOINT_TAGS", c.Influx.SetpointTags)
	c.Influx.Range = e.str("QUERY_RANGE", c.Influx.Range)
	c.Influx.Window = e.str("QUERY_WINDOW", c.Influx.Window)

	c.MQTT.Broker = e.str("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = e.str("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Token = e.str("MQTT_TOKEN", c.MQTT.Token)
	c.MQTT.Topic = e.str("MQTT_TOPIC", c.MQTT.Topic)

	c.Bridge.Period = e.duration("BRIDGE_PERIOD", c.Bridge.Period)
	c.Bridge.PumpThreshold = e.float("PUMP_THRESHOLD", c.Bridge.PumpThreshold)

	c.Archive.PostgresURL = e.str("POSTGRES_URL", c.Archive.PostgresURL)
	c.Archive.ValkeyAddr = e.str("VALKEY_ADDR", c.Archive.ValkeyAddr)

	c.LogLevel = e.str("LOG_LEVEL", c.LogLevel)
	c.LogMQTTBroker = e.str("LOG_MQTT_BROKER", c.LogMQTTBroker)
	c.HTTPPort = e.str("HTTP_PORT", c.HTTPPort)

	return errors.Join(e.errs...)
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"serial.port":                 c.Serial.Port,
		"influx.url":                  c.Influx.URL,
		"influx.org":                  c.Influx.Org,
		"influx.sensor_bucket":        c.Influx.SensorBucket,
		"influx.sensor_measurement":   c.Influx.SensorMeasurement,
		"influx.setpoint_bucket":      c.Influx.SetpointBucket,
		"influx.setpoint_measurement": c.Influx.SetpointMeasurement,
		"influx.range":                c.Influx.Range,
		"influx.window":               c.Influx.Window,
		"mqtt.broker":                 c.MQTT.Broker,
		"mqtt.topic":                  c.MQTT.Topic,
	}
	for key, val := range required {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, errors.New("serial.baud_rate must be > 0"))
	}
	if c.Serial.RetryDelay <= 0 {
		errs = append(errs, errors.New("serial.retry_delay must be > 0"))
	}
	if c.Bridge.Period <= 0 {
		errs = append(errs, errors.New("bridge.period must be > 0"))
	}
	if err := c.Fields.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// env reads typed values and collects parse errors instead of silently
// falling back, so a typo in BRIDGE_PERIOD is reported at startup.
type env struct {
	lookup LookupFunc
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if value, exists := e.lookup(key); exists {
		return value
	}
	return fallback
}

func (e *env) int(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (e *env) float(key string, fallback float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

// tags parses "k1=v1,k2=v2". An empty value clears the filter.
func (e *env) tags(key string, fallback map[string]string) map[string]string {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, val, found := strings.Cut(pair, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !found || k == "" {
			e.errs = append(e.errs, fmt.Errorf("%s: expected key=value, got %q", key, pair))
			return fallback
		}
		out[k] = val
	}
	return out
}
