package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/serialapi"
)

type Config struct {
	Serial struct {
		Port string `yaml:"port" toml:"port"`
		Baud int    `yaml:"baud" toml:"baud"`
	} `yaml:"serial" toml:"serial"`
	Transaction struct {
		Timeout        string `yaml:"timeout" toml:"timeout"`
		Backoff        string `yaml:"backoff" toml:"backoff"`
		RxTimeout      string `yaml:"rx_timeout" toml:"rx_timeout"`
		MaxAttempts    int    `yaml:"max_attempts" toml:"max_attempts"`
		MaxLinkRetries int    `yaml:"max_link_retries" toml:"max_link_retries"`
		MaxPending     int    `yaml:"max_pending" toml:"max_pending"`
	} `yaml:"transaction" toml:"transaction"`
	Inclusion struct {
		HighPower   bool   `yaml:"high_power" toml:"high_power"`
		NetworkWide bool   `yaml:"network_wide" toml:"network_wide"`
		Timeout     string `yaml:"timeout" toml:"timeout"`
	} `yaml:"inclusion" toml:"inclusion"`
	Events struct {
		QueueSize int `yaml:"queue_size" toml:"queue_size"`
	} `yaml:"events" toml:"events"`
	Web struct {
		Listen         string   `yaml:"listen" toml:"listen"`
		APIKey         string   `yaml:"api_key" toml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	} `yaml:"web" toml:"web"`
	Store struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"store" toml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled" toml:"enabled"`
		Broker      string `yaml:"broker" toml:"broker"`
		Username    string `yaml:"username" toml:"username"`
		Password    string `yaml:"password" toml:"password"`
		TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
		ClientID    string `yaml:"client_id" toml:"client_id"`
		Discovery   bool   `yaml:"discovery" toml:"discovery"`
	} `yaml:"mqtt" toml:"mqtt"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
	Trace struct {
		Path string `yaml:"path" toml:"path"` // empty disables recording
	} `yaml:"trace" toml:"trace"`
	Discovery struct {
		Enabled   bool   `yaml:"enabled" toml:"enabled"`
		Instance  string `yaml:"instance" toml:"instance"`
		Interface string `yaml:"interface" toml:"interface"`
	} `yaml:"discovery" toml:"discovery"`
	ScriptsDir string `yaml:"scripts_dir" toml:"scripts_dir"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = serialapi.DefaultBaud
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "zwave-home.db"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "zwave"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if _, err := c.transaction(); err != nil {
		return err
	}
	if _, err := parseDuration("inclusion.timeout", c.Inclusion.Timeout, 0); err != nil {
		return err
	}
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("events.queue_size must not be negative, got %d", c.Events.QueueSize)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Discovery.Enabled {
		if _, err := c.webPort(); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// transaction builds the serial API config, keeping defaults for unset values.
func (c *Config) transaction() (serialapi.Config, error) {
	tc := serialapi.DefaultConfig()
	var err error
	if tc.Timeout, err = parseDuration("transaction.timeout", c.Transaction.Timeout, tc.Timeout); err != nil {
		return tc, err
	}
	if tc.Backoff, err = parseDuration("transaction.backoff", c.Transaction.Backoff, tc.Backoff); err != nil {
		return tc, err
	}
	if tc.RxTimeout, err = parseDuration("transaction.rx_timeout", c.Transaction.RxTimeout, tc.RxTimeout); err != nil {
		return tc, err
	}
	for _, f := range []struct {
		name string
		v    int
		dst  *int
	}{
		{"transaction.max_attempts", c.Transaction.MaxAttempts, &tc.MaxAttempts},
		{"transaction.max_link_retries", c.Transaction.MaxLinkRetries, &tc.MaxLinkRetries},
		{"transaction.max_pending", c.Transaction.MaxPending, &tc.MaxPending},
	} {
		if f.v < 0 {
			return tc, fmt.Errorf("%s must not be negative, got %d", f.name, f.v)
		}
		if f.v > 0 {
			*f.dst = f.v
		}
	}
	return tc, nil
}

// controllerConfig assumes validate has passed.
func (c *Config) controllerConfig() controller.Config {
	tc, _ := c.transaction()
	timeout, _ := parseDuration("inclusion.timeout", c.Inclusion.Timeout, controller.DefaultInclusionTimeout)
	return controller.Config{
		Transaction:      tc,
		InclusionTimeout: timeout,
		EventQueueSize:   c.Events.QueueSize,
	}
}

func (c *Config) inclusionOptions() inclusion.Options {
	return inclusion.Options{HighPower: c.Inclusion.HighPower, NetworkWide: c.Inclusion.NetworkWide}
}

func (c *Config) webPort() (int, error) {
	_, p, err := net.SplitHostPort(c.Web.Listen)
	if err != nil {
		return 0, fmt.Errorf("web.listen: %w", err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("web.listen: invalid port %q", p)
	}
	return port, nil
}

func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, s)
	}
	return d, nil
}
