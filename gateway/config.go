package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's YAML configuration.
type Config struct {
	DeviceName string        `yaml:"device_name"`
	ScanTime   time.Duration `yaml:"scan_time"`
	Listen     string        `yaml:"listen"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"metrics"`

	MQTT struct {
		Enabled  bool          `yaml:"enabled"`
		Broker   string        `yaml:"broker"`
		ClientID string        `yaml:"client_id"`
		Topic    string        `yaml:"topic"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"mqtt"`
}

// DefaultConfig matches a gateway sitting next to a stock ornament.
func DefaultConfig() Config {
	var c Config
	c.DeviceName = "Ornament"
	c.ScanTime = 15 * time.Second
	c.Listen = ":3000"
	c.Metrics.Enabled = true
	c.Metrics.Listen = ":9090"
	c.MQTT.ClientID = "ornament-gateway"
	c.MQTT.Topic = "ornament"
	c.MQTT.Interval = 30 * time.Second
	return c
}

// LoadConfig reads the YAML file at path over the defaults. A missing file
// is not an error; a present but unparseable one is.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}
