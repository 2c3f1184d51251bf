// Package config loads the coordinator configuration from YAML. The file
// describes the poll cadence and fetch limits, the detail categories with
// their throttle windows, the device roster grouped by fetch group, and
// any push transports.
package config

import (
	"fmt"
	"os"
	"time"

	"devicesync/pkg/source"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits a value.
const (
	DefaultPollIntervalSeconds = 10
	DefaultCatchupFetchLimit   = 200
	DefaultUpdateFetchLimit    = 25
	DefaultDetailIntervalSecs  = 27
)

// DeviceEntry is one roster entry in the config file.
type DeviceEntry struct {
	ID   string `yaml:"device_id"`
	Name string `yaml:"device_name"`
}

// GroupEntry is one fetch group with its devices.
type GroupEntry struct {
	ID      string        `yaml:"id"`
	Devices []DeviceEntry `yaml:"devices"`
}

// DetailCategory configures one throttled detail cache.
type DetailCategory struct {
	Name            string `yaml:"name"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// StreamConfig configures the WebSocket push transport.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// MQTTConfig configures the MQTT push transport.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// PushConfig groups the push transports.
type PushConfig struct {
	Stream StreamConfig `yaml:"stream"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// Config is the parsed coordinator configuration.
type Config struct {
	PollIntervalSeconds int              `yaml:"poll_interval_seconds"`
	CatchupFetchLimit   int              `yaml:"catchup_fetch_limit"`
	UpdateFetchLimit    int              `yaml:"update_fetch_limit"`
	DetailCategories    []DetailCategory `yaml:"detail_categories"`
	Groups              []GroupEntry     `yaml:"groups"`
	Push                PushConfig       `yaml:"push"`
	APIPort             int              `yaml:"api_port"`
}

// Loader reads and validates the configuration file.
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader for the given file path.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Load reads, parses and validates the configuration, applying defaults
// for omitted values.
func (l *Loader) Load() (*Config, error) {
	l.logger.Debug("Loading configuration", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	l.logger.Info("Configuration loaded",
		zap.Int("groups", len(cfg.Groups)),
		zap.Int("devices", len(cfg.Devices())),
		zap.Int("detail_categories", len(cfg.DetailCategories)))
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if cfg.CatchupFetchLimit <= 0 {
		cfg.CatchupFetchLimit = DefaultCatchupFetchLimit
	}
	if cfg.UpdateFetchLimit <= 0 {
		cfg.UpdateFetchLimit = DefaultUpdateFetchLimit
	}
	for i := range cfg.DetailCategories {
		if cfg.DetailCategories[i].IntervalSeconds <= 0 {
			cfg.DetailCategories[i].IntervalSeconds = DefaultDetailIntervalSecs
		}
	}
	if cfg.Push.MQTT.Port == 0 {
		cfg.Push.MQTT.Port = 1883
	}
}

func validate(cfg *Config) error {
	if len(cfg.Groups) == 0 {
		return fmt.Errorf("config defines no device groups")
	}

	seen := make(map[string]bool)
	for _, g := range cfg.Groups {
		if g.ID == "" {
			return fmt.Errorf("group with empty id")
		}
		for _, d := range g.Devices {
			if d.ID == "" {
				return fmt.Errorf("device with empty device_id in group %s", g.ID)
			}
			if seen[d.ID] {
				return fmt.Errorf("duplicate device_id %s", d.ID)
			}
			seen[d.ID] = true
		}
	}

	for _, c := range cfg.DetailCategories {
		if c.Name == "" {
			return fmt.Errorf("detail category with empty name")
		}
	}

	if cfg.Push.Stream.Enabled && cfg.Push.Stream.URL == "" {
		return fmt.Errorf("push stream enabled without url")
	}
	if cfg.Push.MQTT.Enabled && cfg.Push.MQTT.Broker == "" {
		return fmt.Errorf("push mqtt enabled without broker")
	}

	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Devices flattens the grouped roster into typed Device values.
func (c *Config) Devices() []source.Device {
	var out []source.Device
	for _, g := range c.Groups {
		for _, d := range g.Devices {
			out = append(out, source.Device{ID: d.ID, Name: d.Name, GroupID: g.ID})
		}
	}
	return out
}

// GroupIDs returns the fetch group identifiers in file order.
func (c *Config) GroupIDs() []string {
	ids := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		ids = append(ids, g.ID)
	}
	return ids
}
