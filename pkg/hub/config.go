package hub

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/mediahub/pkg/models"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultClientName    = "mediahub"
	DefaultDeviceVersion = "1.0.0.0"
	DefaultTimeout       = 5 * time.Second
	DefaultKeepalive     = 30 * time.Second
	DefaultMaxBackoff    = 60 * time.Second
)

// Config is the top-level connector configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Players   PlayersConfig   `yaml:"players"`
	Events    EventsConfig    `yaml:"events"`
	Link      LinkConfig      `yaml:"link"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Libraries []LibraryConfig `yaml:"libraries"`
}

// ServerConfig says where the media server is and how to log in.
type ServerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` //nolint:gosec // configuration field, not a hardcoded secret
	APIKey   string `yaml:"api_key"`  //nolint:gosec // configuration field, not a hardcoded secret
	UserID   string `yaml:"user_id"`
	ServerID string `yaml:"server_id"` // Pins the server identity; empty pins on first connect.
	Timeout  string `yaml:"timeout"`   // Per-request timeout as a duration string (default "5s").
}

// ClientConfig is how the connector identifies itself to the server.
type ClientConfig struct {
	Name          string `yaml:"name"`
	DeviceName    string `yaml:"device_name"`
	DeviceID      string `yaml:"device_id"`
	DeviceVersion string `yaml:"device_version"`
}

// PlayersConfig hides classes of sessions from consumers.
type PlayersConfig struct {
	IgnoreWeb    bool `yaml:"ignore_web"`
	IgnoreDLNA   bool `yaml:"ignore_dlna"`
	IgnoreMobile bool `yaml:"ignore_mobile"`
	IgnoreApp    bool `yaml:"ignore_app"`
}

// EventsConfig toggles passthrough messages.
type EventsConfig struct {
	Sessions    bool `yaml:"sessions"`     // session_changed messages.
	ActivityLog bool `yaml:"activity_log"` // activity_log_entry messages.
	Tasks       bool `yaml:"tasks"`        // scheduled_task_info messages.
	Other       bool `yaml:"other"`        // Message types the connector does not model.
}

// LinkConfig tunes the push channel.
type LinkConfig struct {
	MaxBackoff string `yaml:"max_backoff"` // Backoff cap (default "60s").
	Keepalive  string `yaml:"keepalive"`   // Keepalive interval until the server forces one (default "30s").
}

// DispatchConfig tunes event delivery and library refreshes.
type DispatchConfig struct {
	QueueSize          int `yaml:"queue_size"`
	RefreshConcurrency int `yaml:"refresh_concurrency"`
}

// LibraryConfig is a library query tracked from startup.
type LibraryConfig struct {
	LibraryID string `yaml:"library_id"`
	UserID    string `yaml:"user_id"`
	ItemType  string `yaml:"item_type"`
}

// Key returns the cache key, with empty ids meaning the wildcard.
func (l LibraryConfig) Key() models.LibraryKey {
	key := models.LibraryKey{LibraryID: l.LibraryID, UserID: l.UserID, ItemType: l.ItemType}
	if key.LibraryID == "" {
		key.LibraryID = models.Wildcard
	}
	if key.UserID == "" {
		key.UserID = models.Wildcard
	}
	return key
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing, so passwords and api keys can live in the environment.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("hub: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration after environment expansion.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("hub: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("hub: config: server url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("hub: config: server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("hub: config: server url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("hub: config: server url: host is required")
	}

	if c.Server.Username == "" && c.Server.APIKey == "" {
		return fmt.Errorf("hub: config: either server username or api_key is required")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"server timeout", c.Server.Timeout},
		{"link max_backoff", c.Link.MaxBackoff},
		{"link keepalive", c.Link.Keepalive},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("hub: config: %s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("hub: config: %s must be positive", d.name)
		}
	}

	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("hub: config: dispatch queue_size must not be negative")
	}
	if c.Dispatch.RefreshConcurrency < 0 {
		return fmt.Errorf("hub: config: dispatch refresh_concurrency must not be negative")
	}

	for i, l := range c.Libraries {
		if l.ItemType == "" {
			return fmt.Errorf("hub: config: library %d: item_type is required", i)
		}
	}

	return nil
}

// WithDefaults returns a copy with empty client fields filled in. An empty
// device id becomes a random UUID, so callers that restart the connector
// should persist the result.
func (c Config) WithDefaults() Config {
	if c.Client.Name == "" {
		c.Client.Name = DefaultClientName
	}
	if c.Client.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = DefaultClientName
		}
		c.Client.DeviceName = host
	}
	if c.Client.DeviceID == "" {
		c.Client.DeviceID = uuid.NewString()
	}
	if c.Client.DeviceVersion == "" {
		c.Client.DeviceVersion = DefaultDeviceVersion
	}
	return c
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration { return duration(c.Server.Timeout, DefaultTimeout) }

// MaxBackoff returns the reconnect delay cap.
func (c Config) MaxBackoff() time.Duration { return duration(c.Link.MaxBackoff, DefaultMaxBackoff) }

// Keepalive returns the initial keepalive interval.
func (c Config) Keepalive() time.Duration { return duration(c.Link.Keepalive, DefaultKeepalive) }

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
