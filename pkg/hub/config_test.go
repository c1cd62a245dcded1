package hub

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/mediahub/pkg/models"
)

const sampleYAML = `
server:
  url: https://media.example.com:8920
  username: alice
  password: secret
  server_id: abc123
  timeout: 10s

client:
  name: mediahub-test
  device_id: dev-1

players:
  ignore_web: true
  ignore_dlna: true

events:
  sessions: true
  activity_log: true

link:
  max_backoff: 30s
  keepalive: 20s

dispatch:
  queue_size: 64

libraries:
  - library_id: lib1
    item_type: Movie
  - item_type: Episode
    user_id: u2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediahub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://media.example.com:8920", cfg.Server.URL)
	assert.Equal(t, "alice", cfg.Server.Username)
	assert.Equal(t, "secret", cfg.Server.Password)
	assert.Equal(t, "abc123", cfg.Server.ServerID)
	assert.Equal(t, 10*time.Second, cfg.Timeout())

	assert.Equal(t, "mediahub-test", cfg.Client.Name)
	assert.True(t, cfg.Players.IgnoreWeb)
	assert.True(t, cfg.Players.IgnoreDLNA)
	assert.False(t, cfg.Players.IgnoreMobile)
	assert.True(t, cfg.Events.Sessions)
	assert.True(t, cfg.Events.ActivityLog)
	assert.False(t, cfg.Events.Tasks)

	assert.Equal(t, 30*time.Second, cfg.MaxBackoff())
	assert.Equal(t, 20*time.Second, cfg.Keepalive())
	assert.Equal(t, 64, cfg.Dispatch.QueueSize)

	require.Len(t, cfg.Libraries, 2)
	assert.Equal(t, models.LibraryKey{LibraryID: "lib1", UserID: models.Wildcard, ItemType: "Movie"}, cfg.Libraries[0].Key())
	assert.Equal(t, models.LibraryKey{LibraryID: models.Wildcard, UserID: "u2", ItemType: "Episode"}, cfg.Libraries[1].Key())
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [unclosed"))
	assert.ErrorContains(t, err, "hub: parse config")
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("MEDIAHUB_TEST_API_KEY", "key-from-env")

	cfg, err := LoadConfig(writeConfig(t, `
server:
  url: http://localhost:8096
  api_key: ${MEDIAHUB_TEST_API_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Server.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, DefaultTimeout, cfg.Timeout())
	assert.Equal(t, DefaultMaxBackoff, cfg.MaxBackoff())
	assert.Equal(t, DefaultKeepalive, cfg.Keepalive())

	cfg = cfg.WithDefaults()
	assert.Equal(t, DefaultClientName, cfg.Client.Name)
	assert.Equal(t, DefaultDeviceVersion, cfg.Client.DeviceVersion)
	assert.NotEmpty(t, cfg.Client.DeviceName)

	_, err := uuid.Parse(cfg.Client.DeviceID)
	assert.NoError(t, err)

	// Explicit values survive.
	cfg = Config{Client: ClientConfig{DeviceID: "fixed"}}.WithDefaults()
	assert.Equal(t, "fixed", cfg.Client.DeviceID)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{Server: ServerConfig{URL: "http://localhost:8096", APIKey: "k"}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing url", func(c *Config) { c.Server.URL = "" }, "server url is required"},
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://host" }, "scheme must be http or https"},
		{"missing host", func(c *Config) { c.Server.URL = "http://" }, "host is required"},
		{"no login", func(c *Config) { c.Server.APIKey = "" }, "either server username or api_key is required"},
		{"bad timeout", func(c *Config) { c.Server.Timeout = "soon" }, "server timeout"},
		{"negative keepalive", func(c *Config) { c.Link.Keepalive = "-1s" }, "link keepalive must be positive"},
		{"negative queue", func(c *Config) { c.Dispatch.QueueSize = -1 }, "queue_size must not be negative"},
		{"library without type", func(c *Config) { c.Libraries = []LibraryConfig{{LibraryID: "lib1"}} }, "library 0: item_type is required"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
