package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	yml := `
server:
  listen_addr: ":7777"
  log_level: debug
  read_timeout: 90s
  send_queue_size: 128
client:
  server_url: wss://voice.example.com/ws
  username: alice
  ice_servers:
    - stun:stun.example.com:3478
  keepalive_interval: 30s
  request_timeout: 5s
  reconnect_delay: 2s
  max_reconnect_attempts: 10
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen_addr = %q, want :7777", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Server.ReadTimeout != 90*time.Second {
		t.Errorf("read_timeout = %s, want 90s", cfg.Server.ReadTimeout)
	}
	if cfg.Client.ServerURL != "wss://voice.example.com/ws" {
		t.Errorf("server_url = %q", cfg.Client.ServerURL)
	}
	if cfg.Client.Username != "alice" {
		t.Errorf("username = %q, want alice", cfg.Client.Username)
	}
	if cfg.Client.MaxReconnectAttempts != 10 {
		t.Errorf("max_reconnect_attempts = %d, want 10", cfg.Client.MaxReconnectAttempts)
	}
	if len(cfg.Client.ICEServers) != 1 || cfg.Client.ICEServers[0] != "stun:stun.example.com:3478" {
		t.Errorf("ice_servers = %v", cfg.Client.ICEServers)
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("read_timeout = %s, want %s", cfg.Server.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Server.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("send_queue_size = %d, want %d", cfg.Server.SendQueueSize, DefaultSendQueueSize)
	}
	if cfg.Client.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("keepalive_interval = %s, want %s", cfg.Client.KeepaliveInterval, DefaultKeepaliveInterval)
	}
	if cfg.Client.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("request_timeout = %s, want %s", cfg.Client.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Client.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("reconnect_delay = %s, want %s", cfg.Client.ReconnectDelay, DefaultReconnectDelay)
	}
	if cfg.Client.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("max_reconnect_attempts = %d, want %d", cfg.Client.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yml := `
server:
  listen_addr: ":9000"
  bogus_field: true
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_EnvOverridesServerURL(t *testing.T) {
	t.Setenv(EnvServerURL, "ws://override.example.com/ws")

	yml := `
client:
  server_url: ws://file.example.com/ws
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Client.ServerURL != "ws://override.example.com/ws" {
		t.Errorf("server_url = %q, want env override", cfg.Client.ServerURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "negative read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "tls missing key file",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantErr: true,
		},
		{
			name:    "http scheme server url",
			mutate:  func(c *Config) { c.Client.ServerURL = "http://example.com/ws" },
			wantErr: true,
		},
		{
			name:   "wss scheme server url",
			mutate: func(c *Config) { c.Client.ServerURL = "wss://example.com/ws" },
		},
		{
			name:    "negative reconnect attempts",
			mutate:  func(c *Config) { c.Client.MaxReconnectAttempts = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/voicesync.yml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
