// Package config provides the configuration schema and loader for VoiceSync.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for VoiceSync.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig holds network and logging settings for the signaling server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ReadTimeout is how long a connection may stay silent before the
	// server drops it. Clients ping every 25 seconds, so the default of
	// 60 seconds tolerates two missed keepalives.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// SendQueueSize bounds the per-connection outbound message queue.
	// A client whose queue overflows is treated as disconnected.
	SendQueueSize int `yaml:"send_queue_size"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ClientConfig holds settings for the client session coordinator.
type ClientConfig struct {
	// ServerURL is the websocket endpoint of the signaling server
	// (e.g., "ws://localhost:3000/ws"). The VOICESYNC_SERVER environment
	// variable overrides this value.
	ServerURL string `yaml:"server_url"`

	// Username is the default display name sent at login.
	Username string `yaml:"username"`

	// ICEServers lists STUN/TURN server URLs for peer connections.
	// Leave empty to use the built-in public STUN servers.
	ICEServers []string `yaml:"ice_servers"`

	// KeepaliveInterval is how often the client pings the server.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// RequestTimeout bounds how long request/response operations such as
	// login or join-room wait for the server's reply.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectDelay is the pause between reconnection attempts after an
	// unexpected disconnect.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// MaxReconnectAttempts is how many consecutive reconnects the client
	// tries before giving up.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// Default configuration values applied by [ApplyDefaults].
const (
	DefaultListenAddr           = ":3000"
	DefaultServerURL            = "ws://localhost:3000/ws"
	DefaultReadTimeout          = 60 * time.Second
	DefaultSendQueueSize        = 64
	DefaultKeepaliveInterval    = 25 * time.Second
	DefaultRequestTimeout       = 10 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = DefaultServerURL
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.SendQueueSize == 0 {
		cfg.Server.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.Client.KeepaliveInterval == 0 {
		cfg.Client.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Client.RequestTimeout == 0 {
		cfg.Client.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Client.ReconnectDelay == 0 {
		cfg.Client.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Client.MaxReconnectAttempts == 0 {
		cfg.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// SlogLevel converts l to the corresponding [slog] level constant string
// representation understood by slog.Level.UnmarshalText. Defaults to "info".
func (l LogLevel) String() string {
	if l == "" {
		return string(LogInfo)
	}
	return string(l)
}
