// Package config loads jsbridge settings from defaults, an optional config
// file and JSBRIDGE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/jsbridge/internal/guest"
	"github.com/woxQAQ/jsbridge/internal/runtime"
)

// EnvPrefix prefixes every environment override, e.g. JSBRIDGE_IPC_TRANSPORT.
const EnvPrefix = "JSBRIDGE"

// Transport kinds.
const (
	TransportPipe      = "pipe"
	TransportWebSocket = "websocket"
	TransportLongPoll  = "longpoll"
	TransportGuest     = "guest"
)

type Config struct {
	BindingPaths   []string    `mapstructure:"binding_paths"`
	LogLevel       string      `mapstructure:"log_level"`
	MetricsEnabled bool        `mapstructure:"metrics_enabled"`
	MetricsPort    int         `mapstructure:"metrics_port"`
	IPC            IPCConfig   `mapstructure:"ipc"`
	Guest          GuestConfig `mapstructure:"guest"`
}

// IPCConfig holds transport and runtime settings.
type IPCConfig struct {
	// pipe, websocket, longpoll or guest.
	Transport string `mapstructure:"transport"`
	// Listener for websocket and longpoll.
	ListenAddr string `mapstructure:"listen_addr"`
	// Send base64 text frames instead of binary frames.
	TextFraming bool `mapstructure:"text_framing"`
	// Per-flush wait deadline. Zero waits forever.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	StrictHeap  bool          `mapstructure:"strict_heap"`
	VerifyHeap  bool          `mapstructure:"verify_heap"`
	// Buffered messages per direction.
	QueueSize int `mapstructure:"queue_size"`
}

// GuestConfig holds settings for wasm-hosted script sides.
type GuestConfig struct {
	// Compiled script side used by the guest transport.
	Module string `mapstructure:"module"`
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binding_paths", []string{"./bindings"})
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	v.SetDefault("ipc.transport", TransportPipe)
	v.SetDefault("ipc.listen_addr", "127.0.0.1:0")
	v.SetDefault("ipc.text_framing", false)
	v.SetDefault("ipc.call_timeout", "0s")
	v.SetDefault("ipc.strict_heap", false)
	v.SetDefault("ipc.verify_heap", true)
	v.SetDefault("ipc.queue_size", 64)

	v.SetDefault("guest.module", "")
	v.SetDefault("guest.memory_pages", 256) // 16MB
	v.SetDefault("guest.debug", false)
	v.SetDefault("guest.cache_dir", "")
}

// Load reads configuration. An empty configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError reports an unusable setting.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// Validate checks settings that defaults cannot make safe.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return &ValidationError{Key: "log_level", Message: err.Error()}
	}
	switch c.IPC.Transport {
	case TransportPipe, TransportWebSocket, TransportLongPoll:
	case TransportGuest:
		if c.Guest.Module == "" {
			return &ValidationError{Key: "guest.module", Message: "required by the guest transport"}
		}
	default:
		return &ValidationError{Key: "ipc.transport", Message: fmt.Sprintf("unknown transport %q", c.IPC.Transport)}
	}
	if c.IPC.QueueSize <= 0 {
		return &ValidationError{Key: "ipc.queue_size", Message: "must be positive"}
	}
	if c.IPC.CallTimeout < 0 {
		return &ValidationError{Key: "ipc.call_timeout", Message: "must not be negative"}
	}
	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		return &ValidationError{Key: "metrics_port", Message: fmt.Sprintf("%d is not a port", c.MetricsPort)}
	}
	if c.Guest.MemoryPages == 0 || c.Guest.MemoryPages > 65536 {
		return &ValidationError{Key: "guest.memory_pages", Message: "must be between 1 and 65536"}
	}
	return nil
}

// Level returns the configured zap level.
func (c *Config) Level() zapcore.Level {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Runtime returns the native runtime settings.
func (c *IPCConfig) Runtime() *runtime.Config {
	return &runtime.Config{
		CallTimeout: c.CallTimeout,
		StrictHeap:  c.StrictHeap,
		VerifyHeap:  c.VerifyHeap,
	}
}

// Runtime returns the wasm guest settings.
func (c *GuestConfig) Runtime() *guest.RuntimeConfig {
	return &guest.RuntimeConfig{
		MemoryPages:  c.MemoryPages,
		DebugEnabled: c.Debug,
		CacheDir:     c.CacheDir,
	}
}
