// Package config loads the daemon's config.toml.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML strings like "1h" decode directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	// ListenAddr is the HTTP/WebSocket listen address.
	ListenAddr string `toml:"listen_addr"`
	// DataDir holds the SQLite store, the process lock, and logs.
	DataDir string `toml:"data_dir"`
	// TokenSecret signs connection credentials. Required.
	TokenSecret string `toml:"token_secret"`
	// TokenTTL bounds credential lifetime.
	TokenTTL Duration `toml:"token_ttl"`
	// RecallWindow bounds sender-initiated message recall.
	RecallWindow Duration `toml:"recall_window"`
	// EventRate limits inbound frames per second per connection.
	EventRate float64 `toml:"event_rate"`
	// EventBurst is the per-connection limiter burst size.
	EventBurst int `toml:"event_burst"`
	// SendBuffer is the outbound frame buffer per connection; a recipient
	// whose buffer is full misses the frame rather than stalling fan-out.
	SendBuffer int `toml:"send_buffer"`
	// Debug enables console debug logging.
	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:   "127.0.0.1:8480",
		DataDir:      "data",
		TokenTTL:     Duration(24 * time.Hour),
		RecallWindow: Duration(time.Hour),
		EventRate:    25,
		EventBurst:   50,
		SendBuffer:   64,
	}
}

// Load reads config from path, overlaying the defaults. A missing file is
// not an error; a missing token_secret is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = os.Getenv("MESSAGING_TOKEN_SECRET")
	}
	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("token_secret is required (config file or MESSAGING_TOKEN_SECRET)")
	}
	return cfg, nil
}
