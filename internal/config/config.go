// Package config loads the Aurora backend configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPipePath is the shairport-sync metadata pipe location.
const DefaultPipePath = "/tmp/shairport-sync-metadata"

// Config is the top-level configuration for the backend.
type Config struct {
	Pipe    PipeConfig    `toml:"pipe"`
	Session SessionConfig `toml:"session"`
	Journal JournalConfig `toml:"journal"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
}

// PipeConfig configures the metadata pipe source.
type PipeConfig struct {
	Path           string   `toml:"path"`
	CreateIfAbsent bool     `toml:"create_if_absent"`
	ReopenBackoff  Duration `toml:"reopen_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// SessionConfig configures the session state machine.
type SessionConfig struct {
	// WaitTimeout is how long a paused/stopped session keeps the display
	// before dropping to the waiting state.
	WaitTimeout Duration `toml:"wait_timeout"`
}

// JournalConfig configures capture and replay defaults.
type JournalConfig struct {
	FastForward bool     `toml:"fast_forward"`
	MaxGap      Duration `toml:"max_gap"`
}

// ServerConfig configures the HTTP/Socket.IO server.
type ServerConfig struct {
	Port string `toml:"port"`
}

// StorageConfig configures on-disk state (history database, artwork cache).
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// Default returns the configuration defaults matching a stock
// shairport-sync install.
func Default() Config {
	return Config{
		Pipe: PipeConfig{
			Path:          DefaultPipePath,
			ReopenBackoff: Duration(time.Second),
			MaxBackoff:    Duration(30 * time.Second),
		},
		Session: SessionConfig{
			WaitTimeout: Duration(2 * time.Second),
		},
		Journal: JournalConfig{
			FastForward: true,
			MaxGap:      Duration(2 * time.Second),
		},
		Server: ServerConfig{
			Port: "3001",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
	}
}

// Load reads a TOML config file on top of the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Duration wraps time.Duration so TOML values can be written as "2s", "500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
