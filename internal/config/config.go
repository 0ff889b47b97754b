// Package config provides YAML-based configuration for the room server and
// the sync client, with embedded defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use "15s" style values.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ServerConfig holds the room server settings.
type ServerConfig struct {
	Addr          string   `yaml:"addr"`
	DBPath        string   `yaml:"db_path"`
	RoomTTL       Duration `yaml:"room_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ConnectionConfig tunes the push channel and the client's reconnection and
// fallback behavior. Both ends read it: the server for the heartbeat, the
// client for everything else.
type ConnectionConfig struct {
	// HeartbeatInterval is how often an open push channel sends a keepalive
	// so intermediaries do not close it as idle.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	// FallbackPollInterval is how often the client checks for push silence.
	FallbackPollInterval Duration `yaml:"fallback_poll_interval"`
	// FallbackTimeout is the push-silence window after which the client
	// fetches state directly. Longer than the heartbeat so a healthy channel
	// never trips it.
	FallbackTimeout       Duration `yaml:"fallback_timeout"`
	InitialReconnectDelay Duration `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     Duration `yaml:"max_reconnect_delay"`
	BackoffFactor         float64  `yaml:"backoff_factor"`
	// MinSubmitInterval throttles state submissions from one client.
	MinSubmitInterval Duration `yaml:"min_submit_interval"`
	// VisibilityReconnectThreshold: on a visibility/online nudge, reconnect
	// immediately if the channel has been silent at least this long.
	VisibilityReconnectThreshold Duration `yaml:"visibility_reconnect_threshold"`
	ConnectionTimeout            Duration `yaml:"connection_timeout"`
}

// Default returns the hardcoded default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			DBPath:        "quarto.db",
			RoomTTL:       Duration(24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Connection: ConnectionConfig{
			HeartbeatInterval:            Duration(15 * time.Second),
			FallbackPollInterval:         Duration(3 * time.Second),
			FallbackTimeout:              Duration(25 * time.Second),
			InitialReconnectDelay:        Duration(time.Second),
			MaxReconnectDelay:            Duration(30 * time.Second),
			BackoffFactor:                1.5,
			MinSubmitInterval:            Duration(100 * time.Millisecond),
			VisibilityReconnectThreshold: Duration(5 * time.Second),
			ConnectionTimeout:            Duration(10 * time.Second),
		},
	}
}
