// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package config defines the application configuration and its layered
// loading: struct defaults, optional YAML file, then environment
// variables (highest priority), via Koanf v2.
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Transport TransportConfig `koanf:"transport"`
	Data      DataConfig      `koanf:"data"`
	Session   SessionConfig   `koanf:"session"`
	Queue     QueueConfig     `koanf:"queue"`
	Directory DirectoryConfig `koanf:"directory"`
	Relay     RelayConfig     `koanf:"relay"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// TransportConfig selects and configures the session transport.
type TransportConfig struct {
	// Mode selects the transport implementation. "simulated" runs the
	// in-process transport; real wire transports plug in behind the
	// same Dialer boundary.
	Mode string `koanf:"mode"`
	// SessionDir holds the opaque multi-file credential bundle.
	SessionDir string `koanf:"session_dir"`
}

// DataConfig locates the persisted state files.
type DataConfig struct {
	// Dir holds contacts.json, send-queue.json, scripts.json,
	// visuals.json and the QR artifacts.
	Dir string `koanf:"dir"`
}

// SessionConfig tunes the connection lifecycle manager.
type SessionConfig struct {
	// ReconnectBase is the initial reconnection delay after a
	// transient connection loss.
	ReconnectBase time.Duration `koanf:"reconnect_base"`
	// ReconnectMax bounds the exponential backoff.
	ReconnectMax time.Duration `koanf:"reconnect_max"`
	// ReinitDelay is the pause between an explicit disconnect and the
	// re-initialization that regenerates a QR code.
	ReinitDelay time.Duration `koanf:"reinit_delay"`
}

// QueueConfig tunes the delivery queue worker.
type QueueConfig struct {
	// PassInterval is the fixed period between queue passes; it is the
	// sole delivery throttle.
	PassInterval time.Duration `koanf:"pass_interval"`
	// SendTimeout is the hard per-send timeout.
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// DirectoryConfig tunes the directory reconciler.
type DirectoryConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	// SeedPlaceholders inserts provisional sample entries when no real
	// individual contacts are discovered. Off by default: placeholder
	// send targets in production are almost never intended.
	SeedPlaceholders bool `koanf:"seed_placeholders"`
}

// RelayConfig names the source and target groups of the relay pipeline.
type RelayConfig struct {
	SourceGroup       string        `koanf:"source_group"`
	ScriptTargetGroup string        `koanf:"script_target_group"`
	VisualTargetGroup string        `koanf:"visual_target_group"`
	TopicPollInterval time.Duration `koanf:"topic_poll_interval"`
}

// SecurityConfig configures the dashboard HTTP surface.
type SecurityConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by config file
// and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3001,
			Timeout: 30 * time.Second,
		},
		Transport: TransportConfig{
			Mode:       "simulated",
			SessionDir: "./auth_state",
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Session: SessionConfig{
			ReconnectBase: 5 * time.Second,
			ReconnectMax:  80 * time.Second,
			ReinitDelay:   2 * time.Second,
		},
		Queue: QueueConfig{
			PassInterval: 30 * time.Second,
			SendTimeout:  60 * time.Second,
		},
		Directory: DirectoryConfig{
			RefreshInterval:  60 * time.Second,
			SeedPlaceholders: false,
		},
		Relay: RelayConfig{
			SourceGroup:       "Content",
			ScriptTargetGroup: "Demo script",
			VisualTargetGroup: "Demo visual",
			TopicPollInterval: 10 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Transport.Mode != "simulated" {
		return fmt.Errorf("transport.mode %q is not supported", c.Transport.Mode)
	}
	if c.Transport.SessionDir == "" {
		return fmt.Errorf("transport.session_dir must not be empty")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Queue.PassInterval <= 0 {
		return fmt.Errorf("queue.pass_interval must be positive")
	}
	if c.Queue.SendTimeout <= 0 {
		return fmt.Errorf("queue.send_timeout must be positive")
	}
	if c.Session.ReconnectBase <= 0 || c.Session.ReconnectMax < c.Session.ReconnectBase {
		return fmt.Errorf("session reconnect bounds invalid: base=%s max=%s",
			c.Session.ReconnectBase, c.Session.ReconnectMax)
	}
	if c.Directory.RefreshInterval <= 0 {
		return fmt.Errorf("directory.refresh_interval must be positive")
	}
	if c.Relay.SourceGroup == "" {
		return fmt.Errorf("relay.source_group must not be empty")
	}
	return nil
}
