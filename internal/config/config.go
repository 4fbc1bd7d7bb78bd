package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Config holds all configuration for the termpanel server.
//
// Most values are read once from environment variables at startup. The
// session prefix is the one runtime-mutable setting; it is persisted to a
// small JSON settings file and guarded by a mutex because API handlers may
// change it while the bridge is canonicalizing names.
type Config struct {
	Port     int
	BindAddr string // "127.0.0.1" unless TERMPANEL_PUBLIC=true
	APIKey   string // empty disables API-key auth

	DataDir      string // directory for settings and commands files
	SettingsFile string
	CommandsFile string

	// Terminal multiplexer
	TmuxBin         string
	TmuxSocket      string // tmux -L socket name
	DefaultShell    string
	DefaultCols     int
	DefaultRows     int
	ScrollbackLimit int

	// Display pipeline binaries
	XvfbBin       string
	X11vncBin     string
	WebsockifyBin string
	X11Dir        string // directory holding .X<N>-lock and .X11-unix (default /tmp)

	// Fixed timing constants. Settle windows bound process-start
	// verification; the grace window debounces subscriber churn.
	FramebufferSettle time.Duration
	RFBSettle         time.Duration
	BridgeSettle      time.Duration
	SubscriberGrace   time.Duration

	mu            sync.RWMutex
	sessionPrefix string
}

// settings is the persisted runtime-mutable subset.
type settings struct {
	SessionPrefix string `json:"session_prefix"`
}

// Load reads configuration from environment variables with sensible
// defaults, then applies the persisted settings file on top.
func Load() (*Config, error) {
	dataDir := envOrDefault("TERMPANEL_DATA_DIR", ".")

	cfg := &Config{
		Port:     8080,
		BindAddr: "127.0.0.1",
		APIKey:   os.Getenv("TERMPANEL_API_KEY"),

		DataDir:      dataDir,
		SettingsFile: envOrDefault("TERMPANEL_SETTINGS_FILE", filepath.Join(dataDir, "config.json")),
		CommandsFile: envOrDefault("TERMPANEL_COMMANDS_FILE", filepath.Join(dataDir, "commands.json")),

		TmuxBin:         envOrDefault("TERMPANEL_TMUX_BIN", "tmux"),
		TmuxSocket:      envOrDefault("TERMPANEL_TMUX_SOCKET", "termpanel"),
		DefaultShell:    envOrDefault("TERMPANEL_DEFAULT_SHELL", envOrDefault("SHELL", "/bin/bash")),
		DefaultCols:     envOrDefaultInt("TERMPANEL_DEFAULT_COLS", 120),
		DefaultRows:     envOrDefaultInt("TERMPANEL_DEFAULT_ROWS", 40),
		ScrollbackLimit: envOrDefaultInt("TERMPANEL_SCROLLBACK_LIMIT", 50000),

		XvfbBin:       envOrDefault("TERMPANEL_XVFB_BIN", "Xvfb"),
		X11vncBin:     envOrDefault("TERMPANEL_X11VNC_BIN", "x11vnc"),
		WebsockifyBin: envOrDefault("TERMPANEL_WEBSOCKIFY_BIN", "websockify"),
		X11Dir:        envOrDefault("TERMPANEL_X11_DIR", "/tmp"),

		FramebufferSettle: 500 * time.Millisecond,
		RFBSettle:         500 * time.Millisecond,
		BridgeSettle:      300 * time.Millisecond,
		SubscriberGrace:   5 * time.Second,

		sessionPrefix: envOrDefault("TERMPANEL_SESSION_PREFIX", "term-"),
	}

	if os.Getenv("TERMPANEL_PUBLIC") == "true" {
		cfg.BindAddr = "0.0.0.0"
	}

	if portStr := os.Getenv("TERMPANEL_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid TERMPANEL_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Prefix returns the current session name prefix.
func (c *Config) Prefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionPrefix
}

// SetPrefix updates the session name prefix and persists it.
func (c *Config) SetPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("session prefix must not be empty")
	}
	c.mu.Lock()
	c.sessionPrefix = prefix
	c.mu.Unlock()
	return c.saveSettings()
}

// Snapshot returns the API-visible configuration as a map.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"session_prefix":   c.Prefix(),
		"tmux_socket":      c.TmuxSocket,
		"default_shell":    c.DefaultShell,
		"default_cols":     c.DefaultCols,
		"default_rows":     c.DefaultRows,
		"scrollback_limit": c.ScrollbackLimit,
		"commands_file":    c.CommandsFile,
	}
}

func (c *Config) loadSettings() error {
	data, err := os.ReadFile(c.SettingsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings %s: %w", c.SettingsFile, err)
	}
	var s settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse settings %s: %w", c.SettingsFile, err)
	}
	if s.SessionPrefix != "" {
		c.mu.Lock()
		c.sessionPrefix = s.SessionPrefix
		c.mu.Unlock()
	}
	return nil
}

// saveSettings rewrites the settings file wholesale.
func (c *Config) saveSettings() error {
	s := settings{SessionPrefix: c.Prefix()}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.SettingsFile, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", c.SettingsFile, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
