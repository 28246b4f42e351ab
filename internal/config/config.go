// Package config loads the communicator settings from a YAML file.
//
// Every field is optional; missing values fall back to the defaults below,
// which match the engine's built-in constants. Unknown keys are rejected so a
// typo ("timeout:" vs "timeouts:") fails loudly instead of being ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
	"github.com/roach88/tether/internal/peer"
)

// Config is the effective configuration.
type Config struct {
	Timeouts engine.TimeoutPolicy `yaml:"timeouts"`
	History  History              `yaml:"history"`
	Log      Log                  `yaml:"log"`
	Journal  Journal              `yaml:"journal"`
	Files    Files                `yaml:"files"`
	Quota    Quota                `yaml:"quota"`
}

// History configures the in-memory ledger.
type History struct {
	Window time.Duration `yaml:"window"`
}

// Log configures the slog handler.
type Log struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Journal configures the optional SQLite journal. An empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// Files configures where received files are kept.
type Files struct {
	Dir string `yaml:"dir"`
}

// Quota configures the optional send rate limit. Zero values disable it.
type Quota struct {
	MaxOps int           `yaml:"max_ops"`
	Window time.Duration `yaml:"window"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Timeouts: engine.DefaultTimeoutPolicy(),
		History:  History{Window: ledger.DefaultWindow},
		Log:      Log{Level: "info"},
	}
}

// Load reads path and overlays it on Default. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.Timeouts = cfg.Timeouts.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.History.Window <= 0 {
		return fmt.Errorf("history.window must be positive, got %s", c.History.Window)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if q := c.Quota; q.MaxOps < 0 || q.Window < 0 || (q.MaxOps > 0) != (q.Window > 0) {
		return fmt.Errorf("quota: max_ops and window must both be positive or both unset, got %d per %s",
			q.MaxOps, q.Window)
	}
	t := c.Timeouts
	if t.NotificationGrace >= t.Reachable {
		return fmt.Errorf("timeouts.notification_grace (%s) must be shorter than timeouts.reachable (%s)",
			t.NotificationGrace, t.Reachable)
	}
	return nil
}

// SlogLevel maps Log.Level onto a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
}

// PeerOptions translates c into Communicator options. The journal is not
// included: opening it is the caller's job.
func (c Config) PeerOptions(logger *slog.Logger) []peer.Option {
	opts := []peer.Option{
		peer.WithTimeoutPolicy(c.Timeouts),
		peer.WithHistoryWindow(c.History.Window),
	}
	if logger != nil {
		opts = append(opts, peer.WithLogger(logger))
	}
	if c.Files.Dir != "" {
		opts = append(opts, peer.WithFileDir(c.Files.Dir))
	}
	if c.Quota.MaxOps > 0 {
		opts = append(opts, peer.WithSendQuota(c.Quota.MaxOps, c.Quota.Window))
	}
	return opts
}

// View returns c as nested maps with durations in Go notation, the shape
// both Marshal and the CLI's JSON output use.
func (c Config) View() map[string]any {
	return map[string]any{
		"timeouts": map[string]string{
			"reachable":          c.Timeouts.Reachable.String(),
			"file_transfer":      c.Timeouts.FileTransfer.String(),
			"unreachable":        c.Timeouts.Unreachable.String(),
			"notification_grace": c.Timeouts.NotificationGrace.String(),
		},
		"history": map[string]string{"window": c.History.Window.String()},
		"log":     map[string]string{"level": c.Log.Level},
		"journal": map[string]string{"path": c.Journal.Path},
		"files":   map[string]string{"dir": c.Files.Dir},
		"quota": map[string]any{
			"max_ops": c.Quota.MaxOps,
			"window":  c.Quota.Window.String(),
		},
	}
}

// Marshal renders c as YAML. Parse accepts the output.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c.View())
}
