// Package config loads fingerspell's TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

const (
	defaultInferenceURL     = "ws://localhost:8000/ws"
	defaultHandshakeTimeout = 10000
	defaultFrameIntervalMs  = 100
	defaultJPEGQuality      = 80
	defaultWidth            = 640
	defaultHeight           = 480
	defaultDisplayRefreshMs = 500
	defaultCommitCooldownMs = 700
	defaultServerAddr       = "127.0.0.1:8080"
	defaultDataDir          = "~/.fingerspell"
	defaultLogLevel         = "info"

	// MinFrameIntervalMs caps capture at 10 frames per second.
	MinFrameIntervalMs = 100
)

// Inference configures the connection to the remote inference service.
type Inference struct {
	URL                string `toml:"url"`
	HandshakeTimeoutMs int    `toml:"handshake_timeout_ms"`
}

// Capture configures the webcam and frame emitter.
type Capture struct {
	CameraID        int `toml:"camera_id"`
	FrameIntervalMs int `toml:"frame_interval_ms"`
	JPEGQuality     int `toml:"jpeg_quality"`
	Width           int `toml:"width"`
	Height          int `toml:"height"`
}

// Aggregator configures the two debounce windows.
type Aggregator struct {
	DisplayRefreshMs int `toml:"display_refresh_ms"`
	CommitCooldownMs int `toml:"commit_cooldown_ms"`
}

// Server configures the local HTTP server.
type Server struct {
	Addr      string `toml:"addr"`
	StaticDir string `toml:"static_dir"`
}

// Storage configures where session history and the instance lock live.
type Storage struct {
	DataDir string `toml:"data_dir"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values.
type Config struct {
	Inference  Inference  `toml:"inference"`
	Capture    Capture    `toml:"capture"`
	Aggregator Aggregator `toml:"aggregator"`
	Server     Server     `toml:"server"`
	Storage    Storage    `toml:"storage"`
	Logging    Logging    `toml:"logging"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Inference: Inference{
			URL:                defaultInferenceURL,
			HandshakeTimeoutMs: defaultHandshakeTimeout,
		},
		Capture: Capture{
			FrameIntervalMs: defaultFrameIntervalMs,
			JPEGQuality:     defaultJPEGQuality,
			Width:           defaultWidth,
			Height:          defaultHeight,
		},
		Aggregator: Aggregator{
			DisplayRefreshMs: defaultDisplayRefreshMs,
			CommitCooldownMs: defaultCommitCooldownMs,
		},
		Server: Server{
			Addr: defaultServerAddr,
		},
		Storage: Storage{
			DataDir: defaultDataDir,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/fingerspell/config.toml")
}

// Load parses and validates the file at path. A missing file yields the
// defaults. The returned bool reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		path = p
	}

	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, "", false, err
	}

	exists := true
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolved, exists, nil
}

// Parse decodes TOML from data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Inference.URL = strings.TrimSpace(c.Inference.URL)
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Inference.HandshakeTimeoutMs <= 0 {
		c.Inference.HandshakeTimeoutMs = defaultHandshakeTimeout
	}
	if c.Capture.FrameIntervalMs < MinFrameIntervalMs {
		c.Capture.FrameIntervalMs = MinFrameIntervalMs
	}
	if c.Capture.JPEGQuality <= 0 {
		c.Capture.JPEGQuality = defaultJPEGQuality
	}

	dataDir, err := ExpandPath(c.Storage.DataDir)
	if err != nil {
		return err
	}
	c.Storage.DataDir = dataDir

	if c.Server.StaticDir != "" {
		staticDir, err := ExpandPath(c.Server.StaticDir)
		if err != nil {
			return err
		}
		c.Server.StaticDir = staticDir
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Inference.URL)
	if err != nil || c.Inference.URL == "" {
		return fmt.Errorf("inference.url: invalid value %q", c.Inference.URL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("inference.url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Capture.CameraID < 0 {
		return fmt.Errorf("capture.camera_id: must not be negative")
	}
	if c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality: must be between 1 and 100")
	}
	if c.Aggregator.DisplayRefreshMs <= 0 {
		return fmt.Errorf("aggregator.display_refresh_ms: must be positive")
	}
	if c.Aggregator.CommitCooldownMs <= c.Capture.FrameIntervalMs {
		return fmt.Errorf("aggregator.commit_cooldown_ms: must be longer than capture.frame_interval_ms (%d)", c.Capture.FrameIntervalMs)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr: must not be empty")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir: must not be empty")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

// FrameInterval returns the emitter period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Capture.FrameIntervalMs) * time.Millisecond
}

// DisplayRefresh returns the display refresh window.
func (c *Config) DisplayRefresh() time.Duration {
	return time.Duration(c.Aggregator.DisplayRefreshMs) * time.Millisecond
}

// CommitCooldown returns the commit cooldown window.
func (c *Config) CommitCooldown() time.Duration {
	return time.Duration(c.Aggregator.CommitCooldownMs) * time.Millisecond
}

// HandshakeTimeout returns the websocket handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Inference.HandshakeTimeoutMs) * time.Millisecond
}

// DatabasePath returns the SQLite session history path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "fingerspell.db")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "fingerspell.lock")
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %q: %w", c.Storage.DataDir, err)
	}
	return nil
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading "~" and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
