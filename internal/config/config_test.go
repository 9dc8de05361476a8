package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if exists {
		t.Error("exists = true for a missing file")
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Inference.URL != defaultInferenceURL {
		t.Errorf("Inference.URL = %q", cfg.Inference.URL)
	}
	if cfg.FrameInterval() != 100*time.Millisecond {
		t.Errorf("FrameInterval() = %v", cfg.FrameInterval())
	}
	if cfg.DisplayRefresh() != 500*time.Millisecond {
		t.Errorf("DisplayRefresh() = %v", cfg.DisplayRefresh())
	}
	if cfg.CommitCooldown() != 700*time.Millisecond {
		t.Errorf("CommitCooldown() = %v", cfg.CommitCooldown())
	}
	if !filepath.IsAbs(cfg.Storage.DataDir) || strings.Contains(cfg.Storage.DataDir, "~") {
		t.Errorf("DataDir not expanded: %q", cfg.Storage.DataDir)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[inference]
url = "wss://asl.example.com/stream"

[capture]
camera_id = 2
frame_interval_ms = 40

[aggregator]
commit_cooldown_ms = 900

[storage]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !exists {
		t.Error("exists = false")
	}
	if cfg.Inference.URL != "wss://asl.example.com/stream" {
		t.Errorf("Inference.URL = %q", cfg.Inference.URL)
	}
	if cfg.Capture.CameraID != 2 {
		t.Errorf("CameraID = %d", cfg.Capture.CameraID)
	}
	if cfg.Capture.FrameIntervalMs != MinFrameIntervalMs {
		t.Errorf("FrameIntervalMs = %d, want clamp to %d", cfg.Capture.FrameIntervalMs, MinFrameIntervalMs)
	}
	if cfg.CommitCooldown() != 900*time.Millisecond {
		t.Errorf("CommitCooldown() = %v", cfg.CommitCooldown())
	}
	if cfg.DisplayRefresh() != 500*time.Millisecond {
		t.Errorf("DisplayRefresh() = %v, unspecified keys should keep defaults", cfg.DisplayRefresh())
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "data", "fingerspell.db") {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[capture]\nfps = 30\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "http url", mutate: func(c *Config) { c.Inference.URL = "http://localhost:8000" }, wantErr: "scheme"},
		{name: "empty url", mutate: func(c *Config) { c.Inference.URL = "" }, wantErr: "inference.url"},
		{name: "negative camera", mutate: func(c *Config) { c.Capture.CameraID = -1 }, wantErr: "camera_id"},
		{name: "quality too high", mutate: func(c *Config) { c.Capture.JPEGQuality = 101 }, wantErr: "jpeg_quality"},
		{name: "cooldown not longer than frame", mutate: func(c *Config) { c.Aggregator.CommitCooldownMs = 100 }, wantErr: "commit_cooldown_ms"},
		{name: "zero refresh", mutate: func(c *Config) { c.Aggregator.DisplayRefreshMs = 0 }, wantErr: "display_refresh_ms"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateSample_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if !exists {
		t.Error("sample file not found")
	}
	if cfg.Server.Addr != defaultServerAddr {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("[aggregator]\ndisplay_refresh_ms = 250\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.DisplayRefresh() != 250*time.Millisecond {
		t.Errorf("DisplayRefresh() = %v", cfg.DisplayRefresh())
	}

	out, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(out), "display_refresh_ms = 250") {
		t.Errorf("Encode() output missing refresh window:\n%s", out)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := ExpandPath("~/x/y")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandPath() = %q", got)
	}

	if got, _ := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath(\"\") = %q", got)
	}
}
