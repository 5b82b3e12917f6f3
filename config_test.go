package gpucompute

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpucompute.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RetryLimit != 5 || cfg.RowAlignment != 256 {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
retry_limit = 8
readback_workers = 2
backend = "soft"
log_level = "debug"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	want := Config{RetryLimit: 8, RowAlignment: 256, ReadbackWorkers: 2, Backend: "soft", LogLevel: "debug"}
	if cfg != want {
		t.Errorf("LoadConfig() = %+v, want %+v", cfg, want)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v", level, err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "retries = 3\n", "unknown key"},
		{"syntax", "retry_limit = \n", "load config"},
		{"negative retry", "retry_limit = -1\n", "retry_limit"},
		{"alignment not a power of two", "row_alignment = 100\n", "row_alignment"},
		{"alignment too small", "row_alignment = 2\n", "row_alignment"},
		{"bad level", "log_level = \"loud\"\n", "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadConfig() of a missing file should fail")
	}
}

func TestConfig_EncodeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "wgpu"
	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), `backend = "wgpu"`) {
		t.Errorf("Encode() = %s", buf.String())
	}

	got, err := LoadConfig(writeConfig(t, buf.String()))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got != cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestConfig_Level(t *testing.T) {
	level, err := Config{}.Level()
	if err != nil || level != slog.LevelWarn {
		t.Errorf("empty Level() = %v, %v; want warn", level, err)
	}
}
