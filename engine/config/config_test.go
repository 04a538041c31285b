package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty) failed: %v", err)
	}
	if cfg.Renderer.FramesInFlight != 3 {
		t.Errorf("FramesInFlight = %d, want 3", cfg.Renderer.FramesInFlight)
	}
	if cfg.Renderer.RingBufferSize != 128<<20 {
		t.Errorf("RingBufferSize = %d, want %d", cfg.Renderer.RingBufferSize, 128<<20)
	}
	if cfg.Post.Tonemap != TonemapACES {
		t.Errorf("Tonemap = %q, want %q", cfg.Post.Tonemap, TonemapACES)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "lumen.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Renderer.Backend != BackendVulkan || cfg.Log.Level != "info" {
		t.Errorf("got backend %q and log level %q, want vulkan and info", cfg.Renderer.Backend, cfg.Log.Level)
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
[application]
width = 1920
height = 1080

[renderer]
backend = "headless"
frames_in_flight = 2

[post]
exposure = 1.5
tonemap = "reinhard"
gain = [1.0, 0.9, 0.8]
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Application.Width != 1920 || cfg.Application.Height != 1080 {
		t.Errorf("resolution = %dx%d, want 1920x1080", cfg.Application.Width, cfg.Application.Height)
	}
	if cfg.Renderer.Backend != BackendHeadless {
		t.Errorf("Backend = %q, want headless", cfg.Renderer.Backend)
	}
	if cfg.Renderer.FramesInFlight != 2 {
		t.Errorf("FramesInFlight = %d, want 2", cfg.Renderer.FramesInFlight)
	}
	if cfg.Post.Exposure != 1.5 || cfg.Post.Tonemap != TonemapReinhard {
		t.Errorf("post = %+v", cfg.Post)
	}
	if cfg.Post.Gain != [3]float32{1, 0.9, 0.8} {
		t.Errorf("Gain = %v", cfg.Post.Gain)
	}
	if cfg.Renderer.RingBufferSize != DefaultRingBufferSize {
		t.Errorf("unset key lost its default: %d", cfg.Renderer.RingBufferSize)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "[renderer]\nframes = 3\n"},
		{"too many frames", "[renderer]\nframes_in_flight = 9\n"},
		{"zero frames", "[renderer]\nframes_in_flight = 0\n"},
		{"bad backend", "[renderer]\nbackend = \"metal\"\n"},
		{"bad tonemap", "[post]\ntonemap = \"filmic\"\n"},
		{"tiny ring", "[renderer]\nring_buffer_size = 1024\n"},
		{"ring past 32-bit offsets", "[renderer]\nring_buffer_size = 17179869184\n"},
		{"empty resolution", "[application]\nwidth = 0\n"},
		{"syntax", "[renderer\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, core.ErrConfiguration) {
				t.Errorf("Parse(%q) = %v, want configuration error", tt.data, err)
			}
		})
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.toml")
	if err := os.WriteFile(path, []byte("[post]\nexposure = 1.0\n"), 0o644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { changes <- cfg })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[post]\nexposure = 2.0\n"), 0o644); err != nil {
		t.Fatalf("rewriting config failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Post.Exposure == 2.0 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
