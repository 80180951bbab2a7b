package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tone/internal/synth"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Render.SampleRate != 48000 || cfg.Render.BitDepth != 16 {
		t.Fatalf("unexpected render defaults: %+v", cfg.Render)
	}
	if cfg.Playback.Enabled {
		t.Fatal("expected playback disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TONE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_TONE_BUS_USERNAME", "alice")
	t.Setenv("LOQA_TONE_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_TONE_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_TONE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_TONE_HTTP_CORS_ORIGINS", "http://localhost:3000")
	t.Setenv("LOQA_TONE_RENDER_SAMPLE_RATE", "44100")
	t.Setenv("LOQA_TONE_RENDER_BIT_DEPTH", "24")
	t.Setenv("LOQA_TONE_RENDER_AMPLITUDE", "0.5")
	t.Setenv("LOQA_TONE_RENDER_MAX_DURATION_SECONDS", "60")
	t.Setenv("LOQA_TONE_RENDER_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_TONE_RENDER_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_TONE_RENDER_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_TONE_RENDER_STORE_MAX_RENDERS", "123")
	t.Setenv("LOQA_TONE_RENDER_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_TONE_PLAYBACK_ENABLED", "true")
	t.Setenv("LOQA_TONE_PLAYBACK_MODE", "exec")
	t.Setenv("LOQA_TONE_PLAYBACK_COMMAND", "aplay -f S16_LE -r {rate}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 {
		t.Fatalf("expected cors origin override, got %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Render.SampleRate != 44100 || cfg.Render.BitDepth != 24 {
		t.Fatalf("expected render overrides, got %+v", cfg.Render)
	}
	if cfg.Render.Amplitude != 0.5 || cfg.Render.MaxDurationSeconds != 60 {
		t.Fatalf("expected render float overrides, got %+v", cfg.Render)
	}
	if cfg.RenderStore.Path != "./tmp.db" {
		t.Fatalf("expected render store path override")
	}
	if cfg.RenderStore.RetentionMode != "persistent" {
		t.Fatalf("expected render store retention mode override")
	}
	if cfg.RenderStore.RetentionDays != 7 {
		t.Fatalf("expected render store retention days override")
	}
	if cfg.RenderStore.MaxRenders != 123 {
		t.Fatalf("expected render store max renders override")
	}
	if !cfg.RenderStore.VacuumOnStart {
		t.Fatalf("expected render store vacuum flag override")
	}
	if !cfg.Playback.Enabled || cfg.Playback.Mode != "exec" {
		t.Fatalf("expected playback overrides, got %+v", cfg.Playback)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"LOQA_TONE_RENDER_BIT_DEPTH":            "8",
		"LOQA_TONE_RENDER_AMPLITUDE":            "1.5",
		"LOQA_TONE_RENDER_STORE_RETENTION_MODE": "forever",
		"LOQA_TONE_PLAYBACK_MODE":               "speaker",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("LOQA_TONE_PLAYBACK_ENABLED", "true")
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestExecPlaybackNeedsCommand(t *testing.T) {
	t.Setenv("LOQA_TONE_PLAYBACK_ENABLED", "true")
	t.Setenv("LOQA_TONE_PLAYBACK_MODE", "exec")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "playback.command") {
		t.Fatalf("expected playback.command error, got %v", err)
	}
}

func TestLoadFileWithPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.yaml")
	data := `
runtime_name: bench
render:
  sample_rate: 96000
  bit_depth: 32
presets:
  - name: hum
    description: mains hum check
    request:
      mode: single
      waveform: sine
      frequency_hz: 50
      amplitude: 0.8
      duration_seconds: 5
      sample_rate: 48000
      channels: 2
      bit_depth: 24
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "bench" || cfg.Render.SampleRate != 96000 || cfg.Render.BitDepth != 32 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Render.Channels != 1 {
		t.Fatalf("expected default channels to survive partial render section, got %d", cfg.Render.Channels)
	}
	if len(cfg.Presets) != 1 {
		t.Fatalf("expected 1 preset, got %d", len(cfg.Presets))
	}
	p := cfg.Presets[0]
	if p.Request.Mode != synth.ModeSingle || p.Request.FrequencyHz != 50 || p.Request.Channels != 2 {
		t.Fatalf("unexpected preset request: %+v", p.Request)
	}
}

func TestInvalidPresetRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.yaml")
	data := `
presets:
  - name: broken
    request:
      mode: single
      waveform: sine
      amplitude: 0.8
      duration_seconds: 5
      sample_rate: 48000
      channels: 1
      bit_depth: 16
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected preset without frequency to be rejected")
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
