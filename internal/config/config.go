package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/loqalabs/loqa-tone/internal/synth"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind        string   `yaml:"bind"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Render      RenderConfig      `yaml:"render"`
	RenderStore RenderStoreConfig `yaml:"render_store"`
	Tone        ToneConfig        `yaml:"tone"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Presets     []synth.Preset    `yaml:"presets"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// RenderConfig holds the defaults filled into partial requests and the
// limits every request must respect.
type RenderConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	BitDepth           int     `yaml:"bit_depth"`
	Amplitude          float64 `yaml:"amplitude"`
	DurationSeconds    float64 `yaml:"duration_seconds"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
	MaxChannels        int     `yaml:"max_channels"`
	OutputDir          string  `yaml:"output_dir"`
	StreamBlockFrames  int     `yaml:"stream_block_frames"`
}

type RenderStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRenders    int    `yaml:"max_renders"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ToneConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SubjectPrefix    string `yaml:"subject_prefix"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	PublishEvents    bool   `yaml:"publish_events"`
}

type PlaybackConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Mode       string  `yaml:"mode"` // oto, exec, null
	Command    string  `yaml:"command"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	BufferMS   int     `yaml:"buffer_ms"`
	MaxSeconds float64 `yaml:"max_seconds"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tone",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Render: RenderConfig{
			SampleRate:         48000,
			Channels:           1,
			BitDepth:           16,
			Amplitude:          0.7,
			DurationSeconds:    10,
			MaxDurationSeconds: 600,
			MaxChannels:        8,
			OutputDir:          "./data/renders",
			StreamBlockFrames:  4096,
		},
		RenderStore: RenderStoreConfig{
			Path:          "./data/loqa-tone.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRenders:    10000,
		},
		Tone: ToneConfig{
			Enabled:          true,
			SubjectPrefix:    "tone",
			RequestTimeoutMS: 30000,
			PublishEvents:    true,
		},
		Playback: PlaybackConfig{
			Enabled:    false,
			Mode:       "oto",
			SampleRate: 48000,
			Channels:   2,
			BufferMS:   100,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_TONE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_TONE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_TONE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_TONE_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_TONE_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TONE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TONE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TONE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TONE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_TONE_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_TONE_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_TONE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_TONE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_TONE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_TONE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_TONE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_TONE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_TONE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_TONE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Render.SampleRate, "LOQA_TONE_RENDER_SAMPLE_RATE")
	overrideInt(&cfg.Render.Channels, "LOQA_TONE_RENDER_CHANNELS")
	overrideInt(&cfg.Render.BitDepth, "LOQA_TONE_RENDER_BIT_DEPTH")
	overrideFloat(&cfg.Render.Amplitude, "LOQA_TONE_RENDER_AMPLITUDE")
	overrideFloat(&cfg.Render.DurationSeconds, "LOQA_TONE_RENDER_DURATION_SECONDS")
	overrideFloat(&cfg.Render.MaxDurationSeconds, "LOQA_TONE_RENDER_MAX_DURATION_SECONDS")
	overrideInt(&cfg.Render.MaxChannels, "LOQA_TONE_RENDER_MAX_CHANNELS")
	overrideString(&cfg.Render.OutputDir, "LOQA_TONE_RENDER_OUTPUT_DIR")
	overrideInt(&cfg.Render.StreamBlockFrames, "LOQA_TONE_RENDER_STREAM_BLOCK_FRAMES")
	overrideString(&cfg.RenderStore.Path, "LOQA_TONE_RENDER_STORE_PATH")
	overrideString(&cfg.RenderStore.RetentionMode, "LOQA_TONE_RENDER_STORE_RETENTION_MODE")
	overrideInt(&cfg.RenderStore.RetentionDays, "LOQA_TONE_RENDER_STORE_RETENTION_DAYS")
	overrideInt(&cfg.RenderStore.MaxRenders, "LOQA_TONE_RENDER_STORE_MAX_RENDERS")
	overrideBool(&cfg.RenderStore.VacuumOnStart, "LOQA_TONE_RENDER_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Tone.Enabled, "LOQA_TONE_SERVICE_ENABLED")
	overrideString(&cfg.Tone.SubjectPrefix, "LOQA_TONE_SERVICE_SUBJECT_PREFIX")
	overrideInt(&cfg.Tone.RequestTimeoutMS, "LOQA_TONE_SERVICE_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Tone.PublishEvents, "LOQA_TONE_SERVICE_PUBLISH_EVENTS")
	overrideBool(&cfg.Playback.Enabled, "LOQA_TONE_PLAYBACK_ENABLED")
	overrideString(&cfg.Playback.Mode, "LOQA_TONE_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "LOQA_TONE_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.SampleRate, "LOQA_TONE_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "LOQA_TONE_PLAYBACK_CHANNELS")
	overrideInt(&cfg.Playback.BufferMS, "LOQA_TONE_PLAYBACK_BUFFER_MS")
	overrideFloat(&cfg.Playback.MaxSeconds, "LOQA_TONE_PLAYBACK_MAX_SECONDS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := validateRender(cfg.Render); err != nil {
		return err
	}
	if cfg.RenderStore.Path == "" {
		return errors.New("render_store.path must not be empty")
	}
	switch cfg.RenderStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("render_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.RenderStore.RetentionDays < 0 {
		return errors.New("render_store.retention_days must be >= 0")
	}
	if cfg.RenderStore.MaxRenders < 0 {
		return errors.New("render_store.max_renders must be >= 0")
	}
	if cfg.Tone.Enabled {
		if strings.TrimSpace(cfg.Tone.SubjectPrefix) == "" {
			return errors.New("tone.subject_prefix must not be empty when the tone service is enabled")
		}
		if cfg.Tone.RequestTimeoutMS <= 0 {
			return errors.New("tone.request_timeout_ms must be positive")
		}
	}
	if cfg.Playback.Enabled {
		switch cfg.Playback.Mode {
		case "oto", "exec", "null":
		default:
			return errors.New("playback.mode must be one of oto|exec|null")
		}
		if cfg.Playback.Mode == "exec" && cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
		if cfg.Playback.SampleRate <= 0 {
			return errors.New("playback.sample_rate must be positive")
		}
		if cfg.Playback.Channels <= 0 {
			return errors.New("playback.channels must be positive")
		}
		if cfg.Playback.MaxSeconds < 0 {
			return errors.New("playback.max_seconds must be >= 0")
		}
	}
	for i, p := range cfg.Presets {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("presets[%d].name must not be empty", i)
		}
		if err := p.Request.Validate(); err != nil {
			return fmt.Errorf("presets[%d] (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

func validateRender(r RenderConfig) error {
	if r.SampleRate <= 0 {
		return errors.New("render.sample_rate must be positive")
	}
	if r.Channels <= 0 {
		return errors.New("render.channels must be positive")
	}
	if err := pcm.Depth(r.BitDepth).Check(); err != nil {
		return fmt.Errorf("render.bit_depth: %w", err)
	}
	if !(r.Amplitude > 0 && r.Amplitude <= 1) {
		return errors.New("render.amplitude must be in (0, 1]")
	}
	if r.DurationSeconds <= 0 {
		return errors.New("render.duration_seconds must be positive")
	}
	if r.MaxDurationSeconds < 0 {
		return errors.New("render.max_duration_seconds must be >= 0")
	}
	if r.MaxChannels < 0 {
		return errors.New("render.max_channels must be >= 0")
	}
	if r.OutputDir == "" {
		return errors.New("render.output_dir must not be empty")
	}
	if r.StreamBlockFrames <= 0 {
		return errors.New("render.stream_block_frames must be positive")
	}
	return nil
}
