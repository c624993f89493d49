package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Audio       AudioConfig      `yaml:"audio"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Confidence  ConfidenceConfig `yaml:"confidence"`
	Streams     StreamsConfig    `yaml:"streams"`
	ScoreStore  ScoreStoreConfig `yaml:"score_store"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// AudioConfig fixes the wire format for the whole process. Streams are
// mono 16-bit PCM; sample_rate * frame_ms must yield a whole sample count.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMS    int `yaml:"frame_ms"`
	Channels   int `yaml:"channels"`
}

type PipelineConfig struct {
	NoiseReduction    bool           `yaml:"noise_reduction"`
	GainNormalization bool           `yaml:"gain_normalization"`
	AGC               AGCConfig      `yaml:"agc"`
	Enhancer          EnhancerConfig `yaml:"enhancer"`
	PitchAdjust       PitchConfig    `yaml:"pitch_adjust"`
}

type AGCConfig struct {
	TargetRMS float64 `yaml:"target_rms"`
	MinGain   float64 `yaml:"min_gain"`
	MaxGain   float64 `yaml:"max_gain"`
	Smoothing float64 `yaml:"smoothing"`
}

type EnhancerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PitchConfig struct {
	Enabled     bool    `yaml:"enabled"`
	EnergyBoost float64 `yaml:"energy_boost"`
	MaxShift    float64 `yaml:"max_shift"`
}

type ConfidenceConfig struct {
	Phase            int     `yaml:"phase"`
	WindowSeconds    float64 `yaml:"window_seconds"`
	UpdateIntervalMS int     `yaml:"update_interval_ms"`
	SmoothingAlpha   float64 `yaml:"smoothing_alpha"`
}

type StreamsConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	IdleTimeoutSec int `yaml:"idle_timeout_s"`
	QueueDepth     int `yaml:"queue_depth"`
}

type ScoreStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxStreams    int    `yaml:"max_streams"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "reson-runtime",
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
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "reson-node-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameMS:    20,
			Channels:   1,
		},
		Pipeline: PipelineConfig{
			NoiseReduction:    true,
			GainNormalization: true,
			AGC: AGCConfig{
				TargetRMS: 6000,
				MinGain:   0.1,
				MaxGain:   4.0,
				Smoothing: 0.85,
			},
			Enhancer: EnhancerConfig{
				Enabled:   false,
				Mode:      "mock",
				TimeoutMS: 50,
			},
			PitchAdjust: PitchConfig{
				Enabled:     false,
				EnergyBoost: 1.05,
				MaxShift:    0.03,
			},
		},
		Confidence: ConfidenceConfig{
			Phase:            3,
			WindowSeconds:    0.5,
			UpdateIntervalMS: 100,
			SmoothingAlpha:   0.7,
		},
		Streams: StreamsConfig{
			MaxConcurrent:  10,
			IdleTimeoutSec: 30,
			QueueDepth:     64,
		},
		ScoreStore: ScoreStoreConfig{
			Path:          "./data/reson-scores.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxStreams:    10000,
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

// FrameSamples is the fixed per-frame sample count implied by the audio
// format (320 at the 16 kHz / 20 ms defaults).
func (c AudioConfig) FrameSamples() int {
	return c.SampleRate * c.FrameMS / 1000
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "RESON_RUNTIME_NAME")
	overrideString(&cfg.Environment, "RESON_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "RESON_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "RESON_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "RESON_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RESON_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RESON_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "RESON_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "RESON_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "RESON_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "RESON_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "RESON_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RESON_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RESON_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RESON_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RESON_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RESON_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "RESON_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "RESON_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "RESON_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "RESON_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameMS, "RESON_AUDIO_FRAME_MS")
	overrideInt(&cfg.Audio.Channels, "RESON_AUDIO_CHANNELS")
	overrideBool(&cfg.Pipeline.NoiseReduction, "RESON_PIPELINE_NOISE_REDUCTION")
	overrideBool(&cfg.Pipeline.GainNormalization, "RESON_PIPELINE_GAIN_NORMALIZATION")
	overrideFloat(&cfg.Pipeline.AGC.TargetRMS, "RESON_PIPELINE_AGC_TARGET_RMS")
	overrideFloat(&cfg.Pipeline.AGC.MinGain, "RESON_PIPELINE_AGC_MIN_GAIN")
	overrideFloat(&cfg.Pipeline.AGC.MaxGain, "RESON_PIPELINE_AGC_MAX_GAIN")
	overrideFloat(&cfg.Pipeline.AGC.Smoothing, "RESON_PIPELINE_AGC_SMOOTHING")
	overrideBool(&cfg.Pipeline.Enhancer.Enabled, "RESON_PIPELINE_ENHANCER_ENABLED")
	overrideString(&cfg.Pipeline.Enhancer.Mode, "RESON_PIPELINE_ENHANCER_MODE")
	overrideString(&cfg.Pipeline.Enhancer.Command, "RESON_PIPELINE_ENHANCER_COMMAND")
	overrideString(&cfg.Pipeline.Enhancer.ModelPath, "RESON_PIPELINE_ENHANCER_MODEL_PATH")
	overrideInt(&cfg.Pipeline.Enhancer.TimeoutMS, "RESON_PIPELINE_ENHANCER_TIMEOUT_MS")
	overrideBool(&cfg.Pipeline.PitchAdjust.Enabled, "RESON_PIPELINE_PITCH_ADJUST_ENABLED")
	overrideFloat(&cfg.Pipeline.PitchAdjust.EnergyBoost, "RESON_PIPELINE_PITCH_ADJUST_ENERGY_BOOST")
	overrideFloat(&cfg.Pipeline.PitchAdjust.MaxShift, "RESON_PIPELINE_PITCH_ADJUST_MAX_SHIFT")
	overrideInt(&cfg.Confidence.Phase, "RESON_CONFIDENCE_PHASE")
	overrideFloat(&cfg.Confidence.WindowSeconds, "RESON_CONFIDENCE_WINDOW_SECONDS")
	overrideInt(&cfg.Confidence.UpdateIntervalMS, "RESON_CONFIDENCE_UPDATE_INTERVAL_MS")
	overrideFloat(&cfg.Confidence.SmoothingAlpha, "RESON_CONFIDENCE_SMOOTHING_ALPHA")
	overrideInt(&cfg.Streams.MaxConcurrent, "RESON_STREAMS_MAX_CONCURRENT")
	overrideInt(&cfg.Streams.IdleTimeoutSec, "RESON_STREAMS_IDLE_TIMEOUT_S")
	overrideInt(&cfg.Streams.QueueDepth, "RESON_STREAMS_QUEUE_DEPTH")
	overrideString(&cfg.ScoreStore.Path, "RESON_SCORE_STORE_PATH")
	overrideString(&cfg.ScoreStore.RetentionMode, "RESON_SCORE_STORE_RETENTION_MODE")
	overrideInt(&cfg.ScoreStore.RetentionDays, "RESON_SCORE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.ScoreStore.MaxStreams, "RESON_SCORE_STORE_MAX_STREAMS")
	overrideBool(&cfg.ScoreStore.VacuumOnStart, "RESON_SCORE_STORE_VACUUM_ON_START")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameMS <= 0 {
		return errors.New("audio.frame_ms must be positive")
	}
	if cfg.Audio.SampleRate*cfg.Audio.FrameMS%1000 != 0 {
		return errors.New("audio.sample_rate and audio.frame_ms must yield a whole number of samples per frame")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Pipeline.GainNormalization {
		agc := cfg.Pipeline.AGC
		if agc.TargetRMS <= 0 {
			return errors.New("pipeline.agc.target_rms must be positive")
		}
		if agc.MinGain <= 0 || agc.MaxGain < agc.MinGain {
			return errors.New("pipeline.agc gain bounds must satisfy 0 < min_gain <= max_gain")
		}
		if agc.Smoothing < 0 || agc.Smoothing >= 1 {
			return errors.New("pipeline.agc.smoothing must be in [0, 1)")
		}
	}
	if cfg.Pipeline.Enhancer.Enabled {
		switch cfg.Pipeline.Enhancer.Mode {
		case "mock", "exec":
		default:
			return errors.New("pipeline.enhancer.mode must be one of mock|exec")
		}
		if cfg.Pipeline.Enhancer.Mode == "exec" && cfg.Pipeline.Enhancer.Command == "" {
			return errors.New("pipeline.enhancer.command must be set when mode=exec")
		}
		if cfg.Pipeline.Enhancer.TimeoutMS <= 0 {
			return errors.New("pipeline.enhancer.timeout_ms must be positive")
		}
	}
	if cfg.Pipeline.PitchAdjust.Enabled {
		if cfg.Pipeline.PitchAdjust.EnergyBoost <= 0 {
			return errors.New("pipeline.pitch_adjust.energy_boost must be positive")
		}
		if cfg.Pipeline.PitchAdjust.MaxShift < 0 || cfg.Pipeline.PitchAdjust.MaxShift > 0.1 {
			return errors.New("pipeline.pitch_adjust.max_shift must be in [0, 0.1]")
		}
	}
	switch cfg.Confidence.Phase {
	case 1, 2, 3:
	default:
		return errors.New("confidence.phase must be 1, 2 or 3")
	}
	if cfg.Confidence.WindowSeconds <= 0 {
		return errors.New("confidence.window_seconds must be positive")
	}
	if cfg.Confidence.UpdateIntervalMS <= 0 {
		return errors.New("confidence.update_interval_ms must be positive")
	}
	if cfg.Confidence.SmoothingAlpha < 0 || cfg.Confidence.SmoothingAlpha > 1 {
		return errors.New("confidence.smoothing_alpha must be in [0, 1]")
	}
	if cfg.Streams.MaxConcurrent <= 0 {
		return errors.New("streams.max_concurrent must be >= 1")
	}
	if cfg.Streams.IdleTimeoutSec <= 0 {
		return errors.New("streams.idle_timeout_s must be positive")
	}
	if cfg.Streams.QueueDepth <= 0 {
		return errors.New("streams.queue_depth must be >= 1")
	}
	if cfg.ScoreStore.Path == "" {
		return errors.New("score_store.path must not be empty")
	}
	switch cfg.ScoreStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("score_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.ScoreStore.RetentionDays < 0 {
		return errors.New("score_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
