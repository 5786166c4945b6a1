// Package config loads engine configuration from environment variables with
// an optional YAML overlay file (CONFIG_FILE).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration holds all engine settings.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Session       SessionConfig       `yaml:"session"`
	Capture       CaptureConfig       `yaml:"capture"`
	Recognizer    RecognizerConfig    `yaml:"recognizer"`
	Levels        LevelsConfig        `yaml:"levels"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the process and its listen address.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPPort string `yaml:"httpPort"`
}

// SessionConfig controls session lifecycle behavior.
type SessionConfig struct {
	TimeLimit    time.Duration `yaml:"timeLimit"`
	TickInterval time.Duration `yaml:"tickInterval"`
	DrainTimeout time.Duration `yaml:"drainTimeout"`
}

// CaptureConfig describes the audio source.
type CaptureConfig struct {
	Device        string        `yaml:"device"` // "sim" or a WAV file path
	SampleRateHz  int           `yaml:"sampleRateHz"`
	FrameInterval time.Duration `yaml:"frameInterval"`
}

// RecognizerConfig selects and tunes the recognition adapter.
type RecognizerConfig struct {
	Provider         string        `yaml:"provider"` // "google" or "mock"
	LanguageCode     string        `yaml:"languageCode"`
	InterimResults   bool          `yaml:"interimResults"`
	MaxSpeakers      int           `yaml:"maxSpeakers"`
	MockFallback     bool          `yaml:"mockFallback"`
	ReconnectMax     int           `yaml:"reconnectMax"`
	ReconnectBackoff time.Duration `yaml:"reconnectBackoff"`
	CredentialRegion string        `yaml:"credentialRegion"`
	CredentialExpiry time.Duration `yaml:"credentialExpiry"`
}

// LevelsConfig holds audio level classification thresholds.
type LevelsConfig struct {
	TooLow          float64       `yaml:"tooLow"`
	TooHigh         float64       `yaml:"tooHigh"`
	Window          time.Duration `yaml:"window"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// HistoryConfig configures the finalized-session publisher.
type HistoryConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicFinalized string   `yaml:"topicFinalized"`
	Principal      string   `yaml:"principal"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsPort string `yaml:"metricsPort"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Load builds the configuration from defaults, the optional CONFIG_FILE YAML
// overlay, then environment variables (highest precedence).
func Load() (*Configuration, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Name:     "live-caption-engine",
			HTTPPort: "8080",
		},
		Session: SessionConfig{
			TimeLimit:    time.Hour,
			TickInterval: time.Second,
			DrainTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			Device:        "sim",
			SampleRateHz:  16000,
			FrameInterval: 100 * time.Millisecond,
		},
		Recognizer: RecognizerConfig{
			Provider:         "mock",
			LanguageCode:     "en-US",
			InterimResults:   true,
			MaxSpeakers:      6,
			MockFallback:     true,
			ReconnectMax:     5,
			ReconnectBackoff: time.Second,
			CredentialRegion: "westeurope",
			CredentialExpiry: 10 * time.Minute,
		},
		Levels: LevelsConfig{
			TooLow:          0.05,
			TooHigh:         0.85,
			Window:          time.Second,
			RefreshInterval: 200 * time.Millisecond,
		},
		History: HistoryConfig{
			Enabled:        false,
			TopicFinalized: "caption.session.finalized",
			Principal:      "svc-live-caption",
		},
		Observability: ObservabilityConfig{
			MetricsPort: "9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

func loadFile(cfg *Configuration, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Configuration) {
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.HTTPPort, "HTTP_PORT")

	setDuration(&cfg.Session.TimeLimit, "SESSION_TIME_LIMIT")
	setDuration(&cfg.Session.TickInterval, "SESSION_TICK_INTERVAL")
	setDuration(&cfg.Session.DrainTimeout, "SESSION_DRAIN_TIMEOUT")

	setString(&cfg.Capture.Device, "CAPTURE_DEVICE")
	setInt(&cfg.Capture.SampleRateHz, "CAPTURE_SAMPLE_RATE_HZ")
	setDuration(&cfg.Capture.FrameInterval, "CAPTURE_FRAME_INTERVAL")

	setString(&cfg.Recognizer.Provider, "RECOGNIZER_PROVIDER")
	setString(&cfg.Recognizer.LanguageCode, "RECOGNIZER_LANGUAGE_CODE")
	setBool(&cfg.Recognizer.InterimResults, "RECOGNIZER_INTERIM_RESULTS")
	setInt(&cfg.Recognizer.MaxSpeakers, "RECOGNIZER_MAX_SPEAKERS")
	setBool(&cfg.Recognizer.MockFallback, "RECOGNIZER_MOCK_FALLBACK")
	setInt(&cfg.Recognizer.ReconnectMax, "RECOGNIZER_RECONNECT_MAX")
	setDuration(&cfg.Recognizer.ReconnectBackoff, "RECOGNIZER_RECONNECT_BACKOFF")
	setString(&cfg.Recognizer.CredentialRegion, "SPEECH_REGION")
	setDuration(&cfg.Recognizer.CredentialExpiry, "SPEECH_CREDENTIAL_EXPIRY")

	setFloat(&cfg.Levels.TooLow, "LEVEL_TOO_LOW")
	setFloat(&cfg.Levels.TooHigh, "LEVEL_TOO_HIGH")
	setDuration(&cfg.Levels.Window, "LEVEL_WINDOW")
	setDuration(&cfg.Levels.RefreshInterval, "LEVEL_REFRESH_INTERVAL")

	setBool(&cfg.History.Enabled, "HISTORY_KAFKA_ENABLED")
	setStrings(&cfg.History.Brokers, "HISTORY_KAFKA_BROKERS")
	setString(&cfg.History.TopicFinalized, "HISTORY_TOPIC_FINALIZED")
	setString(&cfg.History.Principal, "HISTORY_PRINCIPAL")

	setString(&cfg.Observability.MetricsPort, "METRICS_PORT")
	setString(&cfg.Observability.LogLevel, "LOG_LEVEL")
	setString(&cfg.Observability.LogFormat, "LOG_FORMAT")
}

func (c *Configuration) validate() error {
	if c.Session.TimeLimit <= 0 {
		return fmt.Errorf("session time limit must be positive, got %v", c.Session.TimeLimit)
	}
	if c.Session.TickInterval <= 0 {
		return fmt.Errorf("session tick interval must be positive, got %v", c.Session.TickInterval)
	}
	if c.Levels.TooLow < 0 || c.Levels.TooHigh > 1 || c.Levels.TooLow >= c.Levels.TooHigh {
		return fmt.Errorf("level thresholds must satisfy 0 <= tooLow < tooHigh <= 1, got [%v, %v]",
			c.Levels.TooLow, c.Levels.TooHigh)
	}
	switch c.Recognizer.Provider {
	case "google", "mock":
	default:
		return fmt.Errorf("unknown recognizer provider %q", c.Recognizer.Provider)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitCommas(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitCommas(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
