package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	VoiceProviderAuto = "auto"
	VoiceProviderLive = "live"
	VoiceProviderMock = "mock"
)

// Config contains all runtime settings for the coaching voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	ReportTimeout    time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         slog.Level

	VoiceProvider string

	AssemblyAIAPIKey     string
	AssemblyAIWSURL      string
	AssemblyAISampleRate int

	GeminiAPIKey      string
	GeminiModel       string
	GeminiReportModel string

	MurfAPIKey     string
	MurfWSURL      string
	MurfSampleRate int
	MurfFormat     string

	DefaultVoiceID    string
	DefaultVoiceStyle string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ""),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "voicecoach"),
		VoiceProvider:        strings.ToLower(envOrDefault("VOICE_PROVIDER", VoiceProviderAuto)),
		AssemblyAIAPIKey:     stringsTrimSpace("ASSEMBLYAI_API_KEY"),
		AssemblyAIWSURL:      envOrDefault("ASSEMBLYAI_WS_URL", "wss://streaming.assemblyai.com/v3/ws"),
		AssemblyAISampleRate: 16000,
		GeminiAPIKey:         stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		MurfAPIKey:           stringsTrimSpace("MURF_API_KEY"),
		MurfWSURL:            envOrDefault("MURF_WS_URL", "wss://api.murf.ai/v1/speech/stream-input"),
		MurfSampleRate:       44100,
		MurfFormat:           envOrDefault("MURF_FORMAT", "MP3"),
		DefaultVoiceID:       envOrDefault("DEFAULT_VOICE_ID", "en-US-amara"),
		DefaultVoiceStyle:    envOrDefault("DEFAULT_VOICE_STYLE", "Conversational"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		ReportTimeout:        60 * time.Second,
		LogLevel:             slog.LevelInfo,
	}
	if cfg.BindAddr == "" {
		// Hosting platforms commonly inject PORT only.
		if port := stringsTrimSpace("PORT"); port != "" {
			cfg.BindAddr = ":" + port
		} else {
			cfg.BindAddr = ":8080"
		}
	}
	cfg.GeminiReportModel = envOrDefault("GEMINI_REPORT_MODEL", cfg.GeminiModel)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportTimeout, err = durationFromEnv("APP_REPORT_TIMEOUT", cfg.ReportTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AssemblyAISampleRate, err = intFromEnv("ASSEMBLYAI_SAMPLE_RATE", cfg.AssemblyAISampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.MurfSampleRate, err = intFromEnv("MURF_SAMPLE_RATE", cfg.MurfSampleRate)
	if err != nil {
		return Config{}, err
	}
	if v := stringsTrimSpace("APP_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("APP_LOG_LEVEL parse error: %w", err)
		}
	}

	switch cfg.VoiceProvider {
	case VoiceProviderAuto, VoiceProviderLive, VoiceProviderMock:
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be one of auto, live, mock")
	}
	if cfg.VoiceProvider == VoiceProviderLive && !cfg.HasLiveCredentials() {
		return Config{}, fmt.Errorf("VOICE_PROVIDER=live requires ASSEMBLYAI_API_KEY, GEMINI_API_KEY and MURF_API_KEY")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.ReportTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_REPORT_TIMEOUT must be at least 1s")
	}
	if cfg.AssemblyAISampleRate <= 0 {
		return Config{}, fmt.Errorf("ASSEMBLYAI_SAMPLE_RATE must be positive")
	}
	if cfg.MurfSampleRate <= 0 {
		return Config{}, fmt.Errorf("MURF_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

// HasLiveCredentials reports whether every external voice service has a key.
func (c Config) HasLiveCredentials() bool {
	return c.AssemblyAIAPIKey != "" && c.GeminiAPIKey != "" && c.MurfAPIKey != ""
}

// UseLiveProviders resolves VOICE_PROVIDER against the configured keys.
func (c Config) UseLiveProviders() bool {
	switch c.VoiceProvider {
	case VoiceProviderLive:
		return true
	case VoiceProviderMock:
		return false
	default:
		return c.HasLiveCredentials()
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
