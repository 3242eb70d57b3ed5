package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chatbot backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	GenTemperature     float64
	GenTopK            int
	GenTopP            float64
	GenMaxOutputTokens int

	DefaultFaction string
	AllowAnonymous bool
	TokenTTL       time.Duration

	NatsURL   string
	NatsToken string
}

// Load reads environment variables and applies safe defaults. It does not
// check GEMINI_API_KEY; a missing key is rejected by the gateway constructor
// so the process fails fast at startup.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "wowchat"),
		ShutdownTimeout:  15 * time.Second,
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		GeminiAPIKey:     envTrimmed("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:    envTrimmed("GEMINI_BASE_URL"),
		// Sampling parameters are fixed per deployment, tuned for short
		// in-character replies.
		GenTemperature:     0.8,
		GenTopK:            40,
		GenTopP:            0.95,
		GenMaxOutputTokens: 200,
		DefaultFaction:     envOrDefault("APP_DEFAULT_FACTION", "alliance"),
		AllowAnonymous:     true,
		TokenTTL:           24 * time.Hour,
		NatsURL:            envTrimmed("NATS_URL"),
		NatsToken:          envTrimmed("NATS_TOKEN"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("AUTH_TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnonymous, err = boolFromEnv("APP_ALLOW_ANONYMOUS", cfg.AllowAnonymous)
	if err != nil {
		return Config{}, err
	}
	cfg.GenTemperature, err = floatFromEnv("GEN_TEMPERATURE", cfg.GenTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.GenTopK, err = intFromEnv("GEN_TOP_K", cfg.GenTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.GenTopP, err = floatFromEnv("GEN_TOP_P", cfg.GenTopP)
	if err != nil {
		return Config{}, err
	}
	cfg.GenMaxOutputTokens, err = intFromEnv("GEN_MAX_OUTPUT_TOKENS", cfg.GenMaxOutputTokens)
	if err != nil {
		return Config{}, err
	}

	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("AUTH_TOKEN_TTL must be at least 1m")
	}
	if cfg.GenTemperature < 0 || cfg.GenTemperature > 2 {
		return Config{}, fmt.Errorf("GEN_TEMPERATURE must be between 0 and 2")
	}
	if cfg.GenTopK <= 0 {
		return Config{}, fmt.Errorf("GEN_TOP_K must be positive")
	}
	if cfg.GenTopP <= 0 || cfg.GenTopP > 1 {
		return Config{}, fmt.Errorf("GEN_TOP_P must be in (0, 1]")
	}
	if cfg.GenMaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("GEN_MAX_OUTPUT_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
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
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
