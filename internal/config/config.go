package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call relay service.
type Config struct {
	BindAddr              string
	PublicHost            string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string

	AllowAnyOrigin bool

	OpenAIAPIKey      string
	RealtimeBaseURL   string
	RealtimeModel     string
	Voice             string
	Instructions      string
	Temperature       float64
	SessionSettleWait time.Duration

	GreetingEnabled bool
	GreetingText    string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBaseURL string
}

const defaultInstructions = "You are a helpful and bubbly AI assistant who loves to chat. " +
	"Keep answers short enough to feel natural on a phone call."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":5050"),
		PublicHost:       trimmedEnv("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "callbridge"),
		AllowAnyOrigin:   false,
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		RealtimeBaseURL:  envOrDefault("OPENAI_REALTIME_BASE_URL", "wss://api.openai.com"),
		RealtimeModel:    envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:            envOrDefault("OPENAI_REALTIME_VOICE", "alloy"),
		Instructions:     envOrDefault("OPENAI_REALTIME_INSTRUCTIONS", defaultInstructions),
		Temperature:      0.8,
		GreetingEnabled:  true,
		GreetingText: envOrDefault("APP_GREETING_TEXT",
			"Greet the caller warmly and ask how you can help them today."),
		TwilioAccountSID:      trimmedEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       trimmedEnv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:      trimmedEnv("TWILIO_FROM_NUMBER"),
		TwilioAPIBaseURL:      envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 5 * time.Minute,
		SessionSettleWait:     250 * time.Millisecond,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSettleWait, err = durationFromEnv("APP_SESSION_SETTLE_WAIT", cfg.SessionSettleWait)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("OPENAI_REALTIME_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.GreetingEnabled, err = boolFromEnv("APP_GREETING_ENABLED", cfg.GreetingEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Temperature < 0.6 || cfg.Temperature > 1.2 {
		return Config{}, fmt.Errorf("OPENAI_REALTIME_TEMPERATURE must be between 0.6 and 1.2")
	}
	if cfg.CallInactivityTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if cfg.SessionSettleWait < 0 || cfg.SessionSettleWait > 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_SETTLE_WAIT must be between 0 and 5s")
	}
	if cfg.GreetingEnabled && strings.TrimSpace(cfg.GreetingText) == "" {
		return Config{}, fmt.Errorf("APP_GREETING_TEXT must not be empty when greeting is enabled")
	}

	return cfg, nil
}

// OutboundCallsConfigured reports whether the Twilio REST credentials needed
// for outbound call creation are present. Inbound relaying works without them.
func (c Config) OutboundCallsConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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
