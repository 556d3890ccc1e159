package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":5050" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":5050")
	}
	if cfg.Voice != "alloy" {
		t.Fatalf("Voice = %q, want %q", cfg.Voice, "alloy")
	}
	if cfg.Temperature != 0.8 {
		t.Fatalf("Temperature = %v, want 0.8", cfg.Temperature)
	}
	if !cfg.GreetingEnabled {
		t.Fatalf("GreetingEnabled = false, want true by default")
	}
	if cfg.CallInactivityTimeout != 5*time.Minute {
		t.Fatalf("CallInactivityTimeout = %v, want 5m", cfg.CallInactivityTimeout)
	}
	if cfg.OutboundCallsConfigured() {
		t.Fatalf("OutboundCallsConfigured() = true without Twilio credentials")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	setCoreEnvEmpty(t)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() succeeded without OPENAI_API_KEY")
	}
}

func TestLoadRejectsOutOfRangeTemperature(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_REALTIME_TEMPERATURE", "1.7")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted temperature 1.7")
	}
}

func TestLoadOutboundCallsConfigured(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.OutboundCallsConfigured() {
		t.Fatalf("OutboundCallsConfigured() = false with full Twilio credentials")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_PUBLIC_HOST",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CALL_INACTIVITY_TIMEOUT",
		"APP_SESSION_SETTLE_WAIT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_GREETING_ENABLED",
		"APP_GREETING_TEXT",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_BASE_URL",
		"OPENAI_REALTIME_MODEL",
		"OPENAI_REALTIME_VOICE",
		"OPENAI_REALTIME_INSTRUCTIONS",
		"OPENAI_REALTIME_TEMPERATURE",
		"TWILIO_ACCOUNT_SID",
		"TWILIO_AUTH_TOKEN",
		"TWILIO_FROM_NUMBER",
		"TWILIO_API_BASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
