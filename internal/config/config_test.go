package config

import (
	"testing"
	"time"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("DMS_SIGNALING_URL", "wss://backend.test/ws")
	t.Setenv("DMS_ICE_ENDPOINT", "https://backend.test/ice-servers")
	t.Setenv("DMS_TURN_API_KEY", "")
	t.Setenv("DMS_TURN_API_KEY_REF", "env://TURN_KEY")
	t.Setenv("TURN_KEY", "turn-secret")
	t.Setenv("DMS_POLLY_REGION", "eu-west-1")
	t.Setenv("DMS_LOG_LEVEL", "")

	cfg := FromEnv()
	if cfg.SignalingURL != "wss://backend.test/ws" {
		t.Fatalf("unexpected signaling url: %q", cfg.SignalingURL)
	}
	if cfg.TURNAPIKey != "turn-secret" {
		t.Fatalf("expected secret ref resolved, got %q", cfg.TURNAPIKey)
	}
	if cfg.PollyRegion != "eu-west-1" {
		t.Fatalf("unexpected polly region: %q", cfg.PollyRegion)
	}
	if cfg.PollyVoice != "Joanna" {
		t.Fatalf("expected default voice, got %q", cfg.PollyVoice)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.SpeechTimeout != 15*time.Second {
		t.Fatalf("unexpected speech timeout: %s", cfg.SpeechTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid ws", cfg: Config{SignalingURL: "ws://h/ws"}},
		{name: "valid with ice", cfg: Config{SignalingURL: "wss://h/ws", ICEEndpoint: "https://h/ice"}},
		{name: "missing url", cfg: Config{}, wantErr: true},
		{name: "wrong scheme", cfg: Config{SignalingURL: "http://h/ws"}, wantErr: true},
		{name: "bad ice scheme", cfg: Config{SignalingURL: "ws://h/ws", ICEEndpoint: "ftp://h"}, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestResolveSecretRefWithLookup(t *testing.T) {
	t.Parallel()

	lookup := func(name string) (string, bool) {
		if name == "PRESENT" {
			return "value", true
		}
		return "", false
	}

	if got, err := ResolveSecretRefWithLookup("env://PRESENT", lookup); err != nil || got != "value" {
		t.Fatalf("expected resolved secret, got %q err %v", got, err)
	}
	if _, err := ResolveSecretRefWithLookup("env://MISSING", lookup); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	if _, err := ResolveSecretRefWithLookup("vault://X", lookup); err == nil {
		t.Fatalf("expected unsupported scheme to fail")
	}
	if _, err := ResolveSecretRefWithLookup("env://", lookup); err == nil {
		t.Fatalf("expected empty name to fail")
	}
}

func TestRedactSecret(t *testing.T) {
	t.Parallel()

	if got := RedactSecret(""); got != "" {
		t.Fatalf("expected empty redaction, got %q", got)
	}
	got := RedactSecret("super-secret-key")
	if got == "super-secret-key" {
		t.Fatalf("expected secret redacted")
	}
}
