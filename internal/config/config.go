// Package config resolves session-layer settings from process environment.
// Credentials may be supplied indirectly through "env://NAME" secret refs so
// deployment manifests never carry the raw value.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const envSecretRefPrefix = "env://"

// Config is the resolved session-layer configuration.
type Config struct {
	SignalingURL  string
	ICEEndpoint   string
	TURNAPIKey    string
	PollyRegion   string
	PollyVoice    string
	SpeechTimeout time.Duration
	LogLevel      string
}

// FromEnv resolves configuration from DMS_* environment variables.
func FromEnv() Config {
	return Config{
		SignalingURL:  strings.TrimSpace(os.Getenv("DMS_SIGNALING_URL")),
		ICEEndpoint:   strings.TrimSpace(os.Getenv("DMS_ICE_ENDPOINT")),
		TURNAPIKey:    ResolveEnvValue("DMS_TURN_API_KEY", "DMS_TURN_API_KEY_REF", ""),
		PollyRegion:   defaultString(os.Getenv("DMS_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		PollyVoice:    defaultString(os.Getenv("DMS_POLLY_VOICE"), "Joanna"),
		SpeechTimeout: 15 * time.Second,
		LogLevel:      defaultString(os.Getenv("DMS_LOG_LEVEL"), "info"),
	}
}

// Validate enforces the settings a live session cannot run without.
func (c Config) Validate() error {
	if c.SignalingURL == "" {
		return fmt.Errorf("signaling url is required")
	}
	u, err := url.Parse(c.SignalingURL)
	if err != nil {
		return fmt.Errorf("invalid signaling url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signaling url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.ICEEndpoint != "" {
		iu, err := url.Parse(c.ICEEndpoint)
		if err != nil {
			return fmt.Errorf("invalid ice endpoint: %w", err)
		}
		if iu.Scheme != "http" && iu.Scheme != "https" {
			return fmt.Errorf("ice endpoint scheme must be http or https, got %q", iu.Scheme)
		}
	}
	return nil
}

// ResolveSecretRef resolves a secret reference using process environment
// lookup. Supported forms are "env://VARIABLE_NAME" and "VARIABLE_NAME".
func ResolveSecretRef(ref string) (string, error) {
	return ResolveSecretRefWithLookup(ref, os.LookupEnv)
}

// ResolveSecretRefWithLookup resolves a secret reference using the supplied
// lookup function.
func ResolveSecretRefWithLookup(ref string, lookup func(string) (string, bool)) (string, error) {
	name, err := parseSecretRefName(ref)
	if err != nil {
		return "", err
	}
	if lookup == nil {
		return "", fmt.Errorf("secret lookup function is required")
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secret_ref %q resolved empty value", name)
	}
	return value, nil
}

// ResolveEnvValue resolves a config value using literal and secret-ref env
// variables. The secret ref wins when it resolves; the literal (or fallback)
// applies otherwise.
func ResolveEnvValue(literalEnvVar string, secretRefEnvVar string, fallback string) string {
	literal := strings.TrimSpace(os.Getenv(literalEnvVar))
	if literal == "" {
		literal = fallback
	}
	secretRef := strings.TrimSpace(os.Getenv(secretRefEnvVar))
	if secretRef == "" {
		return literal
	}
	value, err := ResolveSecretRef(secretRef)
	if err != nil {
		return literal
	}
	return value
}

// RedactSecret returns a deterministic redacted marker for non-empty secret
// material so logs never carry credentials.
func RedactSecret(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return "***redacted***"
}

func parseSecretRefName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", fmt.Errorf("secret_ref is required")
	}
	if strings.HasPrefix(trimmed, envSecretRefPrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, envSecretRefPrefix))
		if name == "" {
			return "", fmt.Errorf("secret_ref %q is missing env var name", ref)
		}
		if strings.Contains(name, "/") {
			return "", fmt.Errorf("secret_ref %q contains unsupported path separator", ref)
		}
		return name, nil
	}
	if strings.Contains(trimmed, "://") {
		return "", fmt.Errorf("secret_ref %q uses unsupported scheme", ref)
	}
	if strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("secret_ref %q contains unsupported path separator", ref)
	}
	return trimmed, nil
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
