package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestMarshalEffectiveRedactsSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Vault.Token = "super-secret"
	cfg.Vault.TLS.KeyFile = "key-bytes"
	cfg.Telemetry.OTLP.Headers = map[string]string{"Authorization": "Bearer abc"}

	out, err := cfg.MarshalEffective("json")
	if err != nil {
		t.Fatalf("MarshalEffective json: %v", err)
	}
	payload := string(out)
	normalized := strings.NewReplacer("\\u003c", "<", "\\u003e", ">").Replace(payload)
	for _, leak := range []string{"super-secret", "key-bytes", "Bearer abc"} {
		if strings.Contains(normalized, fmt.Sprintf("\"%s\"", leak)) {
			t.Fatalf("expected %q to be redacted in %s", leak, payload)
		}
	}
	if !strings.Contains(normalized, redactedPlaceholder) {
		t.Fatalf("expected placeholder to appear: %s", payload)
	}
	if !strings.Contains(normalized, "<redacted:1 headers>") {
		t.Fatalf("expected header summary placeholder: %s", payload)
	}

	if _, err := cfg.MarshalEffective("yaml"); err != nil {
		t.Fatalf("MarshalEffective yaml: %v", err)
	}

	if _, err := cfg.MarshalEffective("invalid"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestMarshalEffectiveNilConfig(t *testing.T) {
	var cfg *Config
	if _, err := cfg.MarshalEffective("json"); err == nil {
		t.Fatal("expected error for nil config")
	}
}
