package config

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"CSVSQL_HTTP_ADDR", "CSVSQL_LOG_LEVEL", "CSVSQL_DB_DSN", "CSVSQL_SECRET_KEY",
		"CSVSQL_MAX_UPLOAD_BYTES", "CSVSQL_STRICT_CELLS", "CSVSQL_SECURE_COOKIES", "CSVSQL_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddress != ":8080" || cfg.LogLevel != "info" || cfg.LogFormat != "json" || cfg.MaxUploadBytes != 32<<20 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StrictCells || !cfg.SecureCookies {
		t.Fatalf("unexpected flag defaults %+v", cfg)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CSVSQL_DB_DSN") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32)))
	t.Setenv("CSVSQL_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("CSVSQL_DB_DSN", "sqlite:///tmp/csv.db")
	t.Setenv("CSVSQL_SECRET_KEY", key)
	t.Setenv("CSVSQL_MAX_UPLOAD_BYTES", "1024")
	t.Setenv("CSVSQL_STRICT_CELLS", "TRUE")
	t.Setenv("CSVSQL_SECURE_COOKIES", "false")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9000" || cfg.MaxUploadBytes != 1024 || !cfg.StrictCells || cfg.SecureCookies {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.SecretKeyBytes) != 32 {
		t.Fatalf("unexpected key length %d", len(cfg.SecretKeyBytes))
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("CSVSQL_MAX_UPLOAD_BYTES", "lots")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected bad upload size to fail")
	}

	t.Setenv("CSVSQL_MAX_UPLOAD_BYTES", "")
	t.Setenv("CSVSQL_SECRET_KEY", "not base64!")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected bad key to fail")
	}

	t.Setenv("CSVSQL_SECRET_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	t.Setenv("CSVSQL_DB_DSN", "sqlite:///tmp/csv.db")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected short key to fail validation")
	}

	t.Setenv("CSVSQL_SECRET_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32))))
	t.Setenv("CSVSQL_LOG_FORMAT", "xml")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CSVSQL_LOG_FORMAT") {
		t.Fatalf("expected log format error, got %v", err)
	}
}
