package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultMaxUploadBytes = 32 << 20

type Config struct {
	HTTPAddress    string
	DatabaseURL    string
	SecretKey      string
	SecretKeyBytes []byte
	LogLevel       string
	LogFormat      string
	MaxUploadBytes int64
	StrictCells    bool
	SecureCookies  bool
}

// Load reads CSVSQL_* variables. Values from a .env file in the working
// directory fill in anything the environment does not set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv parses the environment without requiring the values only the web
// server needs.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddress:   getEnv("CSVSQL_HTTP_ADDR", ":8080"),
		LogLevel:      getEnv("CSVSQL_LOG_LEVEL", "info"),
		LogFormat:     getEnv("CSVSQL_LOG_FORMAT", "json"),
		DatabaseURL:   os.Getenv("CSVSQL_DB_DSN"),
		SecretKey:     os.Getenv("CSVSQL_SECRET_KEY"),
		StrictCells:   strings.EqualFold(os.Getenv("CSVSQL_STRICT_CELLS"), "true"),
		SecureCookies: !strings.EqualFold(os.Getenv("CSVSQL_SECURE_COOKIES"), "false"),
	}

	maxBytes, err := strconv.ParseInt(getEnv("CSVSQL_MAX_UPLOAD_BYTES", strconv.Itoa(defaultMaxUploadBytes)), 10, 64)
	if err != nil || maxBytes <= 0 {
		return Config{}, errors.New("CSVSQL_MAX_UPLOAD_BYTES must be a positive integer")
	}
	cfg.MaxUploadBytes = maxBytes

	if cfg.SecretKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(cfg.SecretKey)
		if err != nil {
			return Config{}, errors.New("CSVSQL_SECRET_KEY must be base64")
		}
		cfg.SecretKeyBytes = keyBytes
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if f := strings.ToLower(c.LogFormat); f != "" && f != "json" && f != "text" {
		return errors.New("CSVSQL_LOG_FORMAT must be json or text")
	}
	if c.DatabaseURL == "" {
		return errors.New("CSVSQL_DB_DSN is required")
	}
	if c.SecretKey == "" || len(c.SecretKeyBytes) < 32 {
		return errors.New("CSVSQL_SECRET_KEY is required (base64, >=32 bytes)")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
