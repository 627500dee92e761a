// Package config loads the process configuration once at startup from
// environment variables. No file format is involved: schema documents, not
// config, are the only thing this module reads as structured files, so
// there is no third-party config-parsing dependency to wire in here (see
// DESIGN.md).
package config

import (
	"os"
	"strconv"
	"strings"

	"baasd/internal/apperr"
)

// Config holds every setting the core reads at process start. Fields owned
// exclusively by an out-of-scope collaborator (SERVER_PORT, API_KEY,
// CORS_ORIGINS) are still parsed here because the core is handed a fully
// populated Config, not a raw environment.
type Config struct {
	ServerPort         uint16
	APIKey             string
	MySQLURL           string
	MySQLPoolMin       uint32
	MySQLPoolMax       uint32
	LogLevel           string
	CORSOrigins        []string
	VectorMaxDim       int
	QueryMaxLimit      uint32
	FunctionsSourceDir string
}

// Load reads and validates configuration from the process environment.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:           getEnvDefault("LOG_LEVEL", "info"),
		VectorMaxDim:       4096,
		QueryMaxLimit:      500,
		FunctionsSourceDir: getEnvDefault("FUNCTIONS_SOURCE_DIR", "./root"),
		CORSOrigins:        []string{"*"},
	}

	port, err := parseUint16Default("SERVER_PORT", 8000)
	if err != nil {
		return Config{}, err
	}
	cfg.ServerPort = port

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		return Config{}, apperr.Config("API_KEY is required")
	}

	cfg.MySQLURL = os.Getenv("MYSQL_URL")
	if cfg.MySQLURL == "" {
		return Config{}, apperr.Config("MYSQL_URL is required")
	}

	poolMin, err := parseUint32Default("MYSQL_POOL_MIN", 1)
	if err != nil {
		return Config{}, err
	}
	poolMax, err := parseUint32Default("MYSQL_POOL_MAX", 10)
	if err != nil {
		return Config{}, err
	}
	if poolMin > poolMax {
		return Config{}, apperr.Config("MYSQL_POOL_MIN (%d) must not exceed MYSQL_POOL_MAX (%d)", poolMin, poolMax)
	}
	cfg.MySQLPoolMin = poolMin
	cfg.MySQLPoolMax = poolMax

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		cfg.CORSOrigins = splitAndTrim(raw)
	}

	if dim, err := parseIntDefault("VECTOR_MAX_DIM", cfg.VectorMaxDim); err != nil {
		return Config{}, err
	} else {
		cfg.VectorMaxDim = dim
	}

	if limit, err := parseUint32Default("QUERY_MAX_LIMIT", cfg.QueryMaxLimit); err != nil {
		return Config{}, err
	} else {
		cfg.QueryMaxLimit = limit
	}

	if raw := os.Getenv("FUNCTIONS_SOURCE_DIR"); raw != "" {
		cfg.FunctionsSourceDir = raw
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseUint16Default(key string, def uint16) (uint16, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, apperr.Config("%s must be a valid port number: %v", key, err)
	}
	return uint16(v), nil
}

func parseUint32Default(key string, def uint32) (uint32, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, apperr.Config("%s must be a non-negative integer: %v", key, err)
	}
	return uint32(v), nil
}

func parseIntDefault(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Config("%s must be a valid integer: %v", key, err)
	}
	return v, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
