/*
Package config loads runtime configuration and builds the shared logger.

PURPOSE:
  Centralizes environment handling so main stays a wiring layer. A .env
  file is honored when present (local development); real environment
  variables always win.

VARIABLES:
  PORT          HTTP server port            (default 8080)
  DB_PATH       SQLite database path        (default consigne.db)
  LOG_LEVEL     logrus level name           (default info)
  CORS_ORIGINS  comma-separated origins     (default http://localhost:5173)
*/
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	CORSOrigins []string
}

// Load reads .env (if any) and the environment.
func Load() Config {
	// Missing .env is not an error; the environment may be complete.
	_ = godotenv.Load()

	return Config{
		Port:        intEnv("PORT", 8080),
		DBPath:      stringEnv("DB_PATH", "consigne.db"),
		LogLevel:    stringEnv("LOG_LEVEL", "info"),
		CORSOrigins: listEnv("CORS_ORIGINS", []string{"http://localhost:5173"}),
	}
}

func stringEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func listEnv(name string, fallback []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
