package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment       string
	AppName           string
	Port              string
	LogLevel          slog.Level
	SQLitePath        string
	MigrationsPath    string
	SeedDefaultData   bool
	SourcesConfigPath string
	FetchTimeout      time.Duration
	RescanEnabled     bool
	RescanMinutes     int
	NotifyWebhookURL  string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		AppName:           getEnv("APP_NAME", "episode-tracker"),
		Port:              getEnv("APP_PORT", "8080"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/app.sqlite"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "./migrations"),
		SeedDefaultData:   getEnvAsBool("SEED_DEFAULT_DATA", true),
		SourcesConfigPath: getEnv("SOURCES_CONFIG_PATH", "./config/sources.yaml"),
		FetchTimeout:      time.Duration(getEnvAsInt("FETCH_TIMEOUT_SECONDS", 15)) * time.Second,
		RescanEnabled:     getEnvAsBool("RESCAN_ENABLED", true),
		RescanMinutes:     getEnvAsInt("RESCAN_MINUTES", 60),
		NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
	}

	if cfg.RescanMinutes <= 0 {
		cfg.RescanMinutes = 60
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "INFO"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q, expected DEBUG|INFO|WARN|ERROR", raw)
	}
}

func getEnv(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
