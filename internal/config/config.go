package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportGateway  = "gateway"
	TransportTelegram = "telegram"
)

// Config contains all runtime settings for the intake service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	DebugLogs        bool

	TransportMode    string
	GatewayURL       string
	GatewayToken     string
	TelegramBotToken string

	TrelloAPIKey  string
	TrelloToken   string
	TrelloListID  string
	TrelloBaseURL string

	CatalogPath string
	ResumeDir   string
	DatabaseURL string

	CooldownWindow          time.Duration
	MaxConfirmationAttempts int
	WorkerIdleTimeout       time.Duration
	SessionTTL              time.Duration
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// already set win. A missing file is only an error when required is true.
func LoadEnvFile(path string, required bool) error {
	path = trimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "recruiter"),
		TransportMode:           strings.ToLower(trimSpace(envOrDefault("TRANSPORT_MODE", TransportGateway))),
		GatewayURL:              envOrDefault("GATEWAY_URL", "ws://127.0.0.1:3001/bridge"),
		GatewayToken:            stringsTrimSpace("GATEWAY_TOKEN"),
		TelegramBotToken:        stringsTrimSpace("TELEGRAM_BOT_TOKEN"),
		TrelloAPIKey:            stringsTrimSpace("TRELLO_API_KEY"),
		TrelloToken:             stringsTrimSpace("TRELLO_TOKEN"),
		TrelloListID:            stringsTrimSpace("TRELLO_LIST_ID"),
		TrelloBaseURL:           envOrDefault("TRELLO_BASE_URL", "https://api.trello.com"),
		CatalogPath:             envOrDefault("CATALOG_PATH", "vagas.json"),
		ResumeDir:               envOrDefault("RESUME_DIR", "Curriculos"),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		CooldownWindow:          30 * time.Minute,
		MaxConfirmationAttempts: 3,
		WorkerIdleTimeout:       2 * time.Minute,
		SessionTTL:              24 * time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DebugLogs, err = boolFromEnv("APP_DEBUG_LOGS", cfg.DebugLogs)
	if err != nil {
		return Config{}, err
	}
	cfg.CooldownWindow, err = durationFromEnv("INTAKE_COOLDOWN_WINDOW", cfg.CooldownWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConfirmationAttempts, err = intFromEnv("INTAKE_MAX_CONFIRMATION_ATTEMPTS", cfg.MaxConfirmationAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerIdleTimeout, err = durationFromEnv("INTAKE_WORKER_IDLE_TIMEOUT", cfg.WorkerIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("INTAKE_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks credentials and ranges. Load calls it; callers that
// override fields afterwards should call it again.
func (c Config) Validate() error {
	switch c.TransportMode {
	case TransportGateway:
		if c.GatewayURL == "" {
			return fmt.Errorf("GATEWAY_URL is required when TRANSPORT_MODE=%s", TransportGateway)
		}
	case TransportTelegram:
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TRANSPORT_MODE=%s", TransportTelegram)
		}
	default:
		return fmt.Errorf("TRANSPORT_MODE must be %q or %q, got %q", TransportGateway, TransportTelegram, c.TransportMode)
	}
	if c.TrelloAPIKey == "" || c.TrelloToken == "" {
		return fmt.Errorf("TRELLO_API_KEY and TRELLO_TOKEN are required")
	}
	if c.TrelloListID == "" {
		return fmt.Errorf("TRELLO_LIST_ID is required")
	}
	if trimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("CATALOG_PATH must not be empty")
	}
	if trimSpace(c.ResumeDir) == "" {
		return fmt.Errorf("RESUME_DIR must not be empty")
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("INTAKE_COOLDOWN_WINDOW must be positive")
	}
	if c.MaxConfirmationAttempts <= 0 {
		return fmt.Errorf("INTAKE_MAX_CONFIRMATION_ATTEMPTS must be positive")
	}
	if c.WorkerIdleTimeout < time.Second {
		return fmt.Errorf("INTAKE_WORKER_IDLE_TIMEOUT must be at least 1s")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("INTAKE_SESSION_TTL must be >= 0")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
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
