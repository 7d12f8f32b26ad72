package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"PageHarvester/internal/infrastructure/browser"
	"PageHarvester/internal/infrastructure/llm"
	"PageHarvester/internal/infrastructure/ocr"
	"PageHarvester/internal/infrastructure/report"
	"PageHarvester/internal/infrastructure/screen"
	"PageHarvester/internal/infrastructure/telegram"
	"PageHarvester/internal/retry"
)

const (
	configPathEnv     = "PAGEHARVESTER_CONFIG"
	databasePathEnv   = "DATABASE_PATH"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	anthropicKeyEnv   = "ANTHROPIC_API_KEY"
	cdpURLEnv         = "CDP_URL"
	logLevelEnv       = "LOG_LEVEL"
	httpAddrEnv       = "HTTP_ADDR"
	apiKeyEnv         = "API_ACCESS_KEY"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Server        ServerConfig       `yaml:"server"`
	Browser       browser.Config     `yaml:"browser"`
	OCR           ocr.Config         `yaml:"ocr"`
	Extraction    screen.Options     `yaml:"extraction"`
	Notifications NotificationConfig `yaml:"notifications"`
	Anthropic     llm.Config         `yaml:"anthropic"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Downloads     report.Config      `yaml:"downloads"`
}

// LoggingConfig selects level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the dashboard API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKey, when set, is required on every /api route.
	APIKey          string        `yaml:"apiKey"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
}

// SchedulerConfig tunes recurring runs.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// FocusAttempts bounds attempts to bring the browser forward before a run.
	FocusAttempts int           `yaml:"focusAttempts"`
	SendTimeout   time.Duration `yaml:"sendTimeout"`
}

// Load reads .env, the YAML file (if any) and applies environment overrides.
// A path argument takes precedence over PAGEHARVESTER_CONFIG.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Decoding over the defaults keeps every key the file leaves out.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	if c.Extraction.SimilarityThreshold < 0 || c.Extraction.SimilarityThreshold > 1 {
		return fmt.Errorf("config: extraction.similarityThreshold must be within [0, 1]")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(anthropicKeyEnv); v != "" {
		c.Anthropic.APIKey = v
	}
	if v := os.Getenv(cdpURLEnv); v != "" {
		c.Browser.CDPURL = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		c.Server.APIKey = v
	}
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Database:   DatabaseConfig{Path: filepath.Join("data", "pageharvester.db")},
		Server:     ServerConfig{Addr: ":5000", ShutdownTimeout: 10 * time.Second},
		Browser:    browser.DefaultConfig(),
		OCR:        ocr.Config{Binary: "tesseract", Language: "eng", PSM: 6},
		Extraction: screen.DefaultOptions(),
		Notifications: NotificationConfig{
			Telegram: telegram.Config{
				Timeout:   10 * time.Second,
				PerSecond: 1,
			},
		},
		Anthropic: llm.Config{Model: llm.DefaultModel, MaxTokens: llm.DefaultMaxTokens},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			FocusAttempts: retry.DefaultConfig().MaxAttempts,
			SendTimeout:   10 * time.Second,
		},
		Downloads: report.Config{DownloadsDir: filepath.Join(home, "Downloads")},
	}
}
