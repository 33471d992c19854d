package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken string `mapstructure:"telegram_bot_token"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`

	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`

	PreferIPv4 bool   `mapstructure:"prefer_ipv4"`
	WebAddr    string `mapstructure:"web_addr"`

	MediaGroupDebounce time.Duration
	MaxConcurrent      int `mapstructure:"max_concurrent"`
	RequestTimeout     time.Duration
	HTTPTimeout        time.Duration
	SessionIdleTTL     time.Duration
	GeminiBaseURL      string `mapstructure:"gemini_base_url"`
	GeminiAPIVersion   string `mapstructure:"gemini_api_version"`
	GeminiModel        string `mapstructure:"gemini_model"`
}

type Options struct {
	// Flags, when set, override environment values for every flag that was
	// changed on the command line. Flag names are the lower-case keys with
	// dashes, e.g. --web-addr.
	Flags *pflag.FlagSet
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored. Defaults to ".env".
	EnvFiles []string

	RequireTelegram bool
}

var keys = []string{
	"telegram_bot_token",
	"gemini_api_key",
	"gemini_base_url",
	"gemini_api_version",
	"gemini_model",
	"log_level",
	"debug",
	"prefer_ipv4",
	"web_addr",
	"http_timeout_seconds",
	"request_timeout_seconds",
	"media_group_debounce_ms",
	"max_concurrent",
	"session_idle_ttl_minutes",
}

func Load(opts Options) (Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("prefer_ipv4", true)
	v.SetDefault("web_addr", ":8080")
	v.SetDefault("http_timeout_seconds", 180)
	v.SetDefault("request_timeout_seconds", 180)
	v.SetDefault("media_group_debounce_ms", 1200)
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("session_idle_ttl_minutes", 120)
	v.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini_api_version", "v1beta")
	v.SetDefault("gemini_model", "gemini-2.5-flash-image")

	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	if opts.Flags != nil {
		for _, key := range keys {
			flag := opts.Flags.Lookup(strings.ReplaceAll(key, "_", "-"))
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("binding %s flag: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.WebAddr = strings.TrimSpace(cfg.WebAddr)
	cfg.GeminiBaseURL = strings.TrimSpace(cfg.GeminiBaseURL)
	cfg.GeminiAPIVersion = strings.TrimSpace(cfg.GeminiAPIVersion)
	cfg.GeminiModel = strings.TrimSpace(cfg.GeminiModel)

	cfg.HTTPTimeout = time.Duration(v.GetInt("http_timeout_seconds")) * time.Second
	cfg.RequestTimeout = time.Duration(v.GetInt("request_timeout_seconds")) * time.Second
	cfg.MediaGroupDebounce = time.Duration(v.GetInt("media_group_debounce_ms")) * time.Millisecond
	cfg.SessionIdleTTL = time.Duration(v.GetInt("session_idle_ttl_minutes")) * time.Minute

	if opts.RequireTelegram && cfg.TelegramToken == "" {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 2 * time.Hour
	}
	if cfg.WebAddr == "" {
		cfg.WebAddr = ":8080"
	}

	return cfg, nil
}

// RegisterFlags adds the command-line overrides shared by both binaries.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("web-addr", ":8080", "listen address of the web server")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Bool("debug", false, "verbose Telegram API logging")
	fs.String("gemini-model", "gemini-2.5-flash-image", "image model name")
	fs.Int("max-concurrent", 4, "updates handled in parallel by the bot")
}

func NewLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
