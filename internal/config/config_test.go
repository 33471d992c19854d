package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		env := strings.ToUpper(key)
		if old, ok := os.LookupEnv(env); ok {
			require.NoError(t, os.Unsetenv(env))
			t.Cleanup(func() { _ = os.Setenv(env, old) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Empty(t, cfg.GeminiAPIKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.PreferIPv4)
	assert.Equal(t, ":8080", cfg.WebAddr)
	assert.Equal(t, 180*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 180*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 1200*time.Millisecond, cfg.MediaGroupDebounce)
	assert.Equal(t, 2*time.Hour, cfg.SessionIdleTTL)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.GeminiModel)
	assert.Equal(t, "v1beta", cfg.GeminiAPIVersion)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "  key-123 ")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PREFER_IPV4", "false")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "30")
	t.Setenv("SESSION_IDLE_TTL_MINUTES", "5")
	t.Setenv("MAX_CONCURRENT", "0")

	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, "key-123", cfg.GeminiAPIKey)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.PreferIPv4)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 1, cfg.MaxConcurrent, "clamped to at least one worker")
}

func TestRequireTelegram(t *testing.T) {
	clearEnv(t)

	_, err := Load(Options{EnvFiles: []string{}, RequireTelegram: true})
	require.EqualError(t, err, "TELEGRAM_BOT_TOKEN is required")

	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	cfg, err := Load(Options{EnvFiles: []string{}, RequireTelegram: true})
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.TelegramToken)
}

func TestFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEB_ADDR", ":9000")
	t.Setenv("GEMINI_MODEL", "env-model")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--web-addr", "127.0.0.1:7000"}))

	cfg, err := Load(Options{EnvFiles: []string{}, Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.WebAddr)
	assert.Equal(t, "env-model", cfg.GeminiModel, "unchanged flags do not shadow the environment")
}

func TestEnvFile(t *testing.T) {
	clearEnv(t)
	t.Cleanup(func() { _ = os.Unsetenv("GEMINI_API_KEY") })

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\n"), 0o600))

	cfg, err := Load(Options{EnvFiles: []string{path, filepath.Join(t.TempDir(), "missing.env")}})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.GeminiAPIKey)
}
