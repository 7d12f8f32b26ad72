package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
database:
  path: /var/lib/harvester.db
browser:
  cdpUrl: http://127.0.0.1:9333
  connectTimeout: 3s
extraction:
  sameCount: 5
notifications:
  telegram:
    chatId: "100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/harvester.db", cfg.Database.Path)
	assert.Equal(t, "http://127.0.0.1:9333", cfg.Browser.CDPURL)
	assert.Equal(t, 3*time.Second, cfg.Browser.ConnectTimeout)
	assert.Equal(t, []int{9222, 9223, 9224, 9225}, cfg.Browser.Ports)
	assert.Equal(t, 5, cfg.Extraction.SameCount)
	assert.Equal(t, 0.98, cfg.Extraction.SimilarityThreshold)
	assert.Equal(t, "100", cfg.Notifications.Telegram.ChatID)
	assert.Equal(t, ":5000", cfg.Server.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  path: from-file.db\n")
	t.Setenv("DATABASE_PATH", "from-env.db")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "123:abc", cfg.Notifications.Telegram.BotToken)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "logging: [\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "logging:\n  format: xml\n"))
	require.ErrorContains(t, err, "logging.format")

	_, err = Load(writeConfig(t, "extraction:\n  similarityThreshold: 1.5\n"))
	require.ErrorContains(t, err, "similarityThreshold")
}
