package configs

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "offline", cfg.Mode)
	assert.Equal(t, "configs/endpoints.yaml", cfg.CatalogPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, float64(5), cfg.RatePerSec)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FINAMCHAT_MODE", "llm")
	t.Setenv("FINAMCHAT_LLM_API_KEY", "k")
	t.Setenv("FINAMCHAT_RATE_PER_SEC", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "llm", cfg.Mode)
	assert.Equal(t, 2.5, cfg.RatePerSec)
}

func TestLoad_InvalidMode(t *testing.T) {
	t.Setenv("FINAMCHAT_MODE", "psychic")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_LLMRequiresKey(t *testing.T) {
	t.Setenv("FINAMCHAT_MODE", "llm")
	t.Setenv("FINAMCHAT_LLM_API_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_FileMergeAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finamchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog_path: /etc/finamchat/endpoints.yaml
mode: offline
allowed_markets: [MISX]
max_order_quantity: 500
`), 0o644))

	t.Setenv("FINAMCHAT_CONFIG_FILE", path)
	t.Setenv("FINAMCHAT_MAX_ORDER_QUANTITY", "900")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/finamchat/endpoints.yaml", cfg.CatalogPath)
	assert.Equal(t, []string{"MISX"}, cfg.AllowedMarkets)
	// Environment wins over the file.
	assert.Equal(t, int64(900), cfg.MaxOrderQuantity)
}

func TestParsedLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range tests {
		c := Config{LogLevel: tc.in}
		assert.Equal(t, tc.want, c.ParsedLogLevel(), tc.in)
	}
}
