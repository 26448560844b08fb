package configs

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// FileConfig defines the structure loaded from the optional YAML settings
// file. Everything here can also be set through the environment; env wins.
type FileConfig struct {
	CatalogPath      string   `yaml:"catalog_path"`
	Mode             string   `yaml:"mode"`
	DeniedPolicies   []string `yaml:"denied_policies"`
	AllowedMarkets   []string `yaml:"allowed_markets"`
	MaxOrderQuantity int64    `yaml:"max_order_quantity"`
}

// Config holds the final application configuration, merged from the settings
// file and environment variables. Environment variables use the prefix
// "FINAMCHAT_" and override file settings.
type Config struct {
	ConfigFilePath string `envconfig:"CONFIG_FILE"`

	// Defaulted manually in Load so file values survive the env re-process.
	CatalogPath string `envconfig:"CATALOG_PATH"`
	Mode        string `envconfig:"MODE"` // offline or llm

	FinamBaseURL     string `envconfig:"FINAM_BASE_URL" default:"https://api.finam.ru"`
	FinamAccessToken string `envconfig:"FINAM_ACCESS_TOKEN"`

	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
	LLMBaseURL string `envconfig:"LLM_BASE_URL"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`

	// Safety policy knobs. Empty slices fall back to the built-in policy.
	DeniedPolicies   []string      `envconfig:"DENIED_POLICIES"`
	AllowedMarkets   []string      `envconfig:"ALLOWED_MARKETS"`
	MaxOrderQuantity int64         `envconfig:"MAX_ORDER_QUANTITY"`
	ConfirmTTL       time.Duration `envconfig:"CONFIRM_TTL" default:"60s"`

	// Router tunables.
	QuoteCacheTTL   time.Duration `envconfig:"QUOTE_CACHE_TTL" default:"30s"`
	DefaultCacheTTL time.Duration `envconfig:"DEFAULT_CACHE_TTL" default:"5m"`
	RatePerSec      float64       `envconfig:"RATE_PER_SEC" default:"5"`
	RateBurst       int           `envconfig:"RATE_BURST" default:"10"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"4"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"60s"`

	AuditLogPath  string `envconfig:"AUDIT_LOG_PATH" default:"/tmp/finamchat-audit.jsonl"`
	AuditRingSize int    `envconfig:"AUDIT_RING_SIZE" default:"256"`

	ListenAddr               string        `envconfig:"LISTEN_ADDR" default:":8080"`
	HTTPClientTimeout        time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"10s"`
	ShutdownTimeout          time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	OtelExporterOtlpEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string        `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Load loads configuration first from environment variables (to get the
// settings file path), then from the YAML file if one is configured, and
// finally re-applies the environment so env vars override file settings.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("finamchat", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if cfg.ConfigFilePath != "" {
		raw, err := os.ReadFile(cfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", cfg.ConfigFilePath, err)
		}
		var fileCfg FileConfig
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", cfg.ConfigFilePath, err)
		}
		slog.Info("Loaded configuration from file.", "path", cfg.ConfigFilePath)

		if fileCfg.CatalogPath != "" {
			cfg.CatalogPath = fileCfg.CatalogPath
		}
		if fileCfg.Mode != "" {
			cfg.Mode = fileCfg.Mode
		}
		if len(fileCfg.DeniedPolicies) > 0 {
			cfg.DeniedPolicies = fileCfg.DeniedPolicies
		}
		if len(fileCfg.AllowedMarkets) > 0 {
			cfg.AllowedMarkets = fileCfg.AllowedMarkets
		}
		if fileCfg.MaxOrderQuantity > 0 {
			cfg.MaxOrderQuantity = fileCfg.MaxOrderQuantity
		}

		// Re-apply env so explicit variables win over the file.
		if err := envconfig.Process("finamchat", &cfg); err != nil {
			return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
		}
	}

	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "configs/endpoints.yaml"
	}
	if cfg.Mode == "" {
		cfg.Mode = "offline"
	}

	if cfg.Mode != "offline" && cfg.Mode != "llm" {
		return nil, fmt.Errorf("invalid mode '%s': must be 'offline' or 'llm'", cfg.Mode)
	}
	if cfg.Mode == "llm" && cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("mode 'llm' requires FINAMCHAT_LLM_API_KEY")
	}

	return &cfg, nil
}
