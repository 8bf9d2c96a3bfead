package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig     ServerConfig     `json:"server"`
	MarketDataConfig MarketDataConfig `json:"market_data"`
	AnalysisConfig   AnalysisConfig   `json:"analysis"`
	PipelineConfig   PipelineConfig   `json:"pipeline"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	RedisConfig      RedisConfig      `json:"redis"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	VaultConfig      VaultConfig      `json:"vault"`
	AuthConfig       AuthConfig       `json:"auth"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Enabled      bool     `json:"enabled"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	CORSOrigins  []string `json:"cors_origins"`
	ReadTimeout  int      `json:"read_timeout"`  // seconds
	WriteTimeout int      `json:"write_timeout"` // seconds
}

// ProviderConfig describes one upstream candle/spot provider
type ProviderConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// MarketDataConfig holds candle/spot fetching configuration
type MarketDataConfig struct {
	Symbol          string           `json:"symbol"`           // e.g., "XAU/USD"
	Interval        string           `json:"interval"`         // e.g., "15m", "1h"
	CandleCount     int              `json:"candle_count"`     // candles per fetch
	Providers       []ProviderConfig `json:"providers"`        // tried in order
	RequestTimeout  time.Duration    `json:"request_timeout"`  // per HTTP attempt
	MaxRetries      int              `json:"max_retries"`      // attempts per provider
	RetryBaseDelay  time.Duration    `json:"retry_base_delay"` // exponential backoff base
	RetryMaxDelay   time.Duration    `json:"retry_max_delay"`  // backoff cap
	CacheTTL        time.Duration    `json:"cache_ttl"`        // candle cache TTL
	SyntheticSeed   int64            `json:"synthetic_seed"`   // 0 = time-seeded
	SyntheticAnchor float64          `json:"synthetic_anchor"` // base price when no spot known
}

// AnalysisConfig holds zone/signal policy configuration
type AnalysisConfig struct {
	Strictness       string        `json:"strictness"`        // relaxed, balanced, strict
	StalenessWindow  time.Duration `json:"staleness_window"`  // full analysis cache validity
	FastPathWindow   time.Duration `json:"fast_path_window"`  // fast-path cache validity
	AutoRefresh      bool          `json:"auto_refresh"`      // periodic re-analysis
	RefreshInterval  time.Duration `json:"refresh_interval"`  // auto-refresh tick
	HistoryEnabled   bool          `json:"history_enabled"`   // persist recommendations
	HistoryRetention int           `json:"history_retention"` // rows kept per symbol
}

// PipelineConfig holds orchestrator concurrency configuration
type PipelineConfig struct {
	DebounceDelay   time.Duration `json:"debounce_delay"`    // burst coalescing window
	MinInterval     time.Duration `json:"min_interval"`      // min gap between real fetches
	FastMinInterval time.Duration `json:"fast_min_interval"` // min gap on the fast path
	Timeout         time.Duration `json:"timeout"`           // full pipeline deadline
	Workers         int           `json:"workers"`           // signal compute workers
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// RedisConfig holds optional shared candle-cache configuration
type RedisConfig struct {
	Enabled      bool          `json:"enabled"`
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	CandleTTL    time.Duration `json:"candle_ttl"`
}

// DatabaseConfig holds recommendation-history persistence configuration
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// VaultConfig holds provider API key retrieval configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// AuthConfig holds the bearer-token guard for mutating endpoints
type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

// DefaultConfig returns a configuration with sensible defaults for gold analysis
func DefaultConfig() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8090,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		MarketDataConfig: MarketDataConfig{
			Symbol:      "XAU/USD",
			Interval:    "15m",
			CandleCount: 500,
			Providers: []ProviderConfig{
				{Name: "goldprice", BaseURL: "https://api.gold-api.com"},
				{Name: "twelvedata", BaseURL: "https://api.twelvedata.com"},
			},
			RequestTimeout:  10 * time.Second,
			MaxRetries:      3,
			RetryBaseDelay:  500 * time.Millisecond,
			RetryMaxDelay:   5 * time.Second,
			CacheTTL:        90 * time.Second,
			SyntheticAnchor: 2650.0,
		},
		AnalysisConfig: AnalysisConfig{
			Strictness:       "balanced",
			StalenessWindow:  5 * time.Minute,
			FastPathWindow:   60 * time.Second,
			AutoRefresh:      true,
			RefreshInterval:  60 * time.Second,
			HistoryEnabled:   false,
			HistoryRetention: 500,
		},
		PipelineConfig: PipelineConfig{
			DebounceDelay:   500 * time.Millisecond,
			MinInterval:     30 * time.Second,
			FastMinInterval: 10 * time.Second,
			Timeout:         8 * time.Second,
			Workers:         2,
		},
		LoggingConfig: LoggingConfig{
			Level:       "INFO",
			Output:      "stdout",
			JSONFormat:  true,
			IncludeFile: false,
		},
		RedisConfig: RedisConfig{
			Enabled:      false,
			Address:      "localhost:6379",
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CandleTTL:    90 * time.Second,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled: false,
			DSN:     "postgres://localhost:5432/gold_analysis",
		},
		VaultConfig: VaultConfig{
			Enabled:    false,
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "gold-analysis/api-keys",
		},
		AuthConfig: AuthConfig{
			Enabled: false,
			Issuer:  "gold-analysis-engine",
		},
	}
}

// Load reads configuration from config.json (if present) and applies
// environment variable overrides on top.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat("config.json"); err == nil {
		fileCfg, err := loadFromFile("config.json")
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency before startup
func (c *Config) Validate() error {
	if c.MarketDataConfig.Symbol == "" {
		return fmt.Errorf("market_data.symbol must not be empty")
	}
	if c.MarketDataConfig.CandleCount < 1 {
		return fmt.Errorf("market_data.candle_count must be positive, got %d", c.MarketDataConfig.CandleCount)
	}
	if c.PipelineConfig.Timeout <= 0 {
		return fmt.Errorf("pipeline.timeout must be positive")
	}
	if c.PipelineConfig.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.PipelineConfig.Workers)
	}
	switch c.AnalysisConfig.Strictness {
	case "relaxed", "balanced", "strict":
	default:
		return fmt.Errorf("analysis.strictness must be relaxed, balanced or strict, got %q", c.AnalysisConfig.Strictness)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret required when auth is enabled")
	}
	if c.DatabaseConfig.Enabled && c.DatabaseConfig.DSN == "" {
		return fmt.Errorf("database.dsn required when database is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	// Market data config
	cfg.MarketDataConfig.Symbol = getEnvOrDefault("MARKET_SYMBOL", cfg.MarketDataConfig.Symbol)
	cfg.MarketDataConfig.Interval = getEnvOrDefault("MARKET_INTERVAL", cfg.MarketDataConfig.Interval)
	cfg.MarketDataConfig.CandleCount = getEnvIntOrDefault("MARKET_CANDLE_COUNT", cfg.MarketDataConfig.CandleCount)
	cfg.MarketDataConfig.RequestTimeout = getEnvDurationOrDefault("MARKET_REQUEST_TIMEOUT", cfg.MarketDataConfig.RequestTimeout)
	cfg.MarketDataConfig.MaxRetries = getEnvIntOrDefault("MARKET_MAX_RETRIES", cfg.MarketDataConfig.MaxRetries)
	cfg.MarketDataConfig.CacheTTL = getEnvDurationOrDefault("MARKET_CACHE_TTL", cfg.MarketDataConfig.CacheTTL)
	for i := range cfg.MarketDataConfig.Providers {
		envKey := fmt.Sprintf("PROVIDER_%s_API_KEY", upperSnake(cfg.MarketDataConfig.Providers[i].Name))
		cfg.MarketDataConfig.Providers[i].APIKey = getEnvOrDefault(envKey, cfg.MarketDataConfig.Providers[i].APIKey)
	}

	// Analysis config
	cfg.AnalysisConfig.Strictness = getEnvOrDefault("ANALYSIS_STRICTNESS", cfg.AnalysisConfig.Strictness)
	cfg.AnalysisConfig.StalenessWindow = getEnvDurationOrDefault("ANALYSIS_STALENESS_WINDOW", cfg.AnalysisConfig.StalenessWindow)
	cfg.AnalysisConfig.AutoRefresh = getEnvOrDefault("ANALYSIS_AUTO_REFRESH", boolString(cfg.AnalysisConfig.AutoRefresh)) == "true"
	cfg.AnalysisConfig.RefreshInterval = getEnvDurationOrDefault("ANALYSIS_REFRESH_INTERVAL", cfg.AnalysisConfig.RefreshInterval)

	// Pipeline config
	cfg.PipelineConfig.DebounceDelay = getEnvDurationOrDefault("PIPELINE_DEBOUNCE_DELAY", cfg.PipelineConfig.DebounceDelay)
	cfg.PipelineConfig.MinInterval = getEnvDurationOrDefault("PIPELINE_MIN_INTERVAL", cfg.PipelineConfig.MinInterval)
	cfg.PipelineConfig.Timeout = getEnvDurationOrDefault("PIPELINE_TIMEOUT", cfg.PipelineConfig.Timeout)
	cfg.PipelineConfig.Workers = getEnvIntOrDefault("PIPELINE_WORKERS", cfg.PipelineConfig.Workers)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.DSN = getEnvOrDefault("DATABASE_DSN", cfg.DatabaseConfig.DSN)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolString(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c == '-' || c == ' ':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
