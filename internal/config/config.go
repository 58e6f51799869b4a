package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the coursedex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds vector cache storage settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // badger, redis (default: badger)
	Path             string   `yaml:"path"`   // badger data directory
	Addrs            []string `yaml:"addrs"`  // redis addresses
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// CatalogConfig holds course snapshot settings.
type CatalogConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit      int64   `yaml:"daily_token_limit"`       // 0 = unlimited
	MonthlyTokenLimit    int64   `yaml:"monthly_token_limit"`     // 0 = unlimited
	CostPerMillionTokens float64 `yaml:"cost_per_million_tokens"` // for the dashboard
	Action               string  `yaml:"action"`                  // "reject" | "warn" (default)
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string       `yaml:"api_key"`
	BaseURL    string       `yaml:"base_url"`
	Model      string       `yaml:"model"`
	Dimensions int          `yaml:"dimensions"`
	TimeoutSec int          `yaml:"timeout_sec"`
	Budget     BudgetConfig `yaml:"budget"`
}

// RetrievalConfig holds ranking and index build settings.
type RetrievalConfig struct {
	LexicalWeight  float64 `yaml:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	TitleWeight    int     `yaml:"title_weight"`
	K1             float64 `yaml:"k1"`
	B              float64 `yaml:"b"`
	BatchSize      int     `yaml:"batch_size"`
	Concurrency    int     `yaml:"concurrency"`
}

// ChatConfig holds advising chat settings.
type ChatConfig struct {
	Model string `yaml:"model"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Advising responses stream for a while.
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "badger"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/veccache"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 10
	}
	if c.Retrieval.LexicalWeight == 0 && c.Retrieval.SemanticWeight == 0 {
		c.Retrieval.LexicalWeight = 0.3
		c.Retrieval.SemanticWeight = 0.7
	}
	if c.Retrieval.TitleWeight <= 0 {
		c.Retrieval.TitleWeight = 3
	}
	if c.Retrieval.K1 <= 0 {
		c.Retrieval.K1 = 1.5
	}
	if c.Retrieval.B <= 0 {
		c.Retrieval.B = 0.75
	}
	if c.Retrieval.BatchSize <= 0 {
		c.Retrieval.BatchSize = 100
	}
	if c.Retrieval.Concurrency <= 0 {
		c.Retrieval.Concurrency = 4
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gpt-4o-mini"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "badger", "redis":
		// ok
	default:
		return fmt.Errorf("database.driver must be \"badger\" or \"redis\", got %q", c.Database.Driver)
	}
	if c.Database.Driver == "redis" && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required for the redis driver")
	}
	if c.Catalog.SnapshotPath == "" {
		return fmt.Errorf("catalog.snapshot_path is required")
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
