// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fda483-pipeline/internal/extract"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	QueueDepth            int      `mapstructure:"queue_depth"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig configures document downloads.
type FetchConfig struct {
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BackoffSeconds int    `mapstructure:"backoff_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	DownloadDir    string `mapstructure:"download_dir"`
}

// TierConfig is one row of the size tier table.
type TierConfig struct {
	Name           string `mapstructure:"name"`
	MaxBytes       int64  `mapstructure:"max_bytes"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractConfig governs model calls and batch scheduling.
type ExtractConfig struct {
	Provider                string       `mapstructure:"provider"`
	Tiers                   []TierConfig `mapstructure:"tiers"`
	MaxOutputTokens         int32        `mapstructure:"max_output_tokens"`
	DegradedMaxOutputTokens int32        `mapstructure:"degraded_max_output_tokens"`
	RetryTimeoutCapSeconds  int          `mapstructure:"retry_timeout_cap_seconds"`
	PacingBetweenSeconds    float64      `mapstructure:"pacing_between_seconds"`
	PacingEvery             int          `mapstructure:"pacing_every"`
	PacingLongPauseSeconds  float64      `mapstructure:"pacing_long_pause_seconds"`
	EarlyExitTarget         int          `mapstructure:"early_exit_target"`
	RequestsPerMinute       float64      `mapstructure:"requests_per_minute"`
	Burst                   int          `mapstructure:"burst"`
}

// GeminiConfig holds Google Gemini credentials.
type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

// AnthropicConfig holds Anthropic credentials.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend           string `mapstructure:"backend"`
	Bucket            string `mapstructure:"bucket"`
	Prefix            string `mapstructure:"prefix"`
	LocalDir          string `mapstructure:"local_dir"`
	SignedURLTTLHours int    `mapstructure:"signed_url_ttl_hours"`
	SigningAccount    string `mapstructure:"signing_account"`
	SigningKeyFile    string `mapstructure:"signing_key_file"`
	UploadConcurrency int    `mapstructure:"upload_concurrency"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	RunTable               string `mapstructure:"run_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for extraction notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DedupConfig chooses how persisted duplicates are resolved.
type DedupConfig struct {
	Mode          string `mapstructure:"mode"`
	SeedFromStore bool   `mapstructure:"seed_from_store"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.backoff_seconds", 2)
	v.SetDefault("fetch.download_dir", "pdfs")
	v.SetDefault("extract.provider", "gemini")
	v.SetDefault("extract.max_output_tokens", 800)
	v.SetDefault("extract.degraded_max_output_tokens", 400)
	v.SetDefault("extract.retry_timeout_cap_seconds", 15)
	v.SetDefault("extract.pacing_between_seconds", 2)
	v.SetDefault("extract.pacing_every", 5)
	v.SetDefault("extract.pacing_long_pause_seconds", 2)
	v.SetDefault("extract.early_exit_target", 3)
	v.SetDefault("extract.burst", 1)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "pdfs")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.signed_url_ttl_hours", 24*365)
	v.SetDefault("storage.upload_concurrency", 4)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "inspections")
	v.SetDefault("db.run_table", "ingest_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("dedup.mode", "tag")
	v.SetDefault("dedup.seed_from_store", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Extract.Provider {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("extract.provider must be gemini or anthropic, got %q", c.Extract.Provider)
	}
	for i, t := range c.Extract.Tiers {
		if t.MaxBytes <= 0 || t.TimeoutSeconds <= 0 {
			return fmt.Errorf("extract.tiers[%d] needs max_bytes and timeout_seconds > 0", i)
		}
		if i > 0 && t.MaxBytes <= c.Extract.Tiers[i-1].MaxBytes {
			return fmt.Errorf("extract.tiers must be sorted by ascending max_bytes")
		}
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs, got %q", c.Storage.Backend)
	}
	switch c.Dedup.Mode {
	case "tag", "delete":
	default:
		return fmt.Errorf("dedup.mode must be tag or delete, got %q", c.Dedup.Mode)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ProviderKey returns the API key for the configured model provider.
func (c Config) ProviderKey() string {
	if c.Extract.Provider == "anthropic" {
		return c.Anthropic.APIKey
	}
	return c.Gemini.APIKey
}

// TierTable converts the configured tiers, falling back to the defaults.
func (c ExtractConfig) TierTable() []extract.Tier {
	if len(c.Tiers) == 0 {
		return extract.DefaultTiers()
	}
	tiers := make([]extract.Tier, len(c.Tiers))
	for i, t := range c.Tiers {
		tiers[i] = extract.Tier{
			Name:     t.Name,
			MaxBytes: t.MaxBytes,
			Timeout:  time.Duration(t.TimeoutSeconds) * time.Second,
		}
	}
	return tiers
}

// CallerConfig builds the extraction caller settings.
func (c ExtractConfig) CallerConfig(instruction, schemaHint string) extract.Config {
	gen := extract.DefaultGenerationConfig()
	if c.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = c.MaxOutputTokens
	}
	return extract.Config{
		Tiers:                   c.TierTable(),
		Generation:              gen,
		Instruction:             instruction,
		SchemaHint:              schemaHint,
		DegradedMaxOutputTokens: c.DegradedMaxOutputTokens,
		RetryTimeoutCap:         time.Duration(c.RetryTimeoutCapSeconds) * time.Second,
	}
}

// RequestTimeout is the per-request HTTP deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// SignedURLTTL is the lifetime of issued document URLs.
func (c StorageConfig) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLHours) * time.Hour
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
