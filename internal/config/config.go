package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"FN_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"FN_DB_MAX_CONNS" default:"8"`

	// Scoring weights for the hybrid relevance engine. They must sum to 1.
	TagWeight     float64 `envconfig:"FN_TAG_WEIGHT" default:"0.7"`
	KeywordWeight float64 `envconfig:"FN_KEYWORD_WEIGHT" default:"0.3"`

	// Clustering parameters.
	EmbeddingEndpoint   string        `envconfig:"FN_EMBEDDING_ENDPOINT" default:"https://api.openai.com/v1/embeddings"`
	EmbeddingAPIKey     string        `envconfig:"FN_EMBEDDING_API_KEY" default:""`
	EmbeddingModel      string        `envconfig:"FN_EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	EmbeddingDimensions int           `envconfig:"FN_EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingTimeout    time.Duration `envconfig:"FN_EMBEDDING_TIMEOUT" default:"30s"`
	MinClusterSize      int           `envconfig:"FN_MIN_CLUSTER_SIZE" default:"2"`
	SimilarityThreshold float64       `envconfig:"FN_SIMILARITY_THRESHOLD" default:"0.7"`
	FocusThreshold      float64       `envconfig:"FN_FOCUS_THRESHOLD" default:"0.6"`

	// Push scheduling.
	WindowTolerance time.Duration `envconfig:"FN_WINDOW_TOLERANCE" default:"30m"`
	ItemDelay       time.Duration `envconfig:"FN_DELIVERY_ITEM_DELAY" default:"1.5s"`
	BatchInterval   time.Duration `envconfig:"FN_BATCH_INTERVAL" default:"10m"`
	BatchTimeout    time.Duration `envconfig:"FN_BATCH_TIMEOUT" default:"8m"`
	WorkerPoolSize  int           `envconfig:"FN_WORKER_POOL_SIZE" default:"4"`

	// Lookback horizon for candidate articles when a subscription has
	// never been pushed to.
	CandidateLookback time.Duration `envconfig:"FN_CANDIDATE_LOOKBACK" default:"6h"`

	// SMTP settings for the email delivery provider.
	SMTPServer   string `envconfig:"SMTP_SERVER" default:"smtp.gmail.com"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	FromEmail    string `envconfig:"FROM_EMAIL" default:"noreply@finnews-bot.com"`

	APIHost string `envconfig:"API_HOST" default:"0.0.0.0"`
	APIPort int    `envconfig:"API_PORT" default:"8000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("FN_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("FN_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("FN_DB_MIN_CONNS (%d) cannot exceed FN_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TagWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if math.Abs(c.TagWeight+c.KeywordWeight-1.0) > 1e-9 {
		return fmt.Errorf("FN_TAG_WEIGHT (%g) and FN_KEYWORD_WEIGHT (%g) must sum to 1", c.TagWeight, c.KeywordWeight)
	}
	if c.MinClusterSize < 2 {
		return fmt.Errorf("FN_MIN_CLUSTER_SIZE must be >= 2")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("FN_SIMILARITY_THRESHOLD must be in (0, 1)")
	}
	if c.FocusThreshold <= 0 || c.FocusThreshold >= 1 {
		return fmt.Errorf("FN_FOCUS_THRESHOLD must be in (0, 1)")
	}
	if c.WindowTolerance <= 0 || c.WindowTolerance >= 150*time.Minute {
		// Anchors are spaced >= 5h apart; the tolerance must keep
		// windows disjoint and clear of midnight.
		return fmt.Errorf("FN_WINDOW_TOLERANCE must be in (0, 2h30m)")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("FN_WORKER_POOL_SIZE must be >= 1")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("FN_EMBEDDING_DIMENSIONS must be >= 1")
	}
	return nil
}

func (c *Config) EmailConfigured() bool {
	return strings.TrimSpace(c.SMTPServer) != "" &&
		strings.TrimSpace(c.SMTPUser) != "" &&
		strings.TrimSpace(c.SMTPPassword) != ""
}
