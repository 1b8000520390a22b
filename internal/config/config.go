package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full memoryd service configuration. Values are resolved from an
// optional YAML file, then overridden by environment variables.
type Config struct {
	HTTPPort  int    `mapstructure:"http_port"`
	AdminPort int    `mapstructure:"admin_port"`
	AuthToken string `mapstructure:"auth_token"` // optional bearer token for admin endpoints

	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Queue    QueueConfig    `mapstructure:"queue"`
	AI       AIConfig       `mapstructure:"ai"`
	Curator  CuratorConfig  `mapstructure:"curator"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QdrantConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type QueueConfig struct {
	Stream          string        `mapstructure:"stream"`
	Group           string        `mapstructure:"group"`
	Consumer        string        `mapstructure:"consumer"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	ReclaimMinIdle  time.Duration `mapstructure:"reclaim_min_idle"`
}

type AIConfig struct {
	EdgeBaseURL   string        `mapstructure:"edge_base_url"`
	GatewayPrefix string        `mapstructure:"gateway_prefix"` // optional proxy prefix for external providers
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key"`
	ModelsPath    string        `mapstructure:"models_path"` // optional YAML with per-provider model overrides
	Timeout       time.Duration `mapstructure:"timeout"`
}

type CuratorConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	Schedule            string        `mapstructure:"schedule"` // cron expression
	BatchSize           int           `mapstructure:"batch_size"`
	MaxConsolidations   int           `mapstructure:"max_consolidations"`
	RunDeadline         time.Duration `mapstructure:"run_deadline"`
	SimilarTopK         int           `mapstructure:"similar_top_k"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load resolves the configuration. A missing config file is not an error; the
// defaults plus environment variables are enough to run.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MEMORYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/memoryd.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("admin_port", 8081)

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "memoryd")
	v.SetDefault("postgres.password", "memoryd")
	v.SetDefault("postgres.database", "memoryd")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 25)
	v.SetDefault("postgres.idle_connections", 5)
	v.SetDefault("postgres.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "redis:6379")

	v.SetDefault("qdrant.host", "qdrant")
	v.SetDefault("qdrant.port", 6333)
	v.SetDefault("qdrant.collection", "memories")
	v.SetDefault("qdrant.dimensions", 768)
	v.SetDefault("qdrant.timeout", 30*time.Second)

	v.SetDefault("queue.stream", "memoryd:ingest")
	v.SetDefault("queue.group", "ingest-workers")
	v.SetDefault("queue.block_timeout", 5*time.Second)
	v.SetDefault("queue.reclaim_interval", 30*time.Second)
	v.SetDefault("queue.reclaim_min_idle", time.Minute)

	v.SetDefault("ai.edge_base_url", "http://ai-gateway:8000")
	v.SetDefault("ai.timeout", 30*time.Second)

	v.SetDefault("curator.similarity_threshold", 0.92)
	v.SetDefault("curator.schedule", "@daily")
	v.SetDefault("curator.batch_size", 20)
	v.SetDefault("curator.max_consolidations", 10)
	v.SetDefault("curator.run_deadline", time.Minute)
	v.SetDefault("curator.similar_top_k", 3)

	v.SetDefault("tracing.service_name", "memoryd")
}

// applyEnvOverrides maps the externally recognized environment variables onto
// the config. These names are part of the deployment contract and take
// precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("SIMILARITY_THRESHOLD"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
			cfg.Curator.SimilarityThreshold = f
		}
	}
	if s := os.Getenv("OPENAI_API_KEY"); s != "" {
		cfg.AI.OpenAIAPIKey = s
	}
	if s := os.Getenv("GEMINI_API_KEY"); s != "" {
		cfg.AI.GeminiAPIKey = s
	}
	if s := os.Getenv("AI_GATEWAY_PREFIX"); s != "" {
		cfg.AI.GatewayPrefix = s
	}
	if s := os.Getenv("EDGE_AI_URL"); s != "" {
		cfg.AI.EdgeBaseURL = s
	}
	if s := os.Getenv("MODELS_PATH"); s != "" {
		cfg.AI.ModelsPath = s
	}
	if s := os.Getenv("REDIS_ADDR"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := os.Getenv("REDIS_PASSWORD"); s != "" {
		cfg.Redis.Password = s
	}
	if s := os.Getenv("QDRANT_HOST"); s != "" {
		cfg.Qdrant.Host = s
	}
	if s := os.Getenv("QDRANT_PORT"); s != "" {
		if p, err := strconv.Atoi(s); err == nil {
			cfg.Qdrant.Port = p
		}
	}
	if s := os.Getenv("POSTGRES_HOST"); s != "" {
		cfg.Postgres.Host = s
	}
	if s := os.Getenv("POSTGRES_PORT"); s != "" {
		if p, err := strconv.Atoi(s); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if s := os.Getenv("POSTGRES_USER"); s != "" {
		cfg.Postgres.User = s
	}
	if s := os.Getenv("POSTGRES_PASSWORD"); s != "" {
		cfg.Postgres.Password = s
	}
	if s := os.Getenv("POSTGRES_DB"); s != "" {
		cfg.Postgres.Database = s
	}
	if s := os.Getenv("ADMIN_AUTH_TOKEN"); s != "" {
		cfg.AuthToken = s
	}
}
