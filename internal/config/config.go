package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jetstream JetstreamConfig `yaml:"jetstream"`
	Bsky      BskyConfig      `yaml:"bsky"`
	Ingest    IngestConfig    `yaml:"ingest"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Summary   SummaryConfig   `yaml:"summary"`
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig holds the game-event republisher configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	Enabled bool     `yaml:"enabled"`
}

// JetstreamConfig holds the event-feed subscription configuration
type JetstreamConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	WantedDIDs  []string      `yaml:"wanted_dids"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// BskyConfig holds directory and bot account configuration
type BskyConfig struct {
	PublicAPI     string `yaml:"public_api"`
	BotIdentifier string `yaml:"bot_identifier"`
	BotPassword   string `yaml:"bot_password"`
	BotService    string `yaml:"bot_service"`
	TriggerHandle string `yaml:"trigger_handle"`
}

// IngestConfig holds ingestion-engine tunables
type IngestConfig struct {
	CommandSigil    string        `yaml:"command_sigil"`
	TriggerSigil    string        `yaml:"trigger_sigil"`
	PrimaryLanguage string        `yaml:"primary_language"`
	StatusDelay     time.Duration `yaml:"status_delay"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	ActivityTTL     time.Duration `yaml:"activity_ttl"`
}

// RateLimitConfig holds the command rate-limiter tunables
type RateLimitConfig struct {
	MaxCommands    int           `yaml:"max_commands"`
	Window         time.Duration `yaml:"window"`
	AbuseThreshold int           `yaml:"abuse_threshold"`
}

// SummaryConfig holds the summarization worker configuration
type SummaryConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Window         time.Duration `yaml:"window"`
	RollupInterval time.Duration `yaml:"rollup_interval"`
	RollupWindow   time.Duration `yaml:"rollup_window"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "game-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "game-events-tail"
	}

	// Jetstream defaults
	if c.Jetstream.Endpoint == "" {
		c.Jetstream.Endpoint = "wss://jetstream2.us-east.bsky.network/subscribe"
	}
	if c.Jetstream.DialTimeout == 0 {
		c.Jetstream.DialTimeout = 10 * time.Second
	}
	if c.Jetstream.MaxBackoff == 0 {
		c.Jetstream.MaxBackoff = 30 * time.Second
	}

	// Bsky defaults
	if c.Bsky.PublicAPI == "" {
		c.Bsky.PublicAPI = "https://public.api.bsky.app"
	}
	if c.Bsky.BotService == "" {
		c.Bsky.BotService = "https://bsky.social"
	}

	// Ingest defaults
	if c.Ingest.CommandSigil == "" {
		c.Ingest.CommandSigil = "!"
	}
	if c.Ingest.TriggerSigil == "" {
		c.Ingest.TriggerSigil = "@"
	}
	if c.Ingest.PrimaryLanguage == "" {
		c.Ingest.PrimaryLanguage = "en"
	}
	if c.Ingest.StatusDelay == 0 {
		c.Ingest.StatusDelay = 5 * time.Second
	}
	if c.Ingest.SweepInterval == 0 {
		c.Ingest.SweepInterval = 5 * time.Minute
	}
	if c.Ingest.ActivityTTL == 0 {
		c.Ingest.ActivityTTL = 30 * time.Minute
	}

	// Rate-limit defaults
	if c.RateLimit.MaxCommands == 0 {
		c.RateLimit.MaxCommands = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 5 * time.Minute
	}
	if c.RateLimit.AbuseThreshold == 0 {
		c.RateLimit.AbuseThreshold = 20
	}

	// Summary defaults
	if c.Summary.Interval == 0 {
		c.Summary.Interval = 25 * time.Minute
	}
	if c.Summary.Window == 0 {
		c.Summary.Window = 28 * time.Minute
	}
	if c.Summary.RollupInterval == 0 {
		c.Summary.RollupInterval = 24 * time.Hour
	}
	if c.Summary.RollupWindow == 0 {
		c.Summary.RollupWindow = 24 * time.Hour
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
