package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sync     SyncConfig     `yaml:"sync"`
	Game     GameConfig     `yaml:"game"`
	Maps     MapsConfig     `yaml:"maps"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ResultTTL bounds how long per-day keys outlive their day.
	ResultTTL time.Duration `yaml:"result_ttl"`
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

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds the remote stats sync worker configuration
type SyncConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BatchSize     int           `yaml:"batch_size"`
}

// GameConfig holds gameplay and content configuration
type GameConfig struct {
	// SpotCacheTTL is the freshness window of the cached spot list.
	SpotCacheTTL time.Duration `yaml:"spot_cache_ttl"`
	// RemoteTimeout bounds every remote stats read or write.
	RemoteTimeout  time.Duration `yaml:"remote_timeout"`
	ContentRetries int           `yaml:"content_retries"`
	ContentBackoff time.Duration `yaml:"content_backoff"`
	DefaultLimit   int           `yaml:"default_limit"`
	MaxLimit       int           `yaml:"max_limit"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// MapsConfig configures the street view metadata lookup
type MapsConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Radius  int           `yaml:"radius"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
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

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// Validate fails fast when a required value is absent.
func (c *Config) Validate() error {
	var errs []error
	if c.Maps.APIKey == "" {
		errs = append(errs, errors.New("maps.api_key is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Game.SpotCacheTTL < 0 {
		errs = append(errs, errors.New("game.spot_cache_ttl must not be negative"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
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

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
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
	if c.Redis.ResultTTL == 0 {
		c.Redis.ResultTTL = 48 * time.Hour
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

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "guess-submissions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "dailyspot-guesses"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.QueueSize == 0 {
		c.Sync.QueueSize = 1024
	}
	if c.Sync.RetryInterval == 0 {
		c.Sync.RetryInterval = 5 * time.Minute
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}

	// Game defaults
	if c.Game.SpotCacheTTL == 0 {
		c.Game.SpotCacheTTL = 1 * time.Hour
	}
	if c.Game.RemoteTimeout == 0 {
		c.Game.RemoteTimeout = 10 * time.Second
	}
	if c.Game.ContentRetries == 0 {
		c.Game.ContentRetries = 3
	}
	if c.Game.ContentBackoff == 0 {
		c.Game.ContentBackoff = 200 * time.Millisecond
	}
	if c.Game.DefaultLimit == 0 {
		c.Game.DefaultLimit = 10
	}
	if c.Game.MaxLimit == 0 {
		c.Game.MaxLimit = 100
	}
	if c.Game.HistoryLimit == 0 {
		c.Game.HistoryLimit = 365
	}

	// Maps defaults
	if c.Maps.BaseURL == "" {
		c.Maps.BaseURL = "https://maps.googleapis.com/maps/api/streetview/metadata"
	}
	if c.Maps.Radius == 0 {
		c.Maps.Radius = 100
	}
	if c.Maps.Timeout == 0 {
		c.Maps.Timeout = 5 * time.Second
	}
}

// DefaultConfig returns a configuration with all defaults. Secrets are
// taken from DAILYSPOT_MAPS_API_KEY and DAILYSPOT_JWT_SECRET.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Maps.APIKey = os.Getenv("DAILYSPOT_MAPS_API_KEY")
	cfg.Auth.JWTSecret = os.Getenv("DAILYSPOT_JWT_SECRET")
	return cfg
}
