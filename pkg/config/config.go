// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Postgres, Kafka, Redis, Recovery, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RPC       RPCConfig       `yaml:"rpc"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RPCConfig holds the JSON-over-TCP RPC listener settings.
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RecoveryJobs    string `yaml:"recoveryJobs"`
	RecoveryResults string `yaml:"recoveryResults"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RecoveryConfig holds the default keyspace and search settings. Requests
// may override the keyspace fields individually.
type RecoveryConfig struct {
	Alphabet     string `yaml:"alphabet"`
	MaxKeyLength int    `yaml:"maxKeyLength"`
	// IndexBound is the exclusive upper bound of the index space; 0 derives
	// it from the alphabet and MaxKeyLength.
	IndexBound uint64 `yaml:"indexBound"`
	// Algorithm names the hash oracle; empty means detect from the hash.
	Algorithm string `yaml:"algorithm"`
	// Salt is passed to the oracle; empty means derive from the hash.
	Salt string `yaml:"salt"`
	// Shards is the number of concurrent index ranges; 0 means one per CPU.
	Shards      int           `yaml:"shards"`
	StrictOrder bool          `yaml:"strictOrder"`
	Timeout     time.Duration `yaml:"timeout"`
	// MaxIndexBound caps request-supplied bounds on the HTTP API.
	MaxIndexBound uint64 `yaml:"maxIndexBound"`
	// MaxShards and MaxKeyLengthLimit cap what a single request may ask for
	// on every entry point; 0 disables the cap.
	MaxShards         int `yaml:"maxShards"`
	MaxKeyLengthLimit int `yaml:"maxKeyLengthLimit"`
}

// Validate reports configuration errors wrapped in ErrInvalidArguments.
func (r RecoveryConfig) Validate() error {
	switch {
	case r.Alphabet == "":
		return fmt.Errorf("%w: recovery.alphabet must not be empty", apperrors.ErrInvalidArguments)
	case r.MaxKeyLength < 0:
		return fmt.Errorf("%w: recovery.maxKeyLength must not be negative", apperrors.ErrInvalidArguments)
	case r.Shards < 0:
		return fmt.Errorf("%w: recovery.shards must not be negative", apperrors.ErrInvalidArguments)
	case r.Timeout < 0:
		return fmt.Errorf("%w: recovery.timeout must not be negative", apperrors.ErrInvalidArguments)
	case r.MaxShards < 0:
		return fmt.Errorf("%w: recovery.maxShards must not be negative", apperrors.ErrInvalidArguments)
	case r.MaxKeyLengthLimit < 0:
		return fmt.Errorf("%w: recovery.maxKeyLengthLimit must not be negative", apperrors.ErrInvalidArguments)
	case r.MaxKeyLengthLimit > 0 && r.MaxKeyLength > r.MaxKeyLengthLimit:
		return fmt.Errorf("%w: recovery.maxKeyLength %d exceeds recovery.maxKeyLengthLimit %d",
			apperrors.ErrInvalidArguments, r.MaxKeyLength, r.MaxKeyLengthLimit)
	}
	return nil
}

// RateLimitConfig controls per-client limits on the recovery endpoints.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Recovery.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied, for binaries that run without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with defaults for local development. The
// recovery defaults match the classic crypt(3) exercise: mixed-case letters,
// keys of up to four characters.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RPC: RPCConfig{
			Enabled: true,
			Addr:    ":9000",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "keyspace",
			User:            "keyspace",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "keyspace-workers",
			Topics: KafkaTopics{
				RecoveryJobs:    "recovery-jobs",
				RecoveryResults: "recovery-results",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Recovery: RecoveryConfig{
			Alphabet:      "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
			MaxKeyLength:  4,
			Shards:        0,
			Timeout:       10 * time.Minute,
			MaxIndexBound:     1 << 32,
			MaxShards:         1024,
			MaxKeyLengthLimit: 64,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 30,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads KS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KS_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("KS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("KS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("KS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("KS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("KS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("KS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("KS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KS_RECOVERY_ALPHABET"); v != "" {
		cfg.Recovery.Alphabet = v
	}
	if v := os.Getenv("KS_RECOVERY_MAX_KEY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.MaxKeyLength = n
		}
	}
	if v := os.Getenv("KS_RECOVERY_INDEX_BOUND"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Recovery.IndexBound = n
		}
	}
	if v := os.Getenv("KS_RECOVERY_ALGORITHM"); v != "" {
		cfg.Recovery.Algorithm = v
	}
	if v := os.Getenv("KS_RECOVERY_SALT"); v != "" {
		cfg.Recovery.Salt = v
	}
	if v := os.Getenv("KS_RECOVERY_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.Shards = n
		}
	}
	if v := os.Getenv("KS_RECOVERY_MAX_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.MaxShards = n
		}
	}
	if v := os.Getenv("KS_RECOVERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recovery.Timeout = d
		}
	}
	if v := os.Getenv("KS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("KS_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}
