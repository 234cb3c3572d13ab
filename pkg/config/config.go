// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	StoreBadger = "badger"
	StoreScylla = "scylla"
)

type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT,default=false"`

	GatewayAddr string `env:"GATEWAY_ADDR,default=:8080"`
	APIAddr     string `env:"API_ADDR,default=:8081"`

	JWTSecret string        `env:"JWT_SECRET,required=true"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	StoreBackend      string `env:"STORE_BACKEND,default=badger"`
	BadgerPath        string `env:"BADGER_PATH,default=data/pulse"`
	ScyllaHosts       string `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace    string `env:"SCYLLA_KEYSPACE,default=pulse"`
	ScyllaReplication int    `env:"SCYLLA_REPLICATION_FACTOR,default=1"`

	// Empty RedisAddr disables the presence mirror.
	RedisAddr            string `env:"REDIS_ADDR"`
	RedisPresenceKey     string `env:"REDIS_PRESENCE_KEY,default=presence:online"`
	RedisPresenceChannel string `env:"REDIS_PRESENCE_CHANNEL,default=presence:updates"`

	// Empty KafkaBrokers disables domain action ingestion.
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=social-actions"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID,default=pulse-gateway"`

	SnowflakeNode   int64         `env:"SNOWFLAKE_NODE,default=1"`
	SessionBuffer   int           `env:"SESSION_BUFFER,default=256"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the given .env files (default ".env"), silently skipping
// missing ones, then the process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	switch c.StoreBackend {
	case StoreBadger:
		if c.BadgerPath == "" {
			problems = append(problems, "BADGER_PATH is required for the badger store")
		}
	case StoreScylla:
		if len(c.Hosts()) == 0 || c.ScyllaKeyspace == "" {
			problems = append(problems, "SCYLLA_HOSTS and SCYLLA_KEYSPACE are required for the scylla store")
		}
		if c.ScyllaReplication < 1 {
			problems = append(problems, "SCYLLA_REPLICATION_FACTOR must be at least 1")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND %q is not one of badger, scylla", c.StoreBackend))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		problems = append(problems, "SNOWFLAKE_NODE must be within 0..1023")
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "TOKEN_TTL must be positive")
	}
	if c.SessionBuffer <= 0 {
		problems = append(problems, "SESSION_BUFFER must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) Brokers() []string { return splitList(c.KafkaBrokers) }

func (c Config) Hosts() []string { return splitList(c.ScyllaHosts) }

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
