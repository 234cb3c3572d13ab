// Command migrate creates (or with -drop, removes) the scylla schema used by
// the scylla store backend.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mahaj/pulse/pkg/db"
	"github.com/mahaj/pulse/pkg/logging"
	"github.com/samber/lo"
)

type Config struct {
	ScyllaHosts       string `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace    string `env:"SCYLLA_KEYSPACE,default=pulse"`
	ScyllaReplication int    `env:"SCYLLA_REPLICATION_FACTOR,default=1"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func main() {
	drop := flag.Bool("drop", false, "drop every table instead of creating them")
	flag.Parse()

	if err := run(*drop); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(drop bool) error {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	hosts := lo.Compact(lo.Map(strings.Split(cfg.ScyllaHosts, ","), func(h string, _ int) string {
		return strings.TrimSpace(h)
	}))

	if !drop {
		return db.Migrate(hosts, cfg.ScyllaKeyspace, cfg.ScyllaReplication, log)
	}

	session, err := db.NewSession(hosts, cfg.ScyllaKeyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()
	return db.Drop(session, log)
}
