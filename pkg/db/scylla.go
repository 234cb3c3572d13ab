package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

type Session struct {
	*gocql.Session
}

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

func NewSession(hosts []string, keyspace string, log *zap.Logger) (*Session, error) {
	session, err := newCluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v keyspace %s: %w", hosts, keyspace, err)
	}

	log.Info("connected to ScyllaDB cluster", zap.Strings("hosts", hosts), zap.String("keyspace", keyspace))
	return &Session{Session: session}, nil
}
