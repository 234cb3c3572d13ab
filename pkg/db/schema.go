package db

import (
	"fmt"

	"go.uber.org/zap"
)

// Tables are partitioned by owner (chat or recipient) and clustered by
// snowflake id descending, so a page is a single partition slice.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id text,
		id bigint,
		sender_id text,
		recipients list<text>,
		content text,
		attachments list<text>,
		created_at timestamp,
		read boolean,
		PRIMARY KEY (chat_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS message_index (
		id bigint PRIMARY KEY,
		chat_id text
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		recipient_id text,
		id bigint,
		sender_id text,
		type text,
		subject_ref text,
		content text,
		created_at timestamp,
		read boolean,
		PRIMARY KEY (recipient_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS notification_index (
		id bigint PRIMARY KEY,
		recipient_id text
	)`,
}

var tableNames = []string{"messages", "message_index", "notifications", "notification_index"}

func keyspaceStatement(keyspace string, replicationFactor int) string {
	return fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replicationFactor)
}

// Migrate creates the keyspace through the system keyspace, then the tables.
// Schema changes beyond IF NOT EXISTS belong to a migration tool.
func Migrate(hosts []string, keyspace string, replicationFactor int, log *zap.Logger) error {
	sys, err := NewSession(hosts, "system", log)
	if err != nil {
		return err
	}
	err = sys.Query(keyspaceStatement(keyspace, replicationFactor)).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}

	session, err := NewSession(hosts, keyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()

	for i, stmt := range tables {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", tableNames[i], err)
		}
		log.Info("table ready", zap.String("table", tableNames[i]))
	}
	return nil
}

// Drop removes every table of the keyspace. Used by the migrate tool's -drop flag.
func Drop(session *Session, log *zap.Logger) error {
	for _, name := range tableNames {
		if err := session.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		log.Info("table dropped", zap.String("table", name))
	}
	return nil
}
