package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchema_Tables_Match_Names(t *testing.T) {
	req := require.New(t)
	req.Len(tables, len(tableNames))
	for i, stmt := range tables {
		req.True(strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS "+tableNames[i]+" "), tableNames[i])
	}
}

func TestKeyspaceStatement(t *testing.T) {
	req := require.New(t)
	req.Equal(
		"CREATE KEYSPACE IF NOT EXISTS chat WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 3 }",
		keyspaceStatement("chat", 3))
}
