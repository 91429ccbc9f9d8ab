package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"peerchat/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures the keyspace and tables exist and returns a session bound to the keyspace.
func NewSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}
	consistency, err := gocql.ParseConsistencyWrapper(cfg.ScyllaConsistency)
	if err != nil {
		return nil, fmt.Errorf("scylla consistency: %w", err)
	}

	baseCluster := newCluster(cfg, consistency)
	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(ctx, baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg, consistency)
	cluster.Keyspace = cfg.ScyllaKeyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func newCluster(cfg config.Config, consistency gocql.Consistency) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Consistency = consistency
	if cfg.ScyllaUsername != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.ScyllaUsername,
			Password: cfg.ScyllaPassword,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	replication := cfg.ScyllaReplication
	if replication <= 0 {
		replication = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, replication,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

var tables = []struct {
	name string
	cql  string
}{
	{"messages_by_pair", `
CREATE TABLE IF NOT EXISTS messages_by_pair (
	pair_key text,
	created_at timestamp,
	message_id timeuuid,
	sender_id text,
	receiver_id text,
	content text,
	attachment_url text,
	attachment_type text,
	PRIMARY KEY (pair_key, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`},
	{"messages_by_user", `
CREATE TABLE IF NOT EXISTS messages_by_user (
	user_id text,
	created_at timestamp,
	message_id timeuuid,
	sender_id text,
	receiver_id text,
	content text,
	attachment_url text,
	attachment_type text,
	PRIMARY KEY (user_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`},
	{"message_directions", `
CREATE TABLE IF NOT EXISTS message_directions (
	sender_id text,
	receiver_id text,
	first_at timestamp,
	PRIMARY KEY ((sender_id, receiver_id))
)`},
	{"conversation_reads", `
CREATE TABLE IF NOT EXISTS conversation_reads (
	viewer_id text,
	counterpart_id text,
	read_at timestamp,
	PRIMARY KEY (viewer_id, counterpart_id)
)`},
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, table := range tables {
		if err := session.Query(table.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
	}
	return nil
}
