package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	cfg, err := Load()
	req.NoError(err)
	req.Equal(DriverMemory, cfg.StoreDriver)
	req.Equal(DriverMemory, cfg.FeedDriver)
	req.Equal(DriverLog, cfg.NotifyDriver)
	req.Equal([]time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.NotifyBackoff)
	req.Equal(cfg.S3Endpoint, cfg.S3PublicEndpoint)
	req.Equal(int64(25<<20), cfg.AttachmentMaxBytes)
}

func TestLoad_DriverRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}, "POSTGRES_DSN"},
		{"scylla without hosts", map[string]string{"STORE_DRIVER": "scylla"}, "SCYLLA_HOSTS"},
		{"mongo identity without uri", map[string]string{"IDENTITY_DRIVER": "mongo"}, "MONGO_URI"},
		{"kafka feed without brokers", map[string]string{"FEED_DRIVER": "kafka"}, "KAFKA_BROKERS"},
		{"unknown store", map[string]string{"STORE_DRIVER": "sqlite"}, "STORE_DRIVER"},
		{"bad backoff", map[string]string{"NOTIFY_BACKOFF": "1s,soon"}, "NOTIFY_BACKOFF"},
		{"bad profiles", map[string]string{"MEMORY_PROFILES": "noequals"}, "MEMORY_PROFILES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/peerchat")
	t.Setenv("FEED_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC_PREFIX", "dev.")
	t.Setenv("MEMORY_PROFILES", "alice=Alice, bob=Bob")
	t.Setenv("S3_USE_SSL", "yes")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(DriverPostgres, cfg.StoreDriver)
	req.Equal([]string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	req.Equal("dev.chat.messages.v1", cfg.Topic("chat.messages.v1"))
	req.Equal(map[string]string{"alice": "Alice", "bob": "Bob"}, cfg.MemoryProfiles)
	req.True(cfg.S3UseSSL)
}
