package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverScylla   = "scylla"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverKafka    = "kafka"
	DriverS3       = "s3"
	DriverLog      = "log"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string
	// PublicURL is where clients reach this server; memory attachments are served under it.
	PublicURL   string
	LogLevel    string
	CORSOrigins []string

	StoreDriver       string
	PostgresDSN       string
	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaConsistency string
	ScyllaTimeout     time.Duration
	ScyllaReplication int
	ScyllaUsername    string
	ScyllaPassword    string

	IdentityDriver string
	MongoURI       string
	MongoDB        string
	// MemoryProfiles seeds the in-memory identity store, "id=Name" pairs.
	MemoryProfiles map[string]string

	FeedDriver       string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string

	AttachmentDriver   string
	AttachmentMaxBytes int64
	S3Endpoint         string
	S3PublicEndpoint   string
	S3AccessKey        string
	S3SecretKey        string
	S3MediaBucket      string
	S3AssetsBucket     string
	S3UseSSL           bool

	NotifyDriver       string
	OutboxDriver       string
	OutboxPollInterval time.Duration
	NotifyBackoff      []time.Duration
	NotifyTimeout      time.Duration
	DeepLinkBase       string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		PublicURL:         strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		CORSOrigins:       splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		ScyllaHosts:       splitAndTrim(getEnv("SCYLLA_HOSTS", "")),
		ScyllaKeyspace:    getEnv("SCYLLA_KEYSPACE", "peerchat"),
		ScyllaConsistency: getEnv("SCYLLA_CONSISTENCY", "quorum"),
		ScyllaUsername:    os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword:    os.Getenv("SCYLLA_PASSWORD"),
		IdentityDriver:    strings.ToLower(getEnv("IDENTITY_DRIVER", DriverMemory)),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnv("MONGO_DB", "peerchat"),
		FeedDriver:        strings.ToLower(getEnv("FEED_DRIVER", DriverMemory)),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix:  getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", ""),
		AttachmentDriver:  strings.ToLower(getEnv("ATTACHMENT_DRIVER", DriverMemory)),
		S3Endpoint:        getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint:  getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       getEnv("S3_SECRET_KEY", "minioadmin"),
		S3MediaBucket:     getEnv("S3_MEDIA_BUCKET", "peerchat-media"),
		S3AssetsBucket:    getEnv("S3_ASSETS_BUCKET", "peerchat-assets"),
		NotifyDriver:      strings.ToLower(getEnv("NOTIFY_DRIVER", DriverLog)),
		OutboxDriver:      strings.ToLower(getEnv("OUTBOX_DRIVER", DriverMemory)),
		DeepLinkBase:      getEnv("DEEP_LINK_BASE", "http://localhost:5173/chat"),
	}
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	var err error
	if cfg.ScyllaTimeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = parseDurationEnv("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.NotifyBackoff, err = parseBackoff("NOTIFY_BACKOFF", "1s,5s,30s"); err != nil {
		return Config{}, err
	}
	if cfg.S3UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.ScyllaReplication, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Config{}, err
	}
	maxBytes, err := parseIntEnv("ATTACHMENT_MAX_BYTES", 25<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.AttachmentMaxBytes = int64(maxBytes)
	if cfg.MemoryProfiles, err = parseProfiles(os.Getenv("MEMORY_PROFILES")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case DriverScylla:
		if len(c.ScyllaHosts) == 0 {
			return fmt.Errorf("SCYLLA_HOSTS is required when STORE_DRIVER=scylla")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.IdentityDriver {
	case DriverMemory, DriverMongo:
	default:
		return fmt.Errorf("unsupported IDENTITY_DRIVER %q", c.IdentityDriver)
	}
	switch c.OutboxDriver {
	case DriverMemory, DriverMongo:
	default:
		return fmt.Errorf("unsupported OUTBOX_DRIVER %q", c.OutboxDriver)
	}
	if (c.IdentityDriver == DriverMongo || c.OutboxDriver == DriverMongo) && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required when IDENTITY_DRIVER or OUTBOX_DRIVER is mongo")
	}

	switch c.FeedDriver {
	case DriverMemory, DriverRedis, DriverKafka:
	default:
		return fmt.Errorf("unsupported FEED_DRIVER %q", c.FeedDriver)
	}
	switch c.NotifyDriver {
	case DriverLog, DriverKafka:
	default:
		return fmt.Errorf("unsupported NOTIFY_DRIVER %q", c.NotifyDriver)
	}
	if (c.FeedDriver == DriverKafka || c.NotifyDriver == DriverKafka) && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when FEED_DRIVER or NOTIFY_DRIVER is kafka")
	}

	switch c.AttachmentDriver {
	case DriverMemory, DriverS3:
	default:
		return fmt.Errorf("unsupported ATTACHMENT_DRIVER %q", c.AttachmentDriver)
	}
	if c.AttachmentMaxBytes <= 0 {
		return fmt.Errorf("ATTACHMENT_MAX_BYTES must be positive")
	}
	return nil
}

// Topic applies the configured prefix.
func (c Config) Topic(name string) string {
	return c.KafkaTopicPrefix + name
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

// ParseBackoff parses a comma separated duration list such as "1s,5s,30s".
func ParseBackoff(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range splitAndTrim(raw) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff component %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseBackoff(key, def string) ([]time.Duration, error) {
	out, err := ParseBackoff(getEnv(key, def))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return out, nil
}

func parseProfiles(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitAndTrim(raw) {
		id, name, ok := strings.Cut(pair, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid MEMORY_PROFILES entry %q", pair)
		}
		out[id] = name
	}
	return out, nil
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
