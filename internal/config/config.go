package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the broker's runtime settings. Values come from an optional
// TOML file named by BROKER_CONFIG_FILE, overridden by BROKER_* variables.
type Config struct {
	DatabaseURL string `toml:"database_url"` // BROKER_DATABASE_URL (required)
	HTTPAddr    string `toml:"http_addr"`    // BROKER_HTTP_ADDR (default ":8080")
	AuthToken   string `toml:"auth_token"`   // BROKER_AUTH_TOKEN (optional, empty = auth disabled)
	NATSURL     string `toml:"nats_url"`     // BROKER_NATS_URL (optional, empty = no bus, no JetStream)
	LogLevel    string `toml:"log_level"`    // BROKER_LOG_LEVEL (default "info")

	// Queue backends
	JetStreamEnabled     bool          `toml:"jetstream_enabled"`      // BROKER_JETSTREAM_ENABLED (default true)
	SQSEnabled           bool          `toml:"sqs_enabled"`            // BROKER_SQS_ENABLED (default false)
	AWSRegion            string        `toml:"aws_region"`             // BROKER_AWS_REGION (default "us-east-1")
	SQSEndpoint          string        `toml:"sqs_endpoint"`           // BROKER_SQS_ENDPOINT (ElasticMQ, LocalStack)
	QueuePrefix          string        `toml:"queue_prefix"`           // BROKER_QUEUE_PREFIX
	SQSVisibilityTimeout time.Duration `toml:"sqs_visibility_timeout"` // BROKER_SQS_VISIBILITY_TIMEOUT (default 10m)

	// Publish retry
	PublishInitialBackoff time.Duration `toml:"publish_initial_backoff"` // BROKER_PUBLISH_INITIAL_BACKOFF (default 1s)
	PublishMaxBackoff     time.Duration `toml:"publish_max_backoff"`     // BROKER_PUBLISH_MAX_BACKOFF (default 1m)
	PublishMaxAttempts    int           `toml:"publish_max_attempts"`    // BROKER_PUBLISH_MAX_ATTEMPTS (default 10; 0 = unbounded)

	// Dispatch liveness
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"` // BROKER_HEARTBEAT_INTERVAL (default 30s)
	WatchdogEnabled   bool          `toml:"watchdog_enabled"`   // BROKER_WATCHDOG_ENABLED (default false)
	WatchdogDeadline  time.Duration `toml:"watchdog_deadline"`  // BROKER_WATCHDOG_DEADLINE (default 2m)

	// Execution-log archive
	ArchiveInterval   time.Duration `toml:"archive_interval"`    // BROKER_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // BROKER_ARCHIVE_S3_BUCKET
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // BROKER_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // BROKER_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        `toml:"archive_s3_prefix"`   // BROKER_ARCHIVE_S3_PREFIX (default "execution-logs/")
	ArchiveSettle     time.Duration `toml:"archive_settle"`      // BROKER_ARCHIVE_SETTLE (default 1m; records younger than this wait for the next run)
}

// Defaults returns a Config with every default applied and no database URL.
func Defaults() *Config {
	return &Config{
		HTTPAddr:              ":8080",
		LogLevel:              "info",
		JetStreamEnabled:      true,
		AWSRegion:             "us-east-1",
		SQSVisibilityTimeout:  10 * time.Minute,
		PublishInitialBackoff: time.Second,
		PublishMaxBackoff:     time.Minute,
		PublishMaxAttempts:    10,
		HeartbeatInterval:     30 * time.Second,
		WatchdogDeadline:      2 * time.Minute,
		ArchiveS3Region:       "us-east-1",
		ArchiveS3Prefix:       "execution-logs/",
		ArchiveSettle:         time.Minute,
	}
}

func Load() (*Config, error) {
	c := Defaults()

	if path := os.Getenv("BROKER_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("BROKER_CONFIG_FILE %s: %w", path, err)
		}
	}

	c.DatabaseURL = envOrDefault("BROKER_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("BROKER_HTTP_ADDR", c.HTTPAddr)
	c.AuthToken = envOrDefault("BROKER_AUTH_TOKEN", c.AuthToken)
	c.NATSURL = envOrDefault("BROKER_NATS_URL", c.NATSURL)
	c.LogLevel = envOrDefault("BROKER_LOG_LEVEL", c.LogLevel)
	c.AWSRegion = envOrDefault("BROKER_AWS_REGION", c.AWSRegion)
	c.SQSEndpoint = envOrDefault("BROKER_SQS_ENDPOINT", c.SQSEndpoint)
	c.QueuePrefix = envOrDefault("BROKER_QUEUE_PREFIX", c.QueuePrefix)
	c.ArchiveS3Bucket = envOrDefault("BROKER_ARCHIVE_S3_BUCKET", c.ArchiveS3Bucket)
	c.ArchiveS3Endpoint = envOrDefault("BROKER_ARCHIVE_S3_ENDPOINT", c.ArchiveS3Endpoint)
	c.ArchiveS3Region = envOrDefault("BROKER_ARCHIVE_S3_REGION", c.ArchiveS3Region)
	c.ArchiveS3Prefix = envOrDefault("BROKER_ARCHIVE_S3_PREFIX", c.ArchiveS3Prefix)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envBool("BROKER_JETSTREAM_ENABLED", &c.JetStreamEnabled))
	collect(envBool("BROKER_SQS_ENABLED", &c.SQSEnabled))
	collect(envBool("BROKER_WATCHDOG_ENABLED", &c.WatchdogEnabled))
	collect(envInt("BROKER_PUBLISH_MAX_ATTEMPTS", &c.PublishMaxAttempts))
	collect(envDuration("BROKER_SQS_VISIBILITY_TIMEOUT", &c.SQSVisibilityTimeout))
	collect(envDuration("BROKER_PUBLISH_INITIAL_BACKOFF", &c.PublishInitialBackoff))
	collect(envDuration("BROKER_PUBLISH_MAX_BACKOFF", &c.PublishMaxBackoff))
	collect(envDuration("BROKER_HEARTBEAT_INTERVAL", &c.HeartbeatInterval))
	collect(envDuration("BROKER_WATCHDOG_DEADLINE", &c.WatchdogDeadline))
	collect(envDuration("BROKER_ARCHIVE_INTERVAL", &c.ArchiveInterval))
	collect(envDuration("BROKER_ARCHIVE_SETTLE", &c.ArchiveSettle))
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required values and cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("BROKER_DATABASE_URL is required")
	}
	if !c.SQSEnabled && !c.JetStreamActive() {
		return fmt.Errorf("no queue backend enabled: set BROKER_SQS_ENABLED or BROKER_NATS_URL")
	}
	if c.PublishMaxAttempts < 0 {
		return fmt.Errorf("BROKER_PUBLISH_MAX_ATTEMPTS must be >= 0, got %d", c.PublishMaxAttempts)
	}
	if c.PublishInitialBackoff <= 0 || c.PublishMaxBackoff < c.PublishInitialBackoff {
		return fmt.Errorf("publish backoff must satisfy 0 < initial (%s) <= max (%s)", c.PublishInitialBackoff, c.PublishMaxBackoff)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("BROKER_HEARTBEAT_INTERVAL must be positive")
	}
	if c.ArchiveInterval > 0 && c.ArchiveS3Bucket == "" {
		return fmt.Errorf("BROKER_ARCHIVE_INTERVAL is set but BROKER_ARCHIVE_S3_BUCKET is empty")
	}
	if c.ArchiveSettle < 0 {
		return fmt.Errorf("BROKER_ARCHIVE_SETTLE must be >= 0, got %s", c.ArchiveSettle)
	}
	return nil
}

// JetStreamActive reports whether the JetStream backend will be used.
func (c *Config) JetStreamActive() bool {
	return c.JetStreamEnabled && c.NATSURL != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
