package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config groups the settings required to run the relay pipeline. Each
// transport only uses the keys that are relevant to it. Values are read once
// at process start; nothing re-reads the environment afterwards.
type Config struct {
	// Transport selects the backing message infrastructure. Supported values:
	// "aws" (SQS/SNS), "kafka", "rabbitmq", "nats", "nats-jetstream", "http",
	// "io", "sqlite", "postgres", or "channel" (in-process, for tests and
	// demos).
	Transport string `env:"RELAY_TRANSPORT" env-default:"channel"`

	// IngestQueue is the durable queue topic the producer submits envelopes to
	// and the consumer drains. No default: deployments must name it.
	IngestQueue string `env:"RELAY_INGEST_QUEUE"`

	// FanoutTopic is the notification topic processed records are published to.
	FanoutTopic string `env:"RELAY_FANOUT_TOPIC"`

	// SourceTag overrides the envelope source field. Empty selects the
	// producer default.
	SourceTag string `env:"RELAY_SOURCE_TAG"`

	// HTTPListenAddress is the bind address of the producer ingest API.
	HTTPListenAddress string `env:"RELAY_HTTP_ADDR" env-default:":8080"`

	// Consumer batching. A batch is handed to the processor when it reaches
	// BatchSize or when BatchFlushInterval elapses with items pending.
	BatchSize          int           `env:"RELAY_BATCH_SIZE" env-default:"10"`
	BatchFlushInterval time.Duration `env:"RELAY_BATCH_FLUSH_INTERVAL" env-default:"1s"`

	// Kafka brokers and consumer group.
	KafkaBrokers       []string `env:"RELAY_KAFKA_BROKERS" env-separator:","`
	KafkaConsumerGroup string   `env:"RELAY_KAFKA_CONSUMER_GROUP"`

	// RabbitMQ connection.
	RabbitMQURL string `env:"RELAY_RABBITMQ_URL"`

	// NATS configuration (core and JetStream).
	NATSURL         string `env:"RELAY_NATS_URL"`
	JetStreamStream string `env:"RELAY_JETSTREAM_STREAM"`

	// HTTP transport configuration.
	// HTTPServerAddress is where the webhook subscriber listens.
	HTTPServerAddress string `env:"RELAY_HTTP_TRANSPORT_ADDR"`
	// HTTPPublisherURL is the base URL the webhook publisher posts to.
	HTTPPublisherURL string `env:"RELAY_HTTP_PUBLISHER_URL"`

	// I/O transport configuration.
	// IOFile is the path to the NDJSON file used for persistence.
	IOFile string `env:"RELAY_IO_FILE"`

	// SQLite transport configuration.
	// SQLiteFile locates the queue database on disk.
	SQLiteFile string `env:"RELAY_SQLITE_FILE"`

	// PostgreSQL transport configuration.
	// PostgresURL is the connection string for the queue database.
	PostgresURL string `env:"RELAY_POSTGRES_URL"`

	// AWS (SQS/SNS) configuration.
	AWSRegion          string `env:"AWS_REGION"`
	AWSAccountID       string `env:"RELAY_AWS_ACCOUNT_ID"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	// AWSEndpoint optionally points to a custom endpoint (for example,
	// LocalStack in local development).
	AWSEndpoint string `env:"AWS_ENDPOINT_URL"`

	// Prometheus metrics endpoint.
	MetricsEnabled bool `env:"RELAY_METRICS_ENABLED" env-default:"true"`
	// MetricsPort is where the metrics handler listens.
	MetricsPort int `env:"RELAY_METRICS_PORT" env-default:"9090"`

	// Stats configuration.
	StatsEnabled bool `env:"RELAY_STATS_ENABLED"`
	// StatsPort is the port where the stats API will be exposed. Defaults to 8081.
	StatsPort int `env:"RELAY_STATS_PORT"`
	// StatsCORSAllowedOrigins specifies allowed origins for the stats API. Use
	// "*" for development or specific origins for production. Empty disables
	// CORS headers.
	StatsCORSAllowedOrigins []string `env:"RELAY_STATS_CORS_ORIGINS" env-separator:","`
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// The getters below satisfy transport.Config.
func (c *Config) GetTransport() string          { return c.Transport }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetJetStreamStream() string    { return c.JetStreamStream }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetIOFile() string             { return c.IOFile }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string        { return c.PostgresURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// maskValue replaces secret values in log output.
const maskValue = "***REDACTED***"

// String renders the config for startup logs. Secrets are masked on a
// copy; the receiver keeps the real values.
func (c Config) String() string {
	masked := c
	for _, secret := range []*string{&masked.AWSAccessKeyID, &masked.AWSSecretAccessKey} {
		if *secret != "" {
			*secret = maskValue
		}
	}
	// Connection URLs can embed credentials too.
	for _, conn := range []*string{&masked.RabbitMQURL, &masked.NATSURL, &masked.PostgresURL} {
		if *conn != "" {
			*conn = redactURLCredentials(*conn)
		}
	}
	// plain drops the String method so Sprintf does not recurse.
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}

// redactURLCredentials masks the password of a user:pass@host URL in place. Input
// that does not parse is masked whole, it could hold credentials anywhere.
func redactURLCredentials(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "***REDACTED_URL***"
	}
	if user := parsed.User; user != nil {
		if _, hasPassword := user.Password(); hasPassword {
			parsed.User = url.UserPassword(user.Username(), maskValue)
		}
	}
	return parsed.String()
}

// Validate checks the pipeline topics and the fields the selected
// transport cannot run without. All findings are reported at once, not
// just the first. Unknown transport names pass; custom factories carry
// their own requirements.
func (c *Config) Validate() error {
	return errors.Join(slices.Concat(
		c.validatePipeline(),
		c.validateTransport(),
		c.validateBatching(),
		c.validatePorts(),
	)...)
}

// validatePipeline checks the queue and topic names every deployment needs.
func (c *Config) validatePipeline() []error {
	var errs []error
	if c.IngestQueue == "" {
		errs = append(errs, errors.New("pipeline: ingest queue is required"))
	}
	if c.FanoutTopic == "" {
		errs = append(errs, errors.New("pipeline: fanout topic is required"))
	}
	return errs
}

// validateTransport checks the fields the selected backend cannot run
// without. http, io, sqlite, channel and unregistered names need nothing
// beyond their defaults.
func (c *Config) validateTransport() []error {
	var missing error
	switch strings.ToLower(c.Transport) {
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			missing = errors.New("kafka: at least one broker is required")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			missing = errors.New("rabbitmq: connection URL is required")
		}
	case "nats", "nats-jetstream":
		if c.NATSURL == "" {
			missing = errors.New("nats: server URL is required")
		}
	case "postgres", "postgresql":
		if c.PostgresURL == "" {
			missing = errors.New("postgres: connection string is required")
		}
	case "aws":
		if c.AWSRegion == "" {
			missing = errors.New("aws: region is required")
		}
	}
	if missing != nil {
		return []error{missing}
	}
	return nil
}

// validateBatching checks consumer batch tuning values.
func (c *Config) validateBatching() []error {
	var errs []error
	if c.BatchSize < 0 {
		errs = append(errs, errors.New("batch: size cannot be negative"))
	}
	if c.BatchFlushInterval < 0 {
		errs = append(errs, errors.New("batch: flush interval cannot be negative"))
	}
	return errs
}

// validatePorts bounds the listen ports. Zero is allowed and means an
// ephemeral port.
func (c *Config) validatePorts() []error {
	var errs []error
	for name, port := range map[string]int{"metrics": c.MetricsPort, "stats": c.StatsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: invalid port %d", name, port))
		}
	}
	return errs
}

// ValidateConfig guards against a nil pointer before delegating to
// Validate.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	return c.Validate()
}
