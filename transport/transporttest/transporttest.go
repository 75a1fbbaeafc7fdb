// Package transporttest provides stub implementations of the transport
// seams for backend tests.
package transporttest

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// Config satisfies transport.Config with plain fields, so backend tests
// state only the keys they exercise.
type Config struct {
	Transport          string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	JetStreamStream    string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	IOFile             string
	SQLiteFile         string
	PostgresURL        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

var _ transport.Config = Config{}

func (c Config) GetTransport() string          { return c.Transport }
func (c Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c Config) GetNATSURL() string            { return c.NATSURL }
func (c Config) GetJetStreamStream() string    { return c.JetStreamStream }
func (c Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c Config) GetIOFile() string             { return c.IOFile }
func (c Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c Config) GetPostgresURL() string        { return c.PostgresURL }
func (c Config) GetAWSRegion() string          { return c.AWSRegion }
func (c Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher is an inert message.Publisher. Label keeps instances
// distinct so identity assertions stay meaningful.
type Publisher struct {
	Label string
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error { return nil }

func (p *Publisher) Close() error { return nil }

// Subscriber is a message.Subscriber whose channel never delivers.
type Subscriber struct {
	Label string
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (s *Subscriber) Close() error { return nil }
