// Package aws provides an AWS SQS/SNS transport for relayflow.
//
// The durable queue legs ride SQS: the producer publishes to a queue and
// the consumer receives from it. The fan-out leg publishes processed
// records to an SNS topic so every subscribed channel receives them.
// A custom endpoint (LocalStack) can be configured for local development.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "aws"

const (
	// localstackAccountID is the all-zero account LocalStack accepts.
	localstackAccountID = "000000000000"

	awsAccountIDLength = 12
)

// Factory seams. Tests swap these to run without AWS or a credential chain.
var (
	DefaultConfigLoader    = awsconfig.LoadDefaultConfig
	TopicResolverFactory   = sns.NewGenerateArnTopicResolver
	QueuePublisherFactory  = newQueuePublisher
	QueueSubscriberFactory = newQueueSubscriber
	FanoutPublisherFactory = newTopicPublisher
)

func newQueuePublisher(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sqs.NewPublisher(cfg, logger)
}

func newQueueSubscriber(cfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sqs.NewSubscriber(cfg, logger)
}

func newTopicPublisher(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Build creates a new AWS SQS/SNS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	overrides, err := newEndpointOverrides(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	logger.Info("AWS clients configured", watermill.LogFields{
		"region":          awsCfg.Region,
		"custom_endpoint": overrides.active(),
	})

	queuePub, err := QueuePublisherFactory(sqs.PublisherConfig{
		AWSConfig: awsCfg,
		OptFns:    overrides.sqs,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	queueSub, err := QueueSubscriberFactory(sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    overrides.sqs,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	fanoutPub, err := newFanoutPublisher(cfg, awsCfg, overrides, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		QueuePublisher:  queuePub,
		QueueSubscriber: queueSub,
		FanoutPublisher: fanoutPub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func loadAWSConfig(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"requested_region": region})
		return aws.Config{}, err
	}

	// Some loader setups ignore options; pin the region when configured.
	if region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// endpointOverrides points the SNS and SQS clients at a custom endpoint
// such as LocalStack. Both option sets stay nil when no endpoint is
// configured, which leaves the clients on the real AWS endpoints.
type endpointOverrides struct {
	sns []func(*amazonsns.Options)
	sqs []func(*amazonsqs.Options)
}

func (o endpointOverrides) active() bool { return o.sns != nil }

func newEndpointOverrides(cfg transport.Config) (endpointOverrides, error) {
	raw := cfg.GetAWSEndpoint()
	if raw == "" {
		return endpointOverrides{}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpointOverrides{}, fmt.Errorf("parse AWS endpoint: %w", err)
	}

	endpoint := smithyendpoints.Endpoint{URI: *u}
	return endpointOverrides{
		sns: []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: endpoint}),
		},
		sqs: []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: endpoint}),
		},
	}, nil
}

func newFanoutPublisher(cfg transport.Config, awsCfg aws.Config, overrides endpointOverrides, logger watermill.LoggerAdapter) (message.Publisher, error) {
	account := fanoutAccountID(cfg, overrides.active(), logger)

	resolver, err := TopicResolverFactory(account, awsCfg.Region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": account,
			"region":    awsCfg.Region,
		})
		return nil, err
	}

	logger.Info("Create SNS fan-out publisher", watermill.LogFields{
		"accountID": account,
		"region":    awsCfg.Region,
	})

	return FanoutPublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
		OptFns:        overrides.sns,
	}, logger)
}

// fanoutAccountID picks the account id used to build topic ARNs. LocalStack
// accepts only its well-known account, so a missing or malformed id falls
// back to it whenever a custom endpoint is in play.
func fanoutAccountID(cfg transport.Config, customEndpoint bool, logger watermill.LoggerAdapter) string {
	account := strings.Trim(cfg.GetAWSAccountID(), `"' `)
	if customEndpoint && len(account) != awsAccountIDLength {
		if account != "" {
			logger.Info("Malformed AWS account ID; using LocalStack default", watermill.LogFields{"accountID": account})
		}
		return localstackAccountID
	}
	return account
}
