package relayflow

import (
	relaypkg "github.com/drblury/relayflow/internal/relay"
	configpkg "github.com/drblury/relayflow/internal/relay/config"
	envelopepkg "github.com/drblury/relayflow/internal/relay/envelope"
	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	idspkg "github.com/drblury/relayflow/internal/relay/ids"
	jsoncodec "github.com/drblury/relayflow/internal/relay/jsoncodec"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	metadatapkg "github.com/drblury/relayflow/internal/relay/metadata"
	recordpkg "github.com/drblury/relayflow/internal/relay/record"
	transportpkg "github.com/drblury/relayflow/internal/relay/transport"
	newtransport "github.com/drblury/relayflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = relaypkg.Service
	ServiceDependencies = relaypkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	Producer        = relaypkg.Producer
	ProducerConfig  = relaypkg.ProducerConfig
	Processor       = relaypkg.Processor
	ProcessorConfig = relaypkg.ProcessorConfig
	Runner          = relaypkg.Runner
	RunnerConfig    = relaypkg.RunnerConfig
	BatchProcessor  = relaypkg.BatchProcessor

	// Producer contract
	Request  = relaypkg.Request
	Response = relaypkg.Response
	Ack      = relaypkg.Ack

	// Consumer contract
	QueueRecord      = relaypkg.QueueRecord
	BatchEvent       = relaypkg.BatchEvent
	BatchResult      = relaypkg.BatchResult
	BatchResponse    = relaypkg.BatchResponse
	ProcessedMessage = relaypkg.ProcessedMessage
	FailedMessage    = relaypkg.FailedMessage

	// Wire formats
	Body         = envelopepkg.Body
	Envelope     = envelopepkg.Envelope
	Record       = recordpkg.Record
	Notification = recordpkg.Notification

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	MalformedInputError   = errspkg.MalformedInputError
	MissingFieldError     = errspkg.MissingFieldError
	SubmissionError       = errspkg.SubmissionError

	// Pipeline lifecycle hooks
	ItemContext  = relaypkg.ItemContext
	BatchContext = relaypkg.BatchContext
	Hooks        = relaypkg.Hooks

	// Stats and metrics
	PipelineStats   = relaypkg.PipelineStats
	StatsSnapshot   = relaypkg.StatsSnapshot
	TransportStatus = relaypkg.TransportStatus
	Metrics         = relaypkg.Metrics
	MetricsSnapshot = relaypkg.MetricsSnapshot

	// Error triage
	ErrorClassifier = relaypkg.ErrorClassifier
	ErrorCategory   = relaypkg.ErrorCategory

	// Modular transport types
	TransportBuilder         = newtransport.Builder
	TransportConfig          = newtransport.Config
	TransportRegistry        = newtransport.Registry
	Capabilities             = newtransport.Capabilities
	TransportQueueIntrospect = newtransport.QueueIntrospector
)

var (
	NewService     = relaypkg.NewService
	FromEnv        = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewProducer    = relaypkg.NewProducer
	NewProcessor   = relaypkg.NewProcessor
	NewRunner      = relaypkg.NewRunner
	NewBatchResult = relaypkg.NewBatchResult

	// Envelope and record construction
	ParseBody   = envelopepkg.ParseBody
	ParseObject = envelopepkg.ParseObject
	NewEnvelope = envelopepkg.New
	BuildRecord = recordpkg.Build

	// Pipeline lifecycle hooks
	LoggingHooks  = relaypkg.LoggingHooks
	MetricsHooks  = relaypkg.MetricsHooks
	AlertingHooks = relaypkg.AlertingHooks

	// Prometheus metrics
	NewMetrics = relaypkg.NewMetrics

	// Modular transport registry
	// Import individual transports via: _ "github.com/drblury/relayflow/transport/kafka"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = transportpkg.Capabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrQueueRequired      = errspkg.ErrQueueRequired
	ErrProcessorRequired  = errspkg.ErrProcessorRequired

	NewMalformedInputError = errspkg.NewMalformedInputError
	NewMissingFieldError   = errspkg.NewMissingFieldError
	NewSubmissionError     = errspkg.NewSubmissionError

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Keys for the standard metadata fields every message carries.
const (
	MetadataKeyRequestID      = metadatapkg.KeyRequestID
	MetadataKeyTimestamp      = metadatapkg.KeyTimestamp
	MetadataKeyMessageID      = metadatapkg.KeyMessageID
	MetadataKeyProcessingTime = metadatapkg.KeyProcessingTime
)

// Per-item status values carried in batch results.
const (
	StatusSuccess = relaypkg.StatusSuccess
	StatusFailed  = relaypkg.StatusFailed
)

// Batch flush triggers reported to hooks and metrics.
const (
	FlushSize     = relaypkg.FlushSize
	FlushInterval = relaypkg.FlushInterval
	FlushDrain    = relaypkg.FlushDrain
)

// Categories an ErrorClassifier sorts failures into.
const (
	ErrorCategoryNone       = relaypkg.ErrorCategoryNone
	ErrorCategoryValidation = relaypkg.ErrorCategoryValidation
	ErrorCategoryTransport  = relaypkg.ErrorCategoryTransport
	ErrorCategoryDownstream = relaypkg.ErrorCategoryDownstream
	ErrorCategoryOther      = relaypkg.ErrorCategoryOther
)

// Pipeline roles reported in stats snapshots.
const (
	RoleProducer = relaypkg.RoleProducer
	RoleConsumer = relaypkg.RoleConsumer
)

// Defaults applied when the corresponding configuration is left empty.
const (
	DefaultSource             = relaypkg.DefaultSource
	DefaultBatchSize          = relaypkg.DefaultBatchSize
	DefaultBatchFlushInterval = relaypkg.DefaultBatchFlushInterval
)
