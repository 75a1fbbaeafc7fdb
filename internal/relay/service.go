package relay

import (
	"context"
	sterrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/relayflow/internal/relay/config"
	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	transportpkg "github.com/drblury/relayflow/internal/relay/transport"
)

const shutdownGrace = 5 * time.Second

// ServiceDependencies carries the optional collaborators a Service accepts.
// Leave fields nil (or zero) to get the built-in behavior.
type ServiceDependencies struct {
	TransportFactory  transportpkg.Factory
	ErrorClassifier   ErrorClassifier
	Hooks             Hooks
	MetricsRegisterer prometheus.Registerer // Defaults to prometheus.DefaultRegisterer.
	Clock             func() time.Time
}

// Service wires the transport trio, producer, processor, and batch runner into
// one deployable unit. A producer daemon calls StartProducer, a consumer
// daemon StartConsumer, and a single-process deployment Start. The embedded
// collaborators are also usable directly via the accessors.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport transportpkg.Transport

	producer  *Producer
	processor *Processor
	runner    *Runner

	producerStats *PipelineStats
	consumerStats *PipelineStats
	metrics       *Metrics

	errorClassifier ErrorClassifier
	processGauge    *processGauge

	httpServers   map[string]*http.ServeMux
	httpPatterns  map[string]map[string]bool
	httpServed    map[string]bool
	running       []*http.Server
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. The
// transport is connected here; a service that constructs without error is
// ready to accept submissions and to start either role.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating relay service",
		loggingpkg.LogFields{
			"transport": conf.Transport,
			"config":    conf,
		})

	s := &Service{
		Conf:         conf,
		Logger:       log,
		processGauge: newProcessGauge(),
	}

	s.errorClassifier = deps.ErrorClassifier
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := transportpkg.DefaultFactory()
	if deps.TransportFactory != nil {
		factory = deps.TransportFactory
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport %q: %w", conf.Transport, err)
	}
	s.transport = tr

	s.producerStats = newPipelineStats(RoleProducer, s.processGauge)
	s.consumerStats = newPipelineStats(RoleConsumer, s.processGauge)

	if conf.MetricsEnabled {
		s.metrics = NewMetrics(deps.MetricsRegisterer)
		if err := s.metrics.Register(); err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	producer, err := NewProducer(ProducerConfig{
		Publisher:  tr.QueuePublisher,
		Queue:      conf.IngestQueue,
		Source:     conf.SourceTag,
		Logger:     log,
		Clock:      deps.Clock,
		Stats:      s.producerStats,
		Hooks:      deps.Hooks,
		Metrics:    s.metrics,
		Classifier: s.errorClassifier,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s.producer = producer

	processor, err := NewProcessor(ProcessorConfig{
		Publisher:  tr.FanoutPublisher,
		Topic:      conf.FanoutTopic,
		Logger:     log,
		Clock:      deps.Clock,
		Stats:      s.consumerStats,
		Hooks:      deps.Hooks,
		Metrics:    s.metrics,
		Classifier: s.errorClassifier,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s.processor = processor

	runner, err := NewRunner(RunnerConfig{
		Subscriber:    tr.QueueSubscriber,
		Queue:         conf.IngestQueue,
		Processor:     processor,
		BatchSize:     conf.BatchSize,
		FlushInterval: conf.BatchFlushInterval,
		Logger:        log,
		Stats:         s.consumerStats,
		Hooks:         deps.Hooks,
		Metrics:       s.metrics,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s.runner = runner

	return s, nil
}

// Producer returns the submission front of the pipeline.
func (s *Service) Producer() *Producer { return s.producer }

// Processor returns the batch processor of the pipeline.
func (s *Service) Processor() *Processor { return s.processor }

// Transport returns the connected transport trio.
func (s *Service) Transport() transportpkg.Transport { return s.transport }

// Metrics returns the Prometheus instruments, or nil when metrics are disabled.
func (s *Service) Metrics() *Metrics { return s.metrics }

// StartProducer serves the ingest API and the ops endpoints until the context
// is cancelled. The consumer loop is not started.
func (s *Service) StartProducer(ctx context.Context) error {
	s.mountIngestAPI()
	s.startMetricsServer()
	s.startStatsAPI()
	s.startHTTPServers()
	<-ctx.Done()
	return nil
}

// StartConsumer runs the batch runner and the ops endpoints until the context
// is cancelled or the queue subscription closes.
func (s *Service) StartConsumer(ctx context.Context) error {
	s.startMetricsServer()
	s.startStatsAPI()
	s.startHTTPServers()
	return s.runner.Run(ctx)
}

// Start runs both roles in one process: the ingest API, the ops endpoints,
// and the batch runner.
func (s *Service) Start(ctx context.Context) error {
	s.mountIngestAPI()
	s.startMetricsServer()
	s.startStatsAPI()
	s.startHTTPServers()
	return s.runner.Run(ctx)
}

// Close shuts down the HTTP listeners and closes the transport. Call it once,
// after the Start call has returned.
func (s *Service) Close() error {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	var errs []error
	for _, srv := range servers {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
		cancel()
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	return sterrors.Join(errs...)
}

func (s *Service) mountIngestAPI() {
	if s.Conf.HTTPListenAddress == "" {
		return
	}
	s.RegisterHTTPHandler(s.Conf.HTTPListenAddress, "/", newIngestRouter(s.producer, s.Logger))
}

func (s *Service) startMetricsServer() {
	if s.metrics == nil || s.Conf.MetricsPort <= 0 {
		return
	}
	addr := fmt.Sprintf(":%d", s.Conf.MetricsPort)
	s.RegisterHTTPHandler(addr, "/metrics", s.metrics.Handler())
	s.RegisterHTTPHandler(addr, "/healthz", http.HandlerFunc(healthzHandler))
}

// RegisterHTTPHandler mounts a handler on the mux for the given listen
// address. Registering the same pattern twice on one address is a no-op, so
// the ops surfaces may share a port.
func (s *Service) RegisterHTTPHandler(addr string, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[string]*http.ServeMux)
		s.httpPatterns = make(map[string]map[string]bool)
	}

	mux, ok := s.httpServers[addr]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[addr] = mux
		s.httpPatterns[addr] = make(map[string]bool)
	}

	if s.httpPatterns[addr][pattern] {
		return
	}
	s.httpPatterns[addr][pattern] = true

	mux.Handle(pattern, handler)
}

// startHTTPServers starts one server per registered address. Addresses that
// are already serving are skipped, so repeated Start calls are safe.
func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServed == nil {
		s.httpServed = make(map[string]bool)
	}

	for addr, mux := range s.httpServers {
		if s.httpServed[addr] {
			continue
		}
		s.httpServed[addr] = true

		srv := &http.Server{Addr: addr, Handler: mux}
		s.running = append(s.running, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !sterrors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}
