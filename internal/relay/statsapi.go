package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	transportpkg "github.com/drblury/relayflow/internal/relay/transport"
	newtransport "github.com/drblury/relayflow/transport"
)

// TransportStatus describes the transport leg of a stats snapshot.
// QueuePending is -1 when the backend cannot report a depth.
type TransportStatus struct {
	Name         string                    `json:"name"`
	Capabilities newtransport.Capabilities `json:"capabilities"`
	QueuePending int64                     `json:"queue_pending"`
}

// StatsSnapshot is the payload served by the stats API. A service populates
// both pipeline sections; a role that never ran reports zero counts.
type StatsSnapshot struct {
	Service     string          `json:"service"`
	Transport   TransportStatus `json:"transport"`
	Producer    *PipelineStats  `json:"producer,omitempty"`
	Consumer    *PipelineStats  `json:"consumer,omitempty"`
	CollectedAt string          `json:"collected_at"`
}

// Stats assembles a snapshot of the service at this moment. The pipeline
// sections marshal under their own locks, so callers may hold the result
// while the pipeline keeps running.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		Service: "relayflow",
		Transport: TransportStatus{
			Name:         s.Conf.Transport,
			Capabilities: transportpkg.Capabilities(s.Conf.Transport),
			QueuePending: s.queuePending(),
		},
		Producer:    s.producerStats,
		Consumer:    s.consumerStats,
		CollectedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// queuePending asks the queue subscriber for its backlog. Only transports
// implementing QueueIntrospector can answer; everything else reports -1.
func (s *Service) queuePending() int64 {
	introspector, ok := s.transport.QueueSubscriber.(newtransport.QueueIntrospector)
	if !ok {
		return -1
	}
	pending, err := introspector.GetPendingCount(s.Conf.IngestQueue)
	if err != nil {
		s.Logger.Error("Failed to read queue depth", err, loggingpkg.LogFields{"queue": s.Conf.IngestQueue})
		return -1
	}
	return pending
}

func (s *Service) startStatsAPI() {
	if !s.Conf.StatsEnabled {
		return
	}

	port := s.Conf.StatsPort
	if port == 0 {
		port = 8081
	}
	addr := fmt.Sprintf(":%d", port)

	s.RegisterHTTPHandler(addr, "/api/stats", http.HandlerFunc(s.handleGetStats))
	s.RegisterHTTPHandler(addr, "/healthz", http.HandlerFunc(healthzHandler))
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.applyCORS(w, r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.Stats()); err != nil {
		s.Logger.Error("Failed to encode stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// applyCORS writes the CORS response headers when an allowlist is
// configured and the request origin passes it. It reports whether the
// request was an OPTIONS preflight, which gets no body.
func (s *Service) applyCORS(w http.ResponseWriter, r *http.Request) (preflight bool) {
	if s.Conf != nil && len(s.Conf.StatsCORSAllowedOrigins) > 0 {
		if origin := s.corsOrigin(r.Header.Get("Origin")); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	return r.Method == http.MethodOptions
}

// corsOrigin picks the Access-Control-Allow-Origin value for a request
// origin. Origins compare case-insensitively; a "*" entry allows all.
func (s *Service) corsOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.StatsCORSAllowedOrigins {
		switch {
		case allowed == "*":
			return "*"
		case strings.EqualFold(allowed, requestOrigin):
			return requestOrigin
		}
	}
	return ""
}
