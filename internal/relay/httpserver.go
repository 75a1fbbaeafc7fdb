package relay

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
)

// newIngestRouter mounts the submission endpoint and a liveness probe.
// Request ids arrive via the X-Request-Id header or are minted by the
// middleware, so every envelope gets a correlation id either way.
func newIngestRouter(producer *Producer, logger loggingpkg.ServiceLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Post("/messages", submitHandler(producer, logger))
	r.Options("/messages", preflightHandler)
	r.Get("/healthz", healthzHandler)

	return r
}

// submitHandler adapts HTTP requests to Producer.Accept. The producer's
// response already carries the full header and body contract; the handler
// only transcribes it.
func submitHandler(producer *Producer, logger loggingpkg.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeProducerResponse(w, logger, errorResponse(http.StatusBadRequest, errBodyMalformed))
			return
		}

		resp := producer.Accept(r.Context(), Request{
			Body:      body,
			RequestID: chimiddleware.GetReqID(r.Context()),
		})
		writeProducerResponse(w, logger, resp)
	}
}

// writeProducerResponse transcribes a producer verdict. Headers are written
// verbatim, so the body encoder must not add its own.
func writeProducerResponse(w http.ResponseWriter, logger loggingpkg.ServiceLogger, resp Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil {
		return
	}
	if err := jsoncodec.Encode(w, resp.Body); err != nil && logger != nil {
		logger.Error("Failed to write response body", err, nil)
	}
}

func preflightHandler(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
	w.WriteHeader(http.StatusNoContent)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
