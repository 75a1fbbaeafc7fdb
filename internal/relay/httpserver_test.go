package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
)

func TestIngestRouterAcceptsSubmission(t *testing.T) {
	pub := &capturePublisher{}
	producer := newTestProducer(t, ProducerConfig{Publisher: pub})
	router := newIngestRouter(producer, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"message": "hello"}`))
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var ack Ack
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "Message sent successfully", ack.Message)
	assert.NotEmpty(t, ack.MessageID)
	assert.NotEmpty(t, ack.Timestamp)

	msgs := pub.Messages("relay.queue")
	require.Len(t, msgs, 1)
	var payload map[string]any
	require.NoError(t, jsoncodec.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "req-42", payload["request_id"], "request id comes from the X-Request-Id header")
}

func TestIngestRouterGeneratesRequestID(t *testing.T) {
	pub := &capturePublisher{}
	producer := newTestProducer(t, ProducerConfig{Publisher: pub})
	router := newIngestRouter(producer, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"message": "hello"}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgs := pub.Messages("relay.queue")
	require.Len(t, msgs, 1)
	var payload map[string]any
	require.NoError(t, jsoncodec.Unmarshal(msgs[0].Payload, &payload))
	id, _ := payload["request_id"].(string)
	assert.NotEmpty(t, id, "a request without the header still gets a correlation id")
}

func TestIngestRouterRejections(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "malformed JSON", body: `{"message": `, wantErr: "Invalid JSON in request body"},
		{name: "missing message key", body: `{"priority": 1}`, wantErr: "Missing required field: message"},
		{name: "empty body", body: "", wantErr: "Missing required field: message"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &capturePublisher{}
			producer := newTestProducer(t, ProducerConfig{Publisher: pub})
			router := newIngestRouter(producer, newTestLogger())

			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorBody
			require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantErr, body.Error)
			assert.Empty(t, pub.Topics(), "a rejected submission must not reach the queue")
		})
	}
}

func TestIngestRouterPreflight(t *testing.T) {
	producer := newTestProducer(t, ProducerConfig{})
	router := newIngestRouter(producer, newTestLogger())

	req := httptest.NewRequest(http.MethodOptions, "/messages", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, X-Request-Id", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestIngestRouterHealthz(t *testing.T) {
	producer := newTestProducer(t, ProducerConfig{})
	router := newIngestRouter(producer, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestIngestRouterMethodNotAllowed(t *testing.T) {
	producer := newTestProducer(t, ProducerConfig{})
	router := newIngestRouter(producer, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
