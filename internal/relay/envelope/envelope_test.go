package envelope

import (
	"errors"
	"sort"
	"testing"
	"time"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	"github.com/drblury/relayflow/internal/relay/jsoncodec"
)

var testTime = time.Date(2024, 6, 1, 12, 30, 0, 123456789, time.UTC)

func TestParseBodyAbsent(t *testing.T) {
	for _, data := range [][]byte{nil, {}, []byte("   \n\t ")} {
		body, err := ParseBody(data)
		if err != nil {
			t.Fatalf("ParseBody(%q) failed: %v", data, err)
		}
		if len(body) != 0 {
			t.Fatalf("expected empty body, got %#v", body)
		}
		if body == nil {
			t.Fatal("expected non-nil body map")
		}
	}
}

func TestParseBodyInvalidJSON(t *testing.T) {
	for _, data := range []string{"{invalid json", `{"message": }`, "not json at all"} {
		_, err := ParseBody([]byte(data))
		if err == nil {
			t.Fatalf("expected error for %q", data)
		}
		var malformed errspkg.MalformedInputError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedInputError, got %T", err)
		}
	}
}

func TestParseBodyNonObject(t *testing.T) {
	// Valid JSON that is not an object carries no keys; the missing message
	// field is reported downstream, not as malformed input.
	for _, data := range []string{"[1, 2, 3]", `"just a string"`, "42", "null", "true"} {
		body, err := ParseBody([]byte(data))
		if err != nil {
			t.Fatalf("ParseBody(%q) failed: %v", data, err)
		}
		if body.Has(FieldMessage) {
			t.Fatalf("non-object body should carry no keys, got %#v", body)
		}
	}
}

func TestParseBodyObject(t *testing.T) {
	body, err := ParseBody([]byte(`{"message": "hello", "priority": null, "extra": {"a": 1}}`))
	if err != nil {
		t.Fatalf("ParseBody failed: %v", err)
	}

	if !body.Has(FieldMessage) {
		t.Fatal("expected message key")
	}
	if string(body.Raw(FieldMessage)) != `"hello"` {
		t.Fatalf("unexpected raw message: %s", body.Raw(FieldMessage))
	}
	if !body.Has(FieldPriority) {
		t.Fatal("present-but-null priority should count as present")
	}
	if string(body.Raw(FieldPriority)) != "null" {
		t.Fatalf("expected raw null, got %s", body.Raw(FieldPriority))
	}
	if body.Has(FieldCategory) {
		t.Fatal("absent category should not be present")
	}
	if body.Raw(FieldCategory) != nil {
		t.Fatal("Raw of absent key should be nil")
	}
}

func TestParseObjectRejectsNonObjects(t *testing.T) {
	for _, data := range []string{"", "   ", "[1, 2]", `"text"`, "7", "null"} {
		_, err := ParseObject([]byte(data))
		if err == nil {
			t.Fatalf("expected error for %q", data)
		}
		var malformed errspkg.MalformedInputError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedInputError for %q, got %T", data, err)
		}
	}

	_, err := ParseObject([]byte("[1, 2]"))
	if !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject cause, got %v", err)
	}
}

func TestParseObjectInvalidJSON(t *testing.T) {
	_, err := ParseObject([]byte("{broken"))
	var malformed errspkg.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %T", err)
	}
	if errors.Is(err, ErrNotObject) {
		t.Fatal("decode failure should carry the decoder error, not ErrNotObject")
	}
}

func TestParseObjectAccepts(t *testing.T) {
	body, err := ParseObject([]byte(`{"message": "queued"}`))
	if err != nil {
		t.Fatalf("ParseObject failed: %v", err)
	}
	if string(body.Raw(FieldMessage)) != `"queued"` {
		t.Fatalf("unexpected message: %s", body.Raw(FieldMessage))
	}
}

func TestNewRequiresMessage(t *testing.T) {
	_, err := New(Body{}, "req-1", "test", testTime)
	var missing errspkg.MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %T", err)
	}
	if missing.Field != FieldMessage {
		t.Fatalf("Field = %q, want %q", missing.Field, FieldMessage)
	}
}

func TestNewExactKeySet(t *testing.T) {
	body, err := ParseBody([]byte(`{"message": "hello"}`))
	if err != nil {
		t.Fatalf("ParseBody failed: %v", err)
	}

	env, err := New(body, "req-42", "http-ingest", testTime)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	keys := envelopeKeys(t, env)
	want := []string{"message", "request_id", "source", "timestamp"}
	if len(keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
}

func TestNewCarriesOptionalFieldsVerbatim(t *testing.T) {
	body, err := ParseBody([]byte(`{"message": {"nested": true}, "priority": 5, "category": null}`))
	if err != nil {
		t.Fatalf("ParseBody failed: %v", err)
	}

	env, err := New(body, "req-7", "http-ingest", testTime)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	keys := envelopeKeys(t, env)
	want := []string{"category", "message", "priority", "request_id", "source", "timestamp"}
	if len(keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var round map[string]any
	if err := jsoncodec.Unmarshal(data, &round); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if round["priority"].(float64) != 5 {
		t.Fatalf("priority not carried verbatim: %v", round["priority"])
	}
	if v, ok := round["category"]; !ok || v != nil {
		t.Fatalf("present-but-null category must stay null, got %v present=%v", v, ok)
	}
	nested, ok := round["message"].(map[string]any)
	if !ok || nested["nested"] != true {
		t.Fatalf("message not carried verbatim: %v", round["message"])
	}
}

func TestNewAssignsTimestampAndIdentity(t *testing.T) {
	body, _ := ParseBody([]byte(`{"message": "x"}`))
	env, err := New(body, "req-9", "http-ingest", testTime)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if env.RequestID != "req-9" {
		t.Fatalf("RequestID = %q", env.RequestID)
	}
	if env.Source != "http-ingest" {
		t.Fatalf("Source = %q", env.Source)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		t.Fatalf("timestamp not RFC3339Nano: %v", err)
	}
	if !parsed.Equal(testTime) {
		t.Fatalf("timestamp = %v, want %v", parsed, testTime)
	}
}

func envelopeKeys(t *testing.T, env Envelope) []string {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var m map[string]any
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
