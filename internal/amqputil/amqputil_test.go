package amqputil

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestTableCarrierGetSet(t *testing.T) {
	headers := amqp.Table{}
	c := tableCarrier(headers)

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("got %q, want %q", got, "00-abc-def-01")
	}
	if got := c.Get("missing"); got != "" {
		t.Fatalf("got %q for missing key, want empty", got)
	}
}

func TestTableCarrierGetIgnoresNonStringValues(t *testing.T) {
	headers := amqp.Table{"x-retry-count": int32(3)}
	c := tableCarrier(headers)

	if got := c.Get("x-retry-count"); got != "" {
		t.Fatalf("got %q for non-string header, want empty", got)
	}
}

func TestTableCarrierKeys(t *testing.T) {
	headers := amqp.Table{"a": "1", "b": "2"}
	c := tableCarrier(headers)

	keys := c.Keys()
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}

type testMessage struct {
	ProcessUUID string `json:"processUuid"`
	Total       int    `json:"total"`
}

func TestDecodeRoundTripsBodyWithEmptyHeaders(t *testing.T) {
	headers := amqp.Table{}
	ctx, orig, err := Decode[testMessage](amqp.Delivery{
		Body:    []byte(`{"processUuid":"proc-1","total":4}`),
		Headers: headers,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if orig.ProcessUUID != "proc-1" || orig.Total != 4 {
		t.Fatalf("got %+v, want processUuid=proc-1 total=4", orig)
	}
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestDecodeReportsMalformedBody(t *testing.T) {
	_, _, err := Decode[testMessage](amqp.Delivery{
		Body: []byte(`not json`),
	})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestDecodeHandlesNilHeaders(t *testing.T) {
	_, msg, err := Decode[testMessage](amqp.Delivery{
		Body: []byte(`{"processUuid":"proc-2","total":1}`),
	})
	if err != nil {
		t.Fatalf("decode with nil headers: %v", err)
	}
	if msg.ProcessUUID != "proc-2" {
		t.Fatalf("got %q, want proc-2", msg.ProcessUUID)
	}
}
