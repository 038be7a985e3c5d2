// Package amqputil provides typed AMQP publish/consume helpers with
// OpenTelemetry trace propagation, replaying the shape of pkg/natsutil's
// generic Publish/Subscribe over amqp091-go's Channel/Delivery instead of
// *nats.Conn/*nats.Msg (spec §4.8).
package amqputil

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// tableCarrier adapts an amqp.Table for OTel's TextMapCarrier.
type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c tableCarrier) Set(key, val string) {
	c[key] = val
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the slice of *amqp.Channel that Publish needs, narrowed so
// callers can substitute a fake in tests.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publish JSON-encodes v and publishes it to exchange/routingKey, injecting
// ctx's trace context into the message headers.
func Publish[T any](ctx context.Context, ch Publisher, exchange, routingKey string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
		Headers:     headers,
	})
}

// Decode extracts ctx's trace context from d's headers and JSON-decodes its
// body into T. Malformed bodies are reported as an error, not dropped —
// callers decide whether a parse failure is fatal to the message (spec §4.8
// step 1: "parse failure -> log and negatively complete the message").
func Decode[T any](d amqp.Delivery) (context.Context, T, error) {
	var v T
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), tableCarrier(d.Headers))
	err := json.Unmarshal(d.Body, &v)
	return ctx, v, err
}
