// Package natsutil provides typed JSON publish/subscribe/request helpers
// over NATS with OpenTelemetry trace propagation and retry headers for
// queue consumers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// AttemptHeader counts redelivery attempts on re-published messages.
const AttemptHeader = "X-Attempt"

// headerCarrier adapts nats.Msg headers to the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func marshalMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it with trace context in the
// message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := marshalMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Republish re-publishes a payload with an incremented attempt counter.
// Consumers use it to push failed work back onto the subject.
func Republish[T any](ctx context.Context, nc *nats.Conn, subject string, v T, attempt int) error {
	msg, err := marshalMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	msg.Header.Set(AttemptHeader, strconv.Itoa(attempt))
	return nc.PublishMsg(msg)
}

// Attempt reads the redelivery counter from a message, 0 when absent.
func Attempt(msg *nats.Msg) int {
	n, err := strconv.Atoi(msg.Header.Get(AttemptHeader))
	if err != nil {
		return 0
	}
	return n
}

// Subscribe registers a JSON-typed handler. Trace context is extracted
// from message headers; malformed payloads are dropped. The raw message is
// passed alongside the decoded value so handlers can read headers.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	})
}

// QueueSubscribe is Subscribe with a queue group, for competing consumers.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	})
}

// Request sends a JSON request and decodes the JSON reply, using
// nats.DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := marshalMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	resp, err := nc.RequestMsg(msg, nats.DefaultTimeout)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	var out Resp
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply %s: %w", subject, err)
	}
	return out, nil
}
