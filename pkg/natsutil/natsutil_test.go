package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{Subject: "t"}
	c := (*headerCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("empty carrier Get = %q", got)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestAttemptHeader(t *testing.T) {
	msg := &nats.Msg{Header: nats.Header{}}
	if got := Attempt(msg); got != 0 {
		t.Fatalf("missing header attempt = %d", got)
	}
	msg.Header.Set(AttemptHeader, "3")
	if got := Attempt(msg); got != 3 {
		t.Fatalf("attempt = %d", got)
	}
	msg.Header.Set(AttemptHeader, "junk")
	if got := Attempt(msg); got != 0 {
		t.Fatalf("junk attempt = %d", got)
	}
}
