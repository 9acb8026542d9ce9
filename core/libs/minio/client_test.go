package mio

import (
	"context"
	"testing"
	"time"
)

func TestRetryBackoff(t *testing.T) {
	r := RetryConfig{MaxInterval: 5 * time.Second}.withDefaults()
	if r.MaxRetries != 5 || r.InitialInterval != time.Second {
		t.Fatalf("defaults = %+v", r)
	}

	d := r.InitialInterval
	var got []time.Duration
	for range 4 {
		d = r.next(d)
		got = append(got, d)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff = %v, want %v", got, want)
		}
	}
}

func TestNewClient_RequiresEndpointAndBucket(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := NewClient(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
