package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]TaskStatus{
		"SUCCESS":     StatusSuccess,
		"completed":   StatusSuccess,
		"FINISHED":    StatusSuccess,
		" Finished ":  StatusSuccess,
		"failure":     StatusFailure,
		"FAILED":      StatusFailure,
		"error":       StatusFailure,
		"PROCESSING":  StatusProcessing,
		"running":     StatusProcessing,
		"":            StatusPending,
		"queued":      StatusPending,
		"NOT_STARTED": StatusPending,
		"PENDING":     StatusPending,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseProgress(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10%", 10, true},
		{" 60 % ", 60, true},
		{"100", 100, true},
		{"0.5%", 0.5, true},
		{"", 0, false},
		{"processing", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseProgress(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseProgress(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestUpstreamErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		cause  error
	}{
		{429, ErrRateLimited},
		{401, ErrUnauthorized},
		{403, ErrForbidden},
		{400, ErrBadRequest},
		{502, ErrUnavailable},
		{503, ErrUnavailable},
		{504, ErrUnavailable},
		{500, ErrServer},
		{507, ErrServer},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", &UpstreamError{Op: OpSubmit, StatusCode: tc.status})
		if !errors.Is(err, tc.cause) {
			t.Fatalf("status %d: expected cause %v", tc.status, tc.cause)
		}
		if !errors.Is(err, ErrSubmission) {
			t.Fatalf("status %d: expected ErrSubmission", tc.status)
		}
		if errors.Is(err, ErrQuery) {
			t.Fatalf("status %d: submission error must not match ErrQuery", tc.status)
		}
	}

	notFound := &UpstreamError{Op: OpQuery, StatusCode: 404}
	if notFound.Cause() != nil {
		t.Fatalf("expected no cause for 404, got %v", notFound.Cause())
	}
	if !strings.Contains(notFound.Message(), "404") {
		t.Fatalf("expected status in fallback message, got %q", notFound.Message())
	}
}

func TestUserMessagesAreDistinct(t *testing.T) {
	errs := []error{
		&ValidationError{Field: "prompt", Reason: "is required"},
		&UpstreamError{Op: OpSubmit, StatusCode: 429},
		&UpstreamError{Op: OpSubmit, StatusCode: 401},
		&UpstreamError{Op: OpSubmit, StatusCode: 403},
		&UpstreamError{Op: OpSubmit, StatusCode: 400},
		&UpstreamError{Op: OpSubmit, StatusCode: 503},
		&UpstreamError{Op: OpSubmit, StatusCode: 502},
		&UpstreamError{Op: OpSubmit, StatusCode: 500},
		&NetworkError{Op: OpQuery, Err: errors.New("connection refused")},
		&NetworkError{Op: OpQuery, Timeout: true, Err: errors.New("deadline")},
		&UnreachableArtifactError{TaskID: "t"},
		&TimeoutExceededError{TaskID: "t", Elapsed: 90 * time.Second},
		&TaskFailedError{TaskID: "t", Reason: "lyrics rejected"},
	}

	seen := make(map[string]bool)
	for _, err := range errs {
		msg := UserMessage(err)
		if msg == "" {
			t.Fatalf("empty message for %T", err)
		}
		if seen[msg] {
			t.Fatalf("duplicate message %q for %v", msg, err)
		}
		seen[msg] = true
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	timeout := &NetworkError{Op: OpQuery, Timeout: true, Err: errors.New("deadline")}
	if !IsTransient(timeout) || !errors.Is(timeout, ErrTimeout) {
		t.Fatalf("timeout must be transient and match ErrTimeout")
	}
	if IsTransient(&UpstreamError{Op: OpQuery, StatusCode: 500}) {
		t.Fatalf("upstream errors are not transient for polling")
	}
}

func TestTimeoutExceededReportsElapsed(t *testing.T) {
	err := &TimeoutExceededError{TaskID: "abc", Elapsed: 42 * time.Second, Attempts: 7}
	if !strings.Contains(err.Error(), "42s") {
		t.Fatalf("expected elapsed seconds in %q", err.Error())
	}
	if !strings.Contains(UserMessage(err), "42 seconds") {
		t.Fatalf("expected elapsed seconds in user message %q", UserMessage(err))
	}
}

func TestTimeoutExceededOmitsZeroAttempts(t *testing.T) {
	cases := []struct {
		err  *TimeoutExceededError
		want string
	}{
		{&TimeoutExceededError{TaskID: "a", Elapsed: 300 * time.Second, Limit: 5 * time.Minute}, "task a: generation timed out after 300s (limit 5m0s)"},
		{&TimeoutExceededError{TaskID: "a", Elapsed: 10 * time.Second, Attempts: 3}, "task a: generation timed out after 10s (3 attempts)"},
		{&TimeoutExceededError{TaskID: "a", Elapsed: 10 * time.Second, Limit: time.Minute, Attempts: 2}, "task a: generation timed out after 10s (limit 1m0s, 2 attempts)"},
		{&TimeoutExceededError{TaskID: "a", Elapsed: 10 * time.Second}, "task a: generation timed out after 10s"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestTrackPlayable(t *testing.T) {
	if (Track{AudioURL: "https://x/a.mp3", State: "running"}).Playable() {
		t.Fatalf("running track must not be playable")
	}
	if !(Track{AudioURL: "https://x/a.mp3", State: "succeeded"}).Playable() {
		t.Fatalf("succeeded track with audio must be playable")
	}
}
