package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrSubmission = errors.New("submission rejected")
	ErrQuery      = errors.New("status query rejected")

	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("authentication failed")
	ErrForbidden    = errors.New("access denied")
	ErrBadRequest   = errors.New("malformed request")
	ErrUnavailable  = errors.New("upstream unavailable")
	ErrServer       = errors.New("upstream server error")

	ErrNetwork = errors.New("network error")
	ErrTimeout = errors.New("request timeout")

	ErrUnreachableArtifact = errors.New("produced files unreachable")
	ErrTimeoutExceeded     = errors.New("generation timed out")
	ErrTaskFailed          = errors.New("generation failed")
	ErrNoTracks            = errors.New("no tracks produced")
	ErrTaskNotFound        = errors.New("task not found")
)

type Op string

const (
	OpSubmit Op = "submit"
	OpQuery  Op = "query"
	OpHealth Op = "health"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UpstreamError is a call the external API answered but rejected.
// StatusCode is zero when the response was well-formed HTTP but unusable,
// for example a submission answer without a task id.
type UpstreamError struct {
	Op         Op
	StatusCode int
	Body       string
	Reason     string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message())
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message(), e.StatusCode)
}

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrSubmission:
		return e.Op == OpSubmit
	case ErrQuery:
		return e.Op == OpQuery
	}
	cause := e.Cause()
	return cause != nil && cause == target
}

// Cause classifies the status code. It returns nil for codes without a
// dedicated category.
func (e *UpstreamError) Cause() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case e.StatusCode == http.StatusBadGateway,
		e.StatusCode == http.StatusServiceUnavailable,
		e.StatusCode == http.StatusGatewayTimeout:
		return ErrUnavailable
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

func (e *UpstreamError) Message() string {
	switch e.StatusCode {
	case http.StatusServiceUnavailable:
		return "The music generation service is under maintenance. Wait 10 to 30 minutes and retry; contact support if it persists."
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return "The upstream gateway returned an error. The network is unstable; retry shortly and check firewall settings."
	case http.StatusTooManyRequests:
		return "Too many requests. Wait about 30 seconds before trying again and lower the request rate."
	case http.StatusUnauthorized:
		return "Authentication with the music service failed. The API key may have expired or the balance may be exhausted; ask an administrator to check the configuration."
	case http.StatusForbidden:
		return "Access to the music service was denied. The balance may be insufficient or the key lacks permission; check the account status."
	case http.StatusBadRequest:
		return "The request was rejected as malformed. Check the input and make sure the music description is reasonable."
	}
	if e.StatusCode >= 500 {
		return "The music service hit an internal error. Retry later."
	}
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s failed with status %d. Check the network connection and retry.", e.Op, e.StatusCode)
}

// NetworkError covers transport failures and per-attempt timeouts. Both are
// transient and match ErrNetwork; timeouts also match ErrTimeout.
type NetworkError struct {
	Op      Op
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	kind := "network error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork || (e.Timeout && target == ErrTimeout)
}

type UnreachableArtifactError struct {
	TaskID string
	URLs   []string
}

func (e *UnreachableArtifactError) Error() string {
	return fmt.Sprintf("task %s: none of %d produced files is reachable", e.TaskID, len(e.URLs))
}

func (e *UnreachableArtifactError) Is(target error) bool { return target == ErrUnreachableArtifact }

type TimeoutExceededError struct {
	TaskID   string
	Elapsed  time.Duration
	Limit    time.Duration
	Attempts int
}

func (e *TimeoutExceededError) Error() string {
	var details []string
	if e.Limit > 0 {
		details = append(details, "limit "+e.Limit.String())
	}
	if e.Attempts > 0 {
		details = append(details, fmt.Sprintf("%d attempts", e.Attempts))
	}

	msg := fmt.Sprintf("task %s: generation timed out after %ds", e.TaskID, int(e.Elapsed.Round(time.Second).Seconds()))
	if len(details) > 0 {
		msg += " (" + strings.Join(details, ", ") + ")"
	}
	return msg
}

func (e *TimeoutExceededError) Is(target error) bool { return target == ErrTimeoutExceeded }

type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.reason())
}

func (e *TaskFailedError) reason() string {
	if strings.TrimSpace(e.Reason) == "" {
		return "unknown error"
	}
	return e.Reason
}

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// IsTransient reports whether err should be retried by a polling loop.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// UserMessage turns any error produced by this module into an actionable,
// cause-specific sentence for end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		verr *ValidationError
		uerr *UpstreamError
		terr *TimeoutExceededError
		ferr *TaskFailedError
	)

	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("Please check your input: %s %s.", verr.Field, verr.Reason)
	case errors.As(err, &uerr):
		return uerr.Message()
	case errors.Is(err, ErrTimeout):
		return "The request timed out. Check the network connection and retry later."
	case errors.Is(err, ErrNetwork):
		return "Network connection failed. The network may be unstable or blocked by a firewall; check the connection and retry."
	case errors.Is(err, ErrUnreachableArtifact):
		return "The generated music files cannot be accessed. They may still be processing; retry shortly and check the network connection."
	case errors.As(err, &terr):
		return fmt.Sprintf("Music generation timed out after %d seconds. The service may be overloaded; simplify the description and retry later.",
			int(terr.Elapsed.Round(time.Second).Seconds()))
	case errors.As(err, &ferr):
		return fmt.Sprintf("Music generation failed. Reason: %s. Adjust the description and try again.", ferr.reason())
	case errors.Is(err, ErrNoTracks):
		return "The task finished without producing any tracks. Try again with a different description."
	case errors.Is(err, ErrTaskNotFound):
		return "The task is unknown or has expired. Submit a new generation request."
	}
	return "An unexpected error occurred: " + err.Error()
}
