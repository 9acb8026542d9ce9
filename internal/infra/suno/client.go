package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/you-humble/musicgen/internal/domain"
)

const maxBodyBytes = 4 << 20

type Routes struct {
	Submit string
	Fetch  string
	Health string
}

type Config struct {
	// BaseURLs are tried in order until one answers with a success status.
	BaseURLs       []string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	Routes         Routes
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Model == "" {
		cfg.Model = "suno-v3.5"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type submitBody struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Stream     bool   `json:"stream"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// envelope covers both the upstream shape {code, message, data} and the
// gateway shape {success, task_id, message}.
type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	TaskID  string          `json:"task_id"`
	Data    json.RawMessage `json:"data"`
}

type response struct {
	status int
	body   []byte
}

func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", &domain.ValidationError{Field: "prompt", Reason: "is required"}
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.cfg.Model
	}

	resp, err := c.call(ctx, domain.OpSubmit, http.MethodPost, c.cfg.Routes.Submit, nil, submitBody{
		Model:      model,
		Prompt:     prompt,
		Stream:     false,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
	})
	if err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return "", &domain.UpstreamError{
			Op:     domain.OpSubmit,
			Body:   snippet(resp.body),
			Reason: "The service answered with an unreadable response. Retry the submission.",
		}
	}

	taskID := strings.TrimSpace(env.TaskID)
	if taskID == "" && len(env.Data) > 0 {
		var s string
		if json.Unmarshal(env.Data, &s) == nil {
			taskID = strings.TrimSpace(s)
		}
	}
	if taskID == "" {
		return "", &domain.UpstreamError{
			Op:     domain.OpSubmit,
			Body:   snippet(resp.body),
			Reason: "The service accepted the request but returned no task id. Retry the submission.",
		}
	}

	slog.Info("generation submitted",
		slog.String("task_id", taskID),
		slog.String("model", model),
		slog.Bool("webhook", req.WebhookURL != ""),
	)
	return taskID, nil
}

// FetchRaw returns the status payload exactly as the upstream sent it.
func (c *Client) FetchRaw(ctx context.Context, taskID string) ([]byte, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}

	resp, err := c.call(ctx, domain.OpQuery, http.MethodGet, c.cfg.Routes.Fetch, url.Values{"task_id": {taskID}}, nil)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) FetchStatus(ctx context.Context, taskID string) (domain.RawStatus, error) {
	body, err := c.FetchRaw(ctx, taskID)
	if err != nil {
		return domain.RawStatus{}, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.RawStatus{}, &domain.UpstreamError{
			Op:     domain.OpQuery,
			Body:   snippet(body),
			Reason: "The service answered the status query with an unreadable response.",
		}
	}

	if code := envelopeCode(env.Code); code != "" && code != "200" && !strings.EqualFold(code, "success") {
		return domain.RawStatus{}, &domain.UpstreamError{
			Op:     domain.OpQuery,
			Body:   snippet(body),
			Reason: fmt.Sprintf("The status query was rejected: %s.", strings.TrimSpace(env.Message)),
		}
	}

	var raw domain.RawStatus
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return domain.RawStatus{}, &domain.UpstreamError{
				Op:     domain.OpQuery,
				Body:   snippet(body),
				Reason: "The service returned a task status in an unexpected format.",
			}
		}
	}
	if raw.TaskID == "" {
		raw.TaskID = taskID
	}
	return raw, nil
}

// Health returns the status code the health route answered with. The error
// is non-nil only when no endpoint answered at all.
func (c *Client) Health(ctx context.Context) (int, error) {
	resp, err := c.call(ctx, domain.OpHealth, http.MethodGet, c.cfg.Routes.Health, nil, nil)
	if err != nil {
		var uerr *domain.UpstreamError
		if errors.As(err, &uerr) {
			return uerr.StatusCode, nil
		}
		return 0, err
	}
	return resp.status, nil
}

// CheckHealth is a best-effort liveness probe. A success status whose body
// reports {"status":"unhealthy"} (the gateway's health route) counts as down.
func (c *Client) CheckHealth(ctx context.Context) bool {
	resp, err := c.call(ctx, domain.OpHealth, http.MethodGet, c.cfg.Routes.Health, nil, nil)
	if err != nil {
		slog.Warn("health check failed", slog.String("error", err.Error()))
		return false
	}

	var body struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(resp.body, &body) == nil && strings.EqualFold(body.Status, "unhealthy") {
		return false
	}
	return true
}

func (c *Client) call(
	ctx context.Context,
	op domain.Op,
	method, path string,
	query url.Values,
	payload any,
) (*response, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = b
	}

	var lastErr error
	for _, base := range c.cfg.BaseURLs {
		target, err := joinURL(base, path, query)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", op, err)
			continue
		}

		resp, err := c.doWithRetry(ctx, op, method, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("upstream endpoint unreachable",
				slog.String("op", string(op)),
				slog.String("url", target),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}

		if resp.status >= 200 && resp.status < 300 {
			return resp, nil
		}

		slog.Warn("upstream endpoint rejected call",
			slog.String("op", string(op)),
			slog.String("url", target),
			slog.Int("status", resp.status),
			slog.String("body", snippet(resp.body)),
		)
		lastErr = &domain.UpstreamError{Op: op, StatusCode: resp.status, Body: snippet(resp.body)}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no upstream endpoints configured", op)
	}
	return nil, lastErr
}

// doWithRetry returns 2xx and 4xx answers at once and retries 5xx answers
// and transport failures. When every attempt got a 5xx, the last one is
// returned so the caller can classify it.
func (c *Client) doWithRetry(ctx context.Context, op domain.Op, method, target string, body []byte) (*response, error) {
	var (
		lastResp *response
		lastErr  error
	)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		slog.Debug("upstream request",
			slog.String("op", string(op)),
			slog.String("url", target),
			slog.Int("attempt", attempt),
		)

		resp, err := c.attempt(ctx, op, method, target, body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			lastResp, lastErr = nil, err
		case resp.status < 500:
			return resp, nil
		default:
			lastResp, lastErr = resp, nil
		}

		if attempt < c.cfg.MaxAttempts {
			slog.Warn("upstream attempt failed, retrying",
				slog.String("op", string(op)),
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Duration("delay", c.cfg.RetryDelay),
			)
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("%s %s: %w", op, target, err)
			}
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, op domain.Op, method, target string, body []byte) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, op, target, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, op, target, err)
	}

	return &response{status: resp.StatusCode, body: b}, nil
}

func classify(parent context.Context, op domain.Op, target string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s %s: %w", op, target, parent.Err())
	}

	timeout := errors.Is(err, context.DeadlineExceeded)
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		timeout = true
	}
	return &domain.NetworkError{Op: op, URL: target, Timeout: timeout, Err: err}
}

func joinURL(base, path string, query url.Values) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", fmt.Errorf("empty base url")
	}
	u, err := url.Parse(base + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func envelopeCode(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return strings.TrimSpace(str)
	}
	return s
}

func snippet(b []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
