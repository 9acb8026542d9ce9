package app

import (
	"context"
	"strings"

	"github.com/you-humble/musicgen/internal/domain"
	"github.com/you-humble/musicgen/internal/infra/config"
	"github.com/you-humble/musicgen/internal/reconciler"
)

// ErrServiceUnhealthy aborts a submission whose health pre-check failed.
var ErrServiceUnhealthy = &domain.UpstreamError{
	Op:     domain.OpHealth,
	Reason: "The music service is currently unavailable. Check the service status and try again in a few minutes.",
}

// Consumer drives one generation end to end: health check, submission and
// reconciliation until the tracks are ready.
type Consumer struct {
	di *dependencyInjector
}

// NewConsumer loads the config at cfgPath; an empty path means config.Path().
func NewConsumer(cfgPath string) *Consumer {
	if cfgPath == "" {
		cfgPath = config.Path()
	}
	di := newDI(cfgPath)
	di.Logger()
	return &Consumer{di: di}
}

func (c *Consumer) Mode() domain.Mode {
	return c.di.Config().Mode
}

// Health returns the upstream status code. Codes of 500 and above are
// reported as an UpstreamError.
func (c *Consumer) Health(ctx context.Context) (int, error) {
	status, err := c.di.SunoClient().Health(ctx)
	if err != nil {
		return 0, err
	}
	if status >= 500 {
		return status, &domain.UpstreamError{Op: domain.OpHealth, StatusCode: status}
	}
	return status, nil
}

// Submit checks upstream health, then creates the task.
func (c *Consumer) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return "", &domain.ValidationError{Field: "prompt", Reason: "is required"}
	}

	if !c.di.SunoClient().CheckHealth(ctx) {
		return "", ErrServiceUnhealthy
	}

	cfg := c.di.Config()
	if req.WebhookURL == "" {
		req.WebhookURL = cfg.WebhookURL()
	}

	return c.di.SunoClient().Submit(ctx, req)
}

// Watch reconciles taskID with the configured strategy.
func (c *Consumer) Watch(ctx context.Context, taskID string, cb reconciler.Callbacks) error {
	return c.di.Reconciler(ctx).Watch(ctx, taskID, c.di.Config().Mode, cb)
}

func (c *Consumer) Status(ctx context.Context, taskID string) (domain.RawStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.RawStatus{}, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}
	return c.di.SunoClient().FetchStatus(ctx, taskID)
}

func (c *Consumer) Close(ctx context.Context) error {
	return c.di.Close(ctx)
}
