package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

type GenerationClient interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (string, error)
	FetchRaw(ctx context.Context, taskID string) ([]byte, error)
	Health(ctx context.Context) (int, error)
}

type TaskStore interface {
	Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error)
	Set(ctx context.Context, r domain.TaskResult) (bool, error)
	Snapshot(ctx context.Context) ([]domain.TaskResult, error)
	Clear(ctx context.Context) error
}

type ResultArchive interface {
	Enqueue(r domain.TaskResult) bool
	Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error)
}

type usecase struct {
	mode       domain.Mode
	webhookURL string
	client     GenerationClient
	taskStore  TaskStore
	archive    ResultArchive
}

// New builds the gateway usecase. webhookURL is handed to the upstream API
// when a request does not carry its own; it is empty in poll mode.
func New(
	mode domain.Mode,
	webhookURL string,
	client GenerationClient,
	taskStore TaskStore,
	archive ResultArchive,
) *usecase {
	return &usecase{
		mode:       mode,
		webhookURL: webhookURL,
		client:     client,
		taskStore:  taskStore,
		archive:    archive,
	}
}

func (uc *usecase) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerateResponse, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return domain.GenerateResponse{}, &domain.ValidationError{Field: "prompt", Reason: "is required"}
	}
	if req.WebhookURL == "" {
		req.WebhookURL = uc.webhookURL
	}

	taskID, err := uc.client.Submit(ctx, req)
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("submit: %w", err)
	}

	if _, known, _ := uc.taskStore.Get(ctx, taskID); !known {
		uc.record(ctx, domain.TaskResult{TaskID: taskID, Status: domain.StatusPending})
	}

	slog.Info("generation task created",
		slog.String("task_id", taskID),
		slog.String("mode", string(uc.mode)),
		slog.Bool("webhook", req.WebhookURL != ""),
	)

	msg := "Task created. Poll the task for its result."
	if req.WebhookURL != "" {
		msg = "Task created. The result will be delivered via webhook."
	}
	return domain.GenerateResponse{Success: true, TaskID: taskID, Message: msg}, nil
}

// FetchTask returns the upstream status payload unchanged. Recognizable
// payloads are also recorded in the task store.
func (uc *usecase) FetchTask(ctx context.Context, taskID string) ([]byte, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}

	body, err := uc.client.FetchRaw(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("fetch task: %w", err)
	}

	if r, ok := observedResult(taskID, body); ok {
		uc.record(ctx, r)
	}
	return body, nil
}

// Health never fails: an unreachable upstream is reported as unhealthy.
func (uc *usecase) Health(ctx context.Context) domain.HealthReport {
	report := domain.HealthReport{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}

	status, err := uc.client.Health(ctx)
	if err != nil {
		slog.Warn("upstream health check failed", slog.String("error", err.Error()))
		report.Status = "unhealthy"
		report.Message = "The music service is unreachable."
		report.Error = domain.UserMessage(err)
		return report
	}

	report.APIStatus = status
	if status < 500 {
		report.Status = "healthy"
		report.Message = "The music service is available."
	} else {
		report.Status = "unhealthy"
		report.Message = "The music service is reporting errors."
	}
	return report
}

// ReceiveWebhook records an inbound status notification. Store failures are
// logged and still acknowledged so the sender does not retry forever.
func (uc *usecase) ReceiveWebhook(ctx context.Context, p domain.WebhookPayload) (domain.WebhookAck, error) {
	taskID := strings.TrimSpace(p.TaskID)
	if taskID == "" {
		return domain.WebhookAck{}, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}

	status := domain.NormalizeStatus(p.Status)
	progress := strings.TrimSpace(p.Progress)
	if progress == "" && status == domain.StatusSuccess {
		progress = "100%"
	}

	l := slog.With(slog.String("task_id", taskID), slog.String("status", string(status)))
	switch {
	case status == domain.StatusSuccess && len(p.Data) > 0:
		urls := make([]string, 0, len(p.Data))
		for _, t := range p.Data {
			urls = append(urls, t.AudioURL)
		}
		l.Info("webhook: generation succeeded", slog.Int("tracks", len(p.Data)), slog.Any("audio_urls", urls))
	case status == domain.StatusFailure:
		l.Warn("webhook: generation failed", slog.String("fail_reason", p.FailReason))
	default:
		l.Info("webhook: status update", slog.String("progress", progress))
	}

	uc.record(ctx, domain.TaskResult{
		TaskID:   taskID,
		Status:   status,
		Progress: progress,
		Tracks:   p.Data,
		Error:    p.FailReason,
	})

	return domain.WebhookAck{
		Success: true,
		Message: "Webhook received and processed",
		TaskID:  taskID,
		Status:  status,
	}, nil
}

// TaskResult looks the task up in the store, then in the archive.
func (uc *usecase) TaskResult(ctx context.Context, taskID string) (domain.TaskResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.TaskResult{}, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}

	r, ok, err := uc.taskStore.Get(ctx, taskID)
	if err != nil {
		slog.Warn("task store lookup failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
	if ok {
		return r, nil
	}

	r, ok, err = uc.archive.Get(ctx, taskID)
	if err != nil {
		return domain.TaskResult{}, fmt.Errorf("archive lookup: %w", err)
	}
	if !ok {
		return domain.TaskResult{}, domain.ErrTaskNotFound
	}
	return r, nil
}

// ListTasks returns every stored task, oldest update first.
func (uc *usecase) ListTasks(ctx context.Context) ([]domain.TaskResult, error) {
	tasks, err := uc.taskStore.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot tasks: %w", err)
	}
	if tasks == nil {
		tasks = []domain.TaskResult{}
	}
	return tasks, nil
}

// ClearTasks drops every stored task. Archived results are kept.
func (uc *usecase) ClearTasks(ctx context.Context) error {
	if err := uc.taskStore.Clear(ctx); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	return nil
}

func (uc *usecase) record(ctx context.Context, r domain.TaskResult) {
	applied, err := uc.taskStore.Set(ctx, r)
	if err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			slog.Error("task store write failed",
				slog.String("task_id", r.TaskID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if applied && r.Status.IsTerminal() {
		uc.archive.Enqueue(r)
	}
}

// observedResult extracts a task result from an upstream fetch payload. A
// success without clips is not recorded since it would freeze the task
// before the clips are attached.
func observedResult(taskID string, body []byte) (domain.TaskResult, bool) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Data) == 0 {
		return domain.TaskResult{}, false
	}

	var raw domain.RawStatus
	if json.Unmarshal(env.Data, &raw) != nil || raw.Status == "" {
		return domain.TaskResult{}, false
	}

	r := raw.Result()
	r.TaskID = taskID
	if r.Status == domain.StatusSuccess && len(r.Tracks) == 0 {
		return domain.TaskResult{}, false
	}
	return r, true
}
