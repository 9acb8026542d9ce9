package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/you-humble/musicgen/internal/domain"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type Usecase interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerateResponse, error)
	FetchTask(ctx context.Context, taskID string) ([]byte, error)
	Health(ctx context.Context) domain.HealthReport
	ReceiveWebhook(ctx context.Context, p domain.WebhookPayload) (domain.WebhookAck, error)
	TaskResult(ctx context.Context, taskID string) (domain.TaskResult, error)
	ListTasks(ctx context.Context) ([]domain.TaskResult, error)
	ClearTasks(ctx context.Context) error
}

type handler struct {
	usecase Usecase
}

func NewHandler(uc Usecase) *handler {
	return &handler{usecase: uc}
}

func (h *handler) generateMusic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "generate_music")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("decode request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "request body must be a JSON object with a prompt")
		return
	}

	resp, err := h.usecase.Generate(r.Context(), req)
	if err != nil {
		writeUsecaseError(w, logger, "Generate", err)
		return
	}

	logger.Info("task created", slog.String("task_id", resp.TaskID))
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fetchTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "fetch_task")

	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID == "" {
		logger.Warn("missing task_id")
		writeError(w, http.StatusBadRequest, "query parameter `task_id` is required")
		return
	}
	logger = logger.With(slog.String("task_id", taskID))

	body, err := h.usecase.FetchTask(r.Context(), taskID)
	if err != nil {
		writeUsecaseError(w, logger, "FetchTask", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Error("fetch_task: send payload", slog.String("error", err.Error()))
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	writeJSON(w, http.StatusOK, h.usecase.Health(r.Context()))
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "webhook")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var p domain.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		logger.Warn("decode payload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	ack, err := h.usecase.ReceiveWebhook(r.Context(), p)
	if err != nil {
		writeUsecaseError(w, logger, "ReceiveWebhook", err)
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

func (h *handler) taskResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "task_result")

	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID == "" {
		logger.Warn("missing task_id")
		writeError(w, http.StatusBadRequest, "query parameter `task_id` is required")
		return
	}

	res, err := h.usecase.TaskResult(r.Context(), taskID)
	if err != nil {
		writeUsecaseError(w, logger.With(slog.String("task_id", taskID)), "TaskResult", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// tasks lists the task store on GET and empties it on DELETE.
func (h *handler) tasks(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "tasks")

	switch r.Method {
	case http.MethodGet:
		tasks, err := h.usecase.ListTasks(r.Context())
		if err != nil {
			writeUsecaseError(w, logger, "ListTasks", err)
			return
		}
		writeJSON(w, http.StatusOK, domain.TaskList{Count: len(tasks), Tasks: tasks})
	case http.MethodDelete:
		if err := h.usecase.ClearTasks(r.Context()); err != nil {
			writeUsecaseError(w, logger, "ClearTasks", err)
			return
		}
		logger.Warn("task store cleared")
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

// statusFor maps a usecase error onto the HTTP status of the response.
func statusFor(err error) int {
	var uerr *domain.UpstreamError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.As(err, &uerr):
		if uerr.StatusCode >= 400 {
			return uerr.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeUsecaseError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op, slog.String("error", err.Error()), slog.Int("status", status))
	} else {
		logger.Warn(op, slog.String("error", err.Error()), slog.Int("status", status))
	}

	writeJSON(w, status, domain.ErrorResponse{
		Error:   http.StatusText(status),
		Details: domain.UserMessage(err),
	})
}

func writeError(w http.ResponseWriter, status int, details string) {
	if details == "" {
		details = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Details: details,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
