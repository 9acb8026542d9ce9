package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/you-humble/musicgen/internal/domain"
)

type fakeUsecase struct {
	generateErr error
	fetchBody   []byte
	fetchErr    error
	results     map[string]domain.TaskResult
	webhooks    []domain.WebhookPayload
	cleared     bool
}

func (u *fakeUsecase) Generate(_ context.Context, req domain.GenerationRequest) (domain.GenerateResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.GenerateResponse{}, &domain.ValidationError{Field: "prompt", Reason: "is required"}
	}
	if u.generateErr != nil {
		return domain.GenerateResponse{}, u.generateErr
	}
	return domain.GenerateResponse{Success: true, TaskID: "t1", Message: "Task created."}, nil
}

func (u *fakeUsecase) FetchTask(context.Context, string) ([]byte, error) {
	return u.fetchBody, u.fetchErr
}

func (u *fakeUsecase) Health(context.Context) domain.HealthReport {
	return domain.HealthReport{Status: "unhealthy", Timestamp: "now", APIStatus: 503, Message: "down"}
}

func (u *fakeUsecase) ReceiveWebhook(_ context.Context, p domain.WebhookPayload) (domain.WebhookAck, error) {
	if p.TaskID == "" {
		return domain.WebhookAck{}, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}
	u.webhooks = append(u.webhooks, p)
	return domain.WebhookAck{Success: true, Message: "Webhook received and processed", TaskID: p.TaskID, Status: domain.NormalizeStatus(p.Status)}, nil
}

func (u *fakeUsecase) TaskResult(_ context.Context, id string) (domain.TaskResult, error) {
	r, ok := u.results[id]
	if !ok {
		return domain.TaskResult{}, domain.ErrTaskNotFound
	}
	return r, nil
}

func (u *fakeUsecase) ListTasks(context.Context) ([]domain.TaskResult, error) {
	out := make([]domain.TaskResult, 0, len(u.results))
	for _, r := range u.results {
		out = append(out, r)
	}
	return out, nil
}

func (u *fakeUsecase) ClearTasks(context.Context) error {
	u.results = nil
	u.cleared = true
	return nil
}

func newTestServer(uc *fakeUsecase) http.Handler {
	return newDiagnosticsServer(uc, false)
}

func newDiagnosticsServer(uc *fakeUsecase, diagnostics bool) http.Handler {
	return WithRecover(LogMiddleware(NewRouter(NewHandler(uc), diagnostics).MountRoutes(http.NewServeMux())))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeUsecase{})

	cases := []struct {
		method, target string
	}{
		{http.MethodGet, "/api/generate-music"},
		{http.MethodPost, "/api/fetch-task?task_id=t1"},
		{http.MethodPost, "/api/health"},
		{http.MethodGet, "/api/webhook"},
		{http.MethodDelete, "/api/task-result?task_id=t1"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			if rec := do(t, h, tc.method, tc.target, ""); rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}

func TestGenerateMusic(t *testing.T) {
	h := newTestServer(&fakeUsecase{})

	rec := do(t, h, http.MethodPost, "/api/generate-music", `{"prompt":"calm piano"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp domain.GenerateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.TaskID != "t1" {
		t.Fatalf("resp = %+v", resp)
	}

	rec = do(t, h, http.MethodPost, "/api/generate-music", `{"prompt":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt status = %d", rec.Code)
	}
	var errResp domain.ErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&errResp)
	if !strings.Contains(errResp.Details, "prompt") {
		t.Fatalf("details = %q", errResp.Details)
	}

	if rec := do(t, h, http.MethodPost, "/api/generate-music", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestGenerateMusic_UpstreamStatusPassthrough(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited", &domain.UpstreamError{Op: domain.OpSubmit, StatusCode: 429}, http.StatusTooManyRequests},
		{"unauthorized", &domain.UpstreamError{Op: domain.OpSubmit, StatusCode: 401}, http.StatusUnauthorized},
		{"no task id", &domain.UpstreamError{Op: domain.OpSubmit, Reason: "no task id"}, http.StatusBadGateway},
		{"timeout", &domain.NetworkError{Op: domain.OpSubmit, Timeout: true, Err: errors.New("deadline")}, http.StatusGatewayTimeout},
		{"network", &domain.NetworkError{Op: domain.OpSubmit, Err: errors.New("refused")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&fakeUsecase{generateErr: tc.err})
			rec := do(t, h, http.MethodPost, "/api/generate-music", `{"prompt":"x"}`)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var resp domain.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Details == "" {
				t.Fatalf("error body = %+v, %v", resp, err)
			}
		})
	}
}

func TestFetchTask(t *testing.T) {
	payload := `{"code":"200","data":{"task_id":"t1","status":"PROCESSING"}}`
	h := newTestServer(&fakeUsecase{fetchBody: []byte(payload)})

	if rec := do(t, h, http.MethodGet, "/api/fetch-task", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing task_id status = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/fetch-task?task_id=t1", "")
	if rec.Code != http.StatusOK || rec.Body.String() != payload {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestHealth_AlwaysOK(t *testing.T) {
	h := newTestServer(&fakeUsecase{})

	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rep domain.HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil || rep.Status != "unhealthy" {
		t.Fatalf("report = %+v, %v", rep, err)
	}
}

func TestWebhook(t *testing.T) {
	uc := &fakeUsecase{}
	h := newTestServer(uc)

	rec := do(t, h, http.MethodPost, "/api/webhook", `{"task_id":"t1","status":"SUCCESS","data":[{"id":"c1","audio_url":"https://cdn/a.mp3"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ack domain.WebhookAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ack.Success || ack.Message != "Webhook received and processed" || ack.Status != domain.StatusSuccess {
		t.Fatalf("ack = %+v", ack)
	}
	if len(uc.webhooks) != 1 || len(uc.webhooks[0].Data) != 1 {
		t.Fatalf("webhooks = %+v", uc.webhooks)
	}

	if rec := do(t, h, http.MethodPost, "/api/webhook", `{"status":"SUCCESS"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing task_id status = %d", rec.Code)
	}
}

func TestTaskResult(t *testing.T) {
	h := newTestServer(&fakeUsecase{results: map[string]domain.TaskResult{
		"t1": {TaskID: "t1", Status: domain.StatusSuccess},
	}})

	if rec := do(t, h, http.MethodGet, "/api/task-result?task_id=t1", ""); rec.Code != http.StatusOK {
		t.Fatalf("known status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/task-result?task_id=nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown status = %d", rec.Code)
	}
}

type panicHandler struct{}

func (panicHandler) ServeHTTP(http.ResponseWriter, *http.Request) { panic("boom") }

func TestWithRecover(t *testing.T) {
	rec := do(t, WithRecover(panicHandler{}), http.MethodGet, "/", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTasks(t *testing.T) {
	uc := &fakeUsecase{results: map[string]domain.TaskResult{
		"t1": {TaskID: "t1", Status: domain.StatusProcessing},
	}}

	if rec := do(t, newTestServer(uc), http.MethodGet, "/api/tasks", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("route mounted without diagnostics: %d", rec.Code)
	}

	h := newDiagnosticsServer(uc, true)

	rec := do(t, h, http.MethodGet, "/api/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list domain.TaskList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Tasks[0].TaskID != "t1" {
		t.Fatalf("list = %+v", list)
	}

	if rec := do(t, h, http.MethodPost, "/api/tasks", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/tasks", ""); rec.Code != http.StatusNoContent || !uc.cleared {
		t.Fatalf("clear status = %d, cleared = %v", rec.Code, uc.cleared)
	}
}
