package domain

import (
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusSuccess    TaskStatus = "SUCCESS"
	StatusFailure    TaskStatus = "FAILURE"
)

func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// NormalizeStatus maps any upstream or webhook status string onto the closed
// status set. Unknown and empty values are PENDING.
func NormalizeStatus(raw string) TaskStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETED", "FINISHED":
		return StatusSuccess
	case "FAILURE", "FAILED", "ERROR":
		return StatusFailure
	case "PROCESSING", "RUNNING":
		return StatusProcessing
	default:
		return StatusPending
	}
}

type Mode string

const (
	ModeWebhook Mode = "webhook"
	ModePoll    Mode = "poll"
)

type GenerationRequest struct {
	Prompt     string `json:"prompt"`
	Model      string `json:"model,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type TrackMetadata struct {
	Type              string  `json:"type,omitempty"`
	Prompt            string  `json:"prompt,omitempty"`
	Stream            bool    `json:"stream,omitempty"`
	Duration          float64 `json:"duration,omitempty"`
	IsRemix           bool    `json:"is_remix,omitempty"`
	Priority          int     `json:"priority,omitempty"`
	CanRemix          bool    `json:"can_remix,omitempty"`
	RefundCredits     bool    `json:"refund_credits,omitempty"`
	FreeQuotaCategory string  `json:"free_quota_category,omitempty"`
}

type Track struct {
	ID            string         `json:"id"`
	ClipID        string         `json:"clip_id,omitempty"`
	Title         string         `json:"title,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	AudioURL      string         `json:"audio_url,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	ImageLargeURL string         `json:"image_large_url,omitempty"`
	VideoURL      string         `json:"video_url,omitempty"`
	Duration      float64        `json:"duration,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	Status        string         `json:"status,omitempty"`
	State         string         `json:"state,omitempty"`
	ModelName     string         `json:"model_name,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	Tags          string         `json:"tags,omitempty"`
	Metadata      *TrackMetadata `json:"metadata,omitempty"`
}

// Playable reports whether the track finished rendering and has audio.
func (t Track) Playable() bool {
	return t.AudioURL != "" && strings.EqualFold(t.State, "succeeded")
}

// RawStatus is the upstream task object returned by the fetch call.
type RawStatus struct {
	TaskID     string  `json:"task_id"`
	Action     string  `json:"action,omitempty"`
	Status     string  `json:"status"`
	FailReason string  `json:"fail_reason,omitempty"`
	SubmitTime int64   `json:"submit_time,omitempty"`
	StartTime  int64   `json:"start_time,omitempty"`
	FinishTime int64   `json:"finish_time,omitempty"`
	Progress   string  `json:"progress,omitempty"`
	Tracks     []Track `json:"data,omitempty"`
}

func (r RawStatus) Result() TaskResult {
	return TaskResult{
		TaskID:    r.TaskID,
		Status:    NormalizeStatus(r.Status),
		Progress:  r.Progress,
		Tracks:    r.Tracks,
		Error:     r.FailReason,
		UpdatedAt: time.Now(),
	}
}

type TaskResult struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Progress  string     `json:"progress,omitempty"`
	Tracks    []Track    `json:"tracks,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Progress is a non-terminal observation delivered to progress callbacks.
type Progress struct {
	TaskID   string
	Status   TaskStatus
	Progress string
	Tracks   []Track
}

// ParseProgress reads percentage-like strings such as "42%", "42" or "0.5%".
func ParseProgress(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type WebhookPayload struct {
	TaskID     string  `json:"task_id"`
	Status     string  `json:"status"`
	Data       []Track `json:"data,omitempty"`
	FailReason string  `json:"fail_reason,omitempty"`
	Progress   string  `json:"progress,omitempty"`
}

type GenerateResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type WebhookAck struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
}

type HealthReport struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	APIStatus int    `json:"api_status,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

type TaskList struct {
	Count int          `json:"count"`
	Tasks []TaskResult `json:"tasks"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
