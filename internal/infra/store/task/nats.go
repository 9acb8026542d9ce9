package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/you-humble/musicgen/internal/domain"

	"github.com/nats-io/nats.go"
)

type natsFanout struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSFanout publishes every applied write on <prefix>.<task_id>, so
// subscribers in other processes see webhook deliveries received here.
func NewNATSFanout(nc *nats.Conn, prefix string) *natsFanout {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "musicgen.tasks"
	}
	return &natsFanout{nc: nc, prefix: prefix}
}

func (f *natsFanout) Publish(_ context.Context, r domain.TaskResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", r.TaskID, err)
	}

	msg := &nats.Msg{
		Subject: f.subject(r.TaskID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Task-Status", string(r.Status))

	if err := f.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe feeds push from a per-task NATS subscription. NATS delivers each
// subscription's messages in order on one goroutine. The subscription ends on
// the first terminal result.
func (f *natsFanout) Subscribe(taskID string, push func(domain.TaskResult)) (func(), error) {
	var (
		mu  sync.Mutex
		sub *nats.Subscription
	)
	unsubscribe := func() {
		mu.Lock()
		defer mu.Unlock()
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}

	s, err := f.nc.Subscribe(f.subject(taskID), func(msg *nats.Msg) {
		var r domain.TaskResult
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			slog.Warn("nats task update: decode",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
			return
		}
		push(r)
		if r.Status.IsTerminal() {
			unsubscribe()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	mu.Lock()
	sub = s
	mu.Unlock()

	return unsubscribe, nil
}

func (f *natsFanout) subject(taskID string) string {
	return f.prefix + "." + sanitizeToken(taskID)
}

// sanitizeToken keeps a task id usable as a single subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
