package taskstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

type memoryTaskStore struct {
	mu     sync.Mutex
	tasks  map[string]domain.TaskResult
	fanout Fanout
}

// NewMemoryTaskStore keeps results in process memory. A nil fanout means a
// local hub.
func NewMemoryTaskStore(fanout Fanout) *memoryTaskStore {
	if fanout == nil {
		fanout = NewHub()
	}
	return &memoryTaskStore{
		tasks:  make(map[string]domain.TaskResult),
		fanout: fanout,
	}
}

func (s *memoryTaskStore) Get(_ context.Context, taskID string) (domain.TaskResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[taskID]
	return r, ok, nil
}

// Set records r unless the task already reached a terminal state. applied
// reports whether the write happened; only applied writes reach subscribers.
func (s *memoryTaskStore) Set(ctx context.Context, r domain.TaskResult) (bool, error) {
	if r.TaskID == "" {
		return false, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tasks[r.TaskID]; ok && cur.Status.IsTerminal() {
		slog.Debug("terminal task not overwritten",
			slog.String("task_id", r.TaskID),
			slog.String("status", string(cur.Status)),
			slog.String("ignored_status", string(r.Status)),
		)
		return false, nil
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.tasks[r.TaskID] = r

	if err := s.fanout.Publish(ctx, r); err != nil {
		slog.Warn("task fanout publish", slog.String("task_id", r.TaskID), slog.String("error", err.Error()))
	}
	return true, nil
}

// Subscribe registers fn for updates of taskID. A result already stored is
// delivered first, asynchronously. The returned cancel is idempotent.
func (s *memoryTaskStore) Subscribe(_ context.Context, taskID string, fn func(domain.TaskResult)) (func(), error) {
	mb := newMailbox(fn)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[taskID]
	if ok && cur.Status.IsTerminal() {
		mb.push(cur)
		return mb.stop, nil
	}

	unsubscribe, err := s.fanout.Subscribe(taskID, mb.push)
	if err != nil {
		mb.stop()
		return nil, err
	}
	if ok {
		mb.push(cur)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mb.stop()
		})
	}, nil
}

// Evict drops results last updated before cutoff.
func (s *memoryTaskStore) Evict(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.tasks {
		if r.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryTaskStore) Snapshot(_ context.Context) ([]domain.TaskResult, error) {
	s.mu.Lock()
	out := make([]domain.TaskResult, 0, len(s.tasks))
	for _, r := range s.tasks {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *memoryTaskStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]domain.TaskResult)
	if h, ok := s.fanout.(*hub); ok {
		h.clear()
	}
	slog.Info("task store cleared")
	return nil
}
