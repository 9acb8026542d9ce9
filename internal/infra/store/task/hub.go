package taskstore

import (
	"context"
	"sync"

	"github.com/you-humble/musicgen/internal/domain"
)

// Fanout carries applied store writes to subscribers. The local hub reaches
// subscribers of this process; the NATS fanout reaches every process.
type Fanout interface {
	Publish(ctx context.Context, r domain.TaskResult) error
	Subscribe(taskID string, push func(domain.TaskResult)) (func(), error)
}

type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(domain.TaskResult)
}

func NewHub() *hub {
	return &hub{subs: make(map[string]map[uint64]func(domain.TaskResult))}
}

// Publish hands r to every subscriber of its task. A terminal result also
// removes those subscriptions.
func (h *hub) Publish(_ context.Context, r domain.TaskResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, push := range h.subs[r.TaskID] {
		push(r)
	}
	if r.Status.IsTerminal() {
		delete(h.subs, r.TaskID)
	}
	return nil
}

func (h *hub) Subscribe(taskID string, push func(domain.TaskResult)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[uint64]func(domain.TaskResult))
	}
	h.subs[taskID][id] = push

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[taskID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(h.subs, taskID)
			}
		}
	}, nil
}

func (h *hub) subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

func (h *hub) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = make(map[string]map[uint64]func(domain.TaskResult))
}
