package taskstore

import (
	"log/slog"
	"sync"

	"github.com/you-humble/musicgen/internal/domain"
)

// mailbox delivers results to one subscriber callback on its own goroutine,
// in push order. It ends after delivering a terminal result or when stopped;
// later pushes are dropped.
type mailbox struct {
	fn func(domain.TaskResult)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []domain.TaskResult
	stopped bool
	done    chan struct{}
}

func newMailbox(fn func(domain.TaskResult)) *mailbox {
	m := &mailbox{fn: fn, done: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	go m.loop()
	return m
}

func (m *mailbox) push(r domain.TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.queue = append(m.queue, r)
	m.cond.Signal()
}

// stop discards anything not yet delivered. It does not wait for a callback
// that is already running.
func (m *mailbox) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.queue = nil
	m.cond.Signal()
}

func (m *mailbox) loop() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.stopped {
			m.cond.Wait()
		}
		if m.stopped {
			m.mu.Unlock()
			return
		}
		r := m.queue[0]
		m.queue = m.queue[1:]
		if r.Status.IsTerminal() {
			m.stopped = true
			m.queue = nil
		}
		m.mu.Unlock()

		m.deliver(r)
		if r.Status.IsTerminal() {
			return
		}
	}
}

func (m *mailbox) deliver(r domain.TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task subscriber panicked",
				slog.String("task_id", r.TaskID),
				slog.Any("panic", rec),
			)
		}
	}()
	m.fn(r)
}
