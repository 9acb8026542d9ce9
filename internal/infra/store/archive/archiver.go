package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

type Store interface {
	Put(ctx context.Context, r domain.TaskResult) error
	Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error)
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

type Job struct {
	Result  domain.TaskResult
	Retries int
}

// Archiver writes terminal results to the store from a fixed pool of workers.
// Failed writes are requeued until maxRetries is reached.
type Archiver struct {
	store Store

	queue      chan Job
	workerNum  int
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewArchiver(store Store, queueSize, workerNum, maxRetries int) *Archiver {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Archiver{
		store:      store,
		queue:      make(chan Job, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (a *Archiver) Start(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(a.workerNum)
	for i := 0; i < a.workerNum; i++ {
		go a.worker()
	}
}

// Stop refuses new jobs, lets workers drain what is queued and waits for them
// or for ctx.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		a.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		a.cancel()
		return ctx.Err()
	case <-doneCh:
	}

	a.cancel()
	slog.Info("archiver: stopped")
	return nil
}

// Enqueue schedules r for archiving. Only terminal results are accepted; it
// returns false when the result is not terminal, the archiver is stopped or
// the queue is full.
func (a *Archiver) Enqueue(r domain.TaskResult) bool {
	if !r.Status.IsTerminal() {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return false
	}

	select {
	case a.queue <- Job{Result: r}:
		return true
	default:
		slog.Error("archiver: queue full, result not archived", slog.String("task_id", r.TaskID))
		return false
	}
}

func (a *Archiver) Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error) {
	return a.store.Get(ctx, taskID)
}

func (a *Archiver) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	return a.store.CleanupOlderThan(ctx, maxAge)
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case job, ok := <-a.queue:
			if !ok {
				return
			}
			a.handleJob(a.ctx, job)
		}
	}
}

func (a *Archiver) handleJob(ctx context.Context, job Job) {
	l := slog.With(
		slog.String("task_id", job.Result.TaskID),
		slog.Int("retries", job.Retries),
	)

	if err := a.store.Put(ctx, job.Result); err != nil {
		if job.Retries >= a.maxRetries {
			l.Error("archiving failed, max retries exceeded", slog.String("error", err.Error()))
			return
		}

		job.Retries++
		if !a.requeue(job) {
			l.Error("archiving failed and job could not be requeued", slog.String("error", err.Error()))
			return
		}
		l.Warn("archiving failed, job requeued",
			slog.String("error", err.Error()),
			slog.Int("next_retry", job.Retries),
		)
		return
	}

	l.Debug("archiver: result archived", slog.String("status", string(job.Result.Status)))
}

// requeue must not send on a closed queue while Stop drains it.
func (a *Archiver) requeue(job Job) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- job:
		return true
	default:
		return false
	}
}

type nop struct{}

// Nop is used when archiving is disabled.
func Nop() nop { return nop{} }

func (nop) Enqueue(domain.TaskResult) bool { return false }

func (nop) Get(context.Context, string) (domain.TaskResult, bool, error) {
	return domain.TaskResult{}, false, nil
}

func (nop) CleanupOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }

func (nop) Stop(context.Context) error { return nil }
