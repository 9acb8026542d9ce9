package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/you-humble/musicgen/internal/domain"

	"golang.org/x/sync/errgroup"
)

type TaskStore interface {
	Set(ctx context.Context, r domain.TaskResult) (bool, error)
	Subscribe(ctx context.Context, taskID string, fn func(domain.TaskResult)) (func(), error)
}

type StatusFetcher interface {
	FetchStatus(ctx context.Context, taskID string) (domain.RawStatus, error)
}

type Poller interface {
	Run(ctx context.Context, taskID string, onProgress func(domain.Progress)) ([]domain.Track, error)
}

type Prober interface {
	Reachable(ctx context.Context, rawURL string) bool
}

type Config struct {
	BackstopInterval time.Duration
	Timeout          time.Duration
}

// Callbacks receive the outcome of Watch. Exactly one of OnSuccess and
// OnFailure fires per call, after every OnProgress.
type Callbacks struct {
	OnProgress func(domain.Progress)
	OnSuccess  func(tracks []domain.Track)
	OnFailure  func(err error)
}

type Reconciler struct {
	cfg     Config
	store   TaskStore
	fetcher StatusFetcher
	poller  Poller
	prober  Prober
}

// New wires a reconciler. store may be nil when only the poll strategy is
// used; prober may be nil to accept every track with an audio URL.
func New(cfg Config, store TaskStore, fetcher StatusFetcher, poller Poller, prober Prober) *Reconciler {
	if cfg.BackstopInterval <= 0 {
		cfg.BackstopInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Reconciler{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		poller:  poller,
		prober:  prober,
	}
}

func (r *Reconciler) Watch(ctx context.Context, taskID string, mode domain.Mode, cb Callbacks) error {
	tracks, err := r.Await(ctx, taskID, mode, cb.OnProgress)
	if err != nil {
		if cb.OnFailure != nil {
			cb.OnFailure(err)
		}
		return err
	}
	if cb.OnSuccess != nil {
		cb.OnSuccess(tracks)
	}
	return nil
}

// Await blocks until taskID resolves and returns its tracks. Progress is
// delivered on the calling goroutine, in order and never regressing.
func (r *Reconciler) Await(ctx context.Context, taskID string, mode domain.Mode, onProgress func(domain.Progress)) ([]domain.Track, error) {
	gate := &progressGate{next: onProgress}

	switch mode {
	case domain.ModeWebhook:
		if r.store == nil {
			return nil, fmt.Errorf("webhook reconciliation needs a task store")
		}
		return r.awaitWebhook(ctx, taskID, gate)
	case domain.ModePoll, "":
		return r.awaitPoll(ctx, taskID, gate)
	}
	return nil, fmt.Errorf("unknown reconciliation mode %q", mode)
}

func (r *Reconciler) awaitPoll(ctx context.Context, taskID string, gate *progressGate) ([]domain.Track, error) {
	tracks, err := r.poller.Run(ctx, taskID, func(p domain.Progress) {
		r.record(ctx, domain.TaskResult{
			TaskID:   taskID,
			Status:   p.Status,
			Progress: p.Progress,
			Tracks:   p.Tracks,
		})
		gate.offer(p)
	})

	switch {
	case err == nil:
		r.record(ctx, domain.TaskResult{TaskID: taskID, Status: domain.StatusSuccess, Progress: "100%", Tracks: tracks})
	case errors.Is(err, domain.ErrTaskFailed), errors.Is(err, domain.ErrUnreachableArtifact):
		r.record(ctx, domain.TaskResult{TaskID: taskID, Status: domain.StatusFailure, Error: err.Error()})
	}
	return tracks, err
}

// awaitWebhook races the store subscription fed by webhook deliveries against
// a periodic backstop fetch. Both feed the store; the first terminal result
// seen through the subscription wins.
func (r *Reconciler) awaitWebhook(ctx context.Context, taskID string, gate *progressGate) ([]domain.Track, error) {
	start := time.Now()
	l := slog.With(slog.String("task_id", taskID), slog.String("mode", string(domain.ModeWebhook)))

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancelTimeout()
	g, gctx := errgroup.WithContext(timeoutCtx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	events := make(chan domain.TaskResult, 16)
	deliver := func(res domain.TaskResult) {
		select {
		case events <- res:
		case <-gctx.Done():
		}
	}

	subscribed := true
	unsubscribe, err := r.store.Subscribe(gctx, taskID, deliver)
	if err != nil {
		l.Warn("task subscription failed, relying on backstop", slog.String("error", err.Error()))
		unsubscribe = func() {}
		subscribed = false
	}

	var fetches atomic.Int32
	g.Go(func() error {
		r.backstop(gctx, l, taskID, subscribed, &fetches, deliver)
		return nil
	})

	finish := func() {
		unsubscribe()
		stop()
		_ = g.Wait()
	}

	for {
		select {
		case res := <-events:
			if !res.Status.IsTerminal() {
				gate.offer(domain.Progress{
					TaskID:   taskID,
					Status:   res.Status,
					Progress: res.Progress,
					Tracks:   res.Tracks,
				})
				continue
			}
			finish()
			tracks, err := r.resolve(ctx, taskID, res)
			if err != nil {
				l.Warn("task resolved", slog.String("status", string(res.Status)), slog.String("error", err.Error()))
			} else {
				l.Info("task resolved", slog.String("status", string(res.Status)), slog.Int("tracks", len(tracks)))
			}
			return tracks, err

		case <-gctx.Done():
			finish()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			elapsed := time.Since(start)
			l.Warn("task reconciliation timed out", slog.Duration("elapsed", elapsed))
			return nil, &domain.TimeoutExceededError{
				TaskID:   taskID,
				Elapsed:  elapsed,
				Limit:    r.cfg.Timeout,
				Attempts: int(fetches.Load()),
			}
		}
	}
}

// backstop fetches the status every BackstopInterval and records it. Fetch
// errors are logged and skipped; the overall timeout bounds the wait.
// Applied terminal results are also delivered directly, as is everything
// when the subscription could not be set up.
func (r *Reconciler) backstop(
	ctx context.Context,
	l *slog.Logger,
	taskID string,
	subscribed bool,
	fetches *atomic.Int32,
	deliver func(domain.TaskResult),
) {
	ticker := time.NewTicker(r.cfg.BackstopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetches.Add(1)
			raw, err := r.fetcher.FetchStatus(ctx, taskID)
			if err != nil {
				if ctx.Err() == nil {
					l.Warn("backstop fetch failed", slog.String("error", err.Error()))
				}
				continue
			}

			res := raw.Result()
			res.TaskID = taskID
			if res.Status == domain.StatusSuccess && len(res.Tracks) == 0 {
				// Upstream marks success before clips are attached.
				continue
			}
			applied, err := r.store.Set(ctx, res)
			if err != nil {
				l.Warn("backstop store write failed", slog.String("error", err.Error()))
			}
			// A rejected terminal write means the stored terminal result
			// already went out through the subscription.
			if err != nil || !subscribed || (applied && res.Status.IsTerminal()) {
				deliver(res)
			}
		}
	}
}

func (r *Reconciler) resolve(ctx context.Context, taskID string, res domain.TaskResult) ([]domain.Track, error) {
	if res.Status == domain.StatusFailure {
		return nil, &domain.TaskFailedError{TaskID: taskID, Reason: res.Error}
	}
	if len(res.Tracks) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNoTracks)
	}

	tracks := make([]domain.Track, 0, len(res.Tracks))
	urls := make([]string, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		urls = append(urls, t.AudioURL)
		if t.AudioURL == "" {
			continue
		}
		if r.prober != nil && !r.prober.Reachable(ctx, t.AudioURL) {
			continue
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, &domain.UnreachableArtifactError{TaskID: taskID, URLs: urls}
	}
	return tracks, nil
}

func (r *Reconciler) record(ctx context.Context, res domain.TaskResult) {
	if r.store == nil {
		return
	}
	if _, err := r.store.Set(ctx, res); err != nil {
		slog.Warn("task store write failed",
			slog.String("task_id", res.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
