package app

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type evictor interface {
	Evict(ctx context.Context, cutoff time.Time) (int, error)
}

type archiveCleaner interface {
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

type cleaner struct {
	interval  time.Duration
	taskTTL   time.Duration
	retention time.Duration
	store     evictor
	archive   archiveCleaner
}

func newCleaner(interval, taskTTL, retention time.Duration, store evictor, archive archiveCleaner) *cleaner {
	return &cleaner{
		interval:  interval,
		taskTTL:   taskTTL,
		retention: retention,
		store:     store,
		archive:   archive,
	}
}

// StartCleanup evicts task entries older than the TTL and archived results
// past retention on every tick until ctx is done.
func (c *cleaner) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.sweep(ctx, now)
			}
		}
	}()
}

func (c *cleaner) sweep(ctx context.Context, now time.Time) {
	n, err := c.store.Evict(ctx, now.Add(-c.taskTTL))
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup tasks", slog.String("error", err.Error()))
	}
	if n > 0 {
		slog.Info("cleanup tasks", slog.Int("evicted_tasks", n))
	}

	removed, err := c.archive.CleanupOlderThan(ctx, c.retention)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup archived results", slog.String("error", err.Error()))
	}
	if removed > 0 {
		slog.Info("cleanup archived results", slog.Int("removed", removed))
	}
}
