package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

type StatusFetcher interface {
	FetchStatus(ctx context.Context, taskID string) (domain.RawStatus, error)
}

type Prober interface {
	Reachable(ctx context.Context, rawURL string) bool
}

type State string

const (
	StateStarted   State = "STARTED"
	StatePolling   State = "POLLING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Config bounds a polling run. MaxAttempts and MaxDuration are enforced
// independently; whichever is exhausted first ends the run.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
	MaxDuration time.Duration
}

type Poller struct {
	cfg     Config
	fetcher StatusFetcher
	prober  Prober
}

func New(cfg Config, fetcher StatusFetcher, prober Prober) *Poller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 240
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 20 * time.Minute
	}
	return &Poller{cfg: cfg, fetcher: fetcher, prober: prober}
}

// Run polls taskID until it reaches a terminal state, the budget runs out or
// ctx is cancelled. onProgress is called for every non-terminal observation,
// in order, from the calling goroutine. On success it returns the tracks whose
// audio passed the reachability probe.
func (p *Poller) Run(ctx context.Context, taskID string, onProgress func(domain.Progress)) ([]domain.Track, error) {
	start := time.Now()
	l := slog.With(slog.String("task_id", taskID))
	l.Info("polling", slog.String("state", string(StateStarted)),
		slog.Int("max_attempts", p.cfg.MaxAttempts),
		slog.Duration("interval", p.cfg.Interval),
		slog.Duration("max_duration", p.cfg.MaxDuration),
	)

	attempts := 0
	for attempts < p.cfg.MaxAttempts {
		elapsed := time.Since(start)
		if elapsed >= p.cfg.MaxDuration {
			break
		}
		attempts++

		raw, err := p.fetcher.FetchStatus(ctx, taskID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && domain.IsTransient(err):
			l.Warn("poll attempt failed, retrying",
				slog.String("state", string(StatePolling)),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
		case err != nil:
			l.Error("polling aborted",
				slog.String("state", string(StateFailed)),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return nil, err
		default:
			tracks, done, err := p.observe(ctx, l, taskID, raw, attempts, onProgress)
			if done {
				return tracks, err
			}
		}

		if attempts >= p.cfg.MaxAttempts {
			break
		}
		wait := p.cfg.Interval
		if remaining := p.cfg.MaxDuration - time.Since(start); remaining < wait {
			wait = max(remaining, 0)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	l.Warn("polling gave up",
		slog.String("state", string(StateTimedOut)),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
	)
	return nil, &domain.TimeoutExceededError{
		TaskID:   taskID,
		Elapsed:  elapsed,
		Limit:    p.cfg.MaxDuration,
		Attempts: attempts,
	}
}

// observe handles one status answer. done is true when the run is over.
func (p *Poller) observe(
	ctx context.Context,
	l *slog.Logger,
	taskID string,
	raw domain.RawStatus,
	attempt int,
	onProgress func(domain.Progress),
) ([]domain.Track, bool, error) {
	status := domain.NormalizeStatus(raw.Status)
	l.Debug("poll attempt",
		slog.Int("attempt", attempt),
		slog.String("status", string(status)),
		slog.String("progress", raw.Progress),
	)

	switch status {
	case domain.StatusSuccess:
		if len(raw.Tracks) == 0 {
			// Upstream sometimes reports success before attaching the clips.
			return nil, false, nil
		}
		tracks := p.reachableTracks(ctx, raw.Tracks)
		if len(tracks) == 0 {
			if ctx.Err() != nil {
				return nil, true, ctx.Err()
			}
			urls := make([]string, 0, len(raw.Tracks))
			for _, t := range raw.Tracks {
				urls = append(urls, t.AudioURL)
			}
			l.Error("polling finished", slog.String("state", string(StateFailed)), slog.String("reason", "artifacts unreachable"))
			return nil, true, &domain.UnreachableArtifactError{TaskID: taskID, URLs: urls}
		}
		l.Info("polling finished",
			slog.String("state", string(StateSucceeded)),
			slog.Int("attempts", attempt),
			slog.Int("tracks", len(tracks)),
		)
		return tracks, true, nil

	case domain.StatusFailure:
		l.Error("polling finished",
			slog.String("state", string(StateFailed)),
			slog.String("reason", raw.FailReason),
		)
		return nil, true, &domain.TaskFailedError{TaskID: taskID, Reason: raw.FailReason}
	}

	if onProgress != nil {
		onProgress(domain.Progress{
			TaskID:   taskID,
			Status:   status,
			Progress: raw.Progress,
			Tracks:   raw.Tracks,
		})
	}
	return nil, false, nil
}

func (p *Poller) reachableTracks(ctx context.Context, tracks []domain.Track) []domain.Track {
	out := make([]domain.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.AudioURL == "" {
			continue
		}
		if p.prober != nil && !p.prober.Reachable(ctx, t.AudioURL) {
			slog.Warn("track audio unreachable",
				slog.String("track_id", t.ID),
				slog.String("audio_url", t.AudioURL),
			)
			continue
		}
		out = append(out, t)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("polling cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
