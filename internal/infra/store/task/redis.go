package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/you-humble/musicgen/internal/domain"

	"github.com/redis/go-redis/v9"
)

// setIfNotTerminal refuses to touch a hash whose status is already terminal,
// so concurrent webhook and poll writers cannot resurrect a finished task.
var setIfNotTerminal = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'SUCCESS' or cur == 'FAILURE' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'payload', ARGV[2], 'updated_at', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
return 1
`)

type redisTaskStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	fanout Fanout
}

func NewRedisTaskStore(rdb redis.Cmdable, ttl time.Duration, fanout Fanout) *redisTaskStore {
	if fanout == nil {
		fanout = NewHub()
	}
	return &redisTaskStore{rdb: rdb, ttl: ttl, fanout: fanout}
}

func (s *redisTaskStore) Get(ctx context.Context, taskID string) (domain.TaskResult, bool, error) {
	payload, err := s.rdb.HGet(ctx, taskKey(taskID), "payload").Result()
	if errors.Is(err, redis.Nil) {
		return domain.TaskResult{}, false, nil
	}
	if err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("redis get task: %w", err)
	}

	var r domain.TaskResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return domain.TaskResult{}, false, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return r, true, nil
}

func (s *redisTaskStore) Set(ctx context.Context, r domain.TaskResult) (bool, error) {
	if r.TaskID == "" {
		return false, &domain.ValidationError{Field: "task_id", Reason: "is required"}
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("encode task %s: %w", r.TaskID, err)
	}

	applied, err := setIfNotTerminal.Run(ctx, s.rdb,
		[]string{taskKey(r.TaskID), tasksByUpdatedKey()},
		string(r.Status),
		payload,
		r.UpdatedAt.UnixMilli(),
		s.ttl.Milliseconds(),
		r.TaskID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis set task: %w", err)
	}
	if applied == 0 {
		slog.Debug("terminal task not overwritten",
			slog.String("task_id", r.TaskID),
			slog.String("ignored_status", string(r.Status)),
		)
		return false, nil
	}

	if err := s.fanout.Publish(ctx, r); err != nil {
		slog.Warn("task fanout publish", slog.String("task_id", r.TaskID), slog.String("error", err.Error()))
	}
	return true, nil
}

// Subscribe registers with the fanout before reading the stored value, so a
// write landing in between is seen at least once.
func (s *redisTaskStore) Subscribe(ctx context.Context, taskID string, fn func(domain.TaskResult)) (func(), error) {
	mb := newMailbox(fn)

	unsubscribe, err := s.fanout.Subscribe(taskID, mb.push)
	if err != nil {
		mb.stop()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			mb.stop()
		})
	}

	cur, ok, err := s.Get(ctx, taskID)
	if err != nil {
		cancel()
		return nil, err
	}
	if ok {
		mb.push(cur)
	}
	return cancel, nil
}

func (s *redisTaskStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, tasksByUpdatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis range tasks: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, tasksByUpdatedKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("redis evict task", slog.String("task_id", id), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *redisTaskStore) Snapshot(ctx context.Context) ([]domain.TaskResult, error) {
	ids, err := s.rdb.ZRange(ctx, tasksByUpdatedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range tasks: %w", err)
	}

	out := make([]domain.TaskResult, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *redisTaskStore) Clear(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, tasksByUpdatedKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis range tasks: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, taskKey(id))
	}
	pipe.Del(ctx, tasksByUpdatedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear tasks: %w", err)
	}

	if h, ok := s.fanout.(*hub); ok {
		h.clear()
	}
	slog.Info("task store cleared", slog.Int("tasks", len(ids)))
	return nil
}

func taskKey(id string) string {
	return "musicgen:task:" + id
}

func tasksByUpdatedKey() string {
	return "musicgen:tasks:by_updated"
}
