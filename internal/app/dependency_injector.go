package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	mio "github.com/you-humble/musicgen/core/libs/minio"
	natsq "github.com/you-humble/musicgen/core/libs/nats"
	rediscli "github.com/you-humble/musicgen/core/libs/redis"
	"github.com/you-humble/musicgen/internal/domain"
	"github.com/you-humble/musicgen/internal/infra/config"
	"github.com/you-humble/musicgen/internal/infra/probe"
	"github.com/you-humble/musicgen/internal/infra/store/archive"
	taskstore "github.com/you-humble/musicgen/internal/infra/store/task"
	"github.com/you-humble/musicgen/internal/infra/suno"
	"github.com/you-humble/musicgen/internal/poller"
	"github.com/you-humble/musicgen/internal/reconciler"
	"github.com/you-humble/musicgen/internal/transport"
	"github.com/you-humble/musicgen/internal/usecase"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

// TaskStore is the full store surface the process needs: the usecase and
// reconciler views plus housekeeping.
type TaskStore interface {
	usecase.TaskStore
	Subscribe(ctx context.Context, taskID string, fn func(domain.TaskResult)) (func(), error)
	Evict(ctx context.Context, cutoff time.Time) (int, error)
}

type ResultArchive interface {
	usecase.ResultArchive
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	Stop(ctx context.Context) error
}

type dependencyInjector struct {
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger

	redis    *redis.Client
	natsConn *nats.Conn

	fanout    taskstore.Fanout
	taskStore TaskStore
	archive   ResultArchive

	sunoClient *suno.Client
	prober     *probe.Prober
	reconciler *reconciler.Reconciler

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(di.Config().LogLevel),
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("RedisClient: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}

		di.natsConn = nc
		di.Logger().Info("connected to nats", slog.String("url", nc.ConnectedUrl()))
	}
	return di.natsConn
}

// Fanout broadcasts store writes through NATS when a server is configured so
// subscribers in other processes see webhook deliveries.
func (di *dependencyInjector) Fanout(ctx context.Context) taskstore.Fanout {
	if di.fanout == nil {
		cfg := di.Config().NATS
		if cfg.URL == "" {
			di.fanout = taskstore.NewHub()
		} else {
			di.fanout = taskstore.NewNATSFanout(di.NATSConn(ctx), cfg.SubjectPrefix)
			di.Logger().Info("task updates fan out over nats", slog.String("subject_prefix", cfg.SubjectPrefix))
		}
	}
	return di.fanout
}

func (di *dependencyInjector) TaskStore(ctx context.Context) TaskStore {
	if di.taskStore == nil {
		cfg := di.Config()
		switch cfg.Store.Backend {
		case config.BackendRedis:
			di.taskStore = taskstore.NewRedisTaskStore(di.RedisClient(ctx), cfg.Store.TaskTTL, di.Fanout(ctx))
		default:
			di.taskStore = taskstore.NewMemoryTaskStore(di.Fanout(ctx))
		}
		di.Logger().Info("initialized task store", slog.String("backend", cfg.Store.Backend))
	}
	return di.taskStore
}

func (di *dependencyInjector) Archive(ctx context.Context) ResultArchive {
	if di.archive == nil {
		cfg := di.Config()
		if !cfg.Archive.Enabled {
			di.archive = archive.Nop()
			return di.archive
		}

		store, err := archive.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        cfg.MinIO.BasePath,
		})
		if err != nil {
			log.Fatalf("Archive minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO result archive",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		a := archive.NewArchiver(store, cfg.Archive.QueueCapacity, cfg.Archive.PoolSize, cfg.Archive.MaxRetries)
		// Stop drains the queue on shutdown, after ctx is already cancelled.
		a.Start(context.WithoutCancel(ctx))
		di.archive = a
		di.Logger().Info(
			"archiver started",
			slog.Int("queue_size", cfg.Archive.QueueCapacity),
			slog.Int("worker_num", cfg.Archive.PoolSize),
			slog.Int("max_retries", cfg.Archive.MaxRetries),
		)
	}
	return di.archive
}

func (di *dependencyInjector) SunoClient() *suno.Client {
	if di.sunoClient == nil {
		up := di.Config().Upstream
		di.sunoClient = suno.NewClient(suno.Config{
			BaseURLs:       up.BaseURLs,
			APIKey:         up.APIKey,
			Model:          up.Model,
			RequestTimeout: up.RequestTimeout,
			MaxAttempts:    up.MaxAttempts,
			RetryDelay:     up.RetryDelay,
			Routes: suno.Routes{
				Submit: up.Routes.Submit,
				Fetch:  up.Routes.Fetch,
				Health: up.Routes.Health,
			},
		}, nil)
	}
	return di.sunoClient
}

func (di *dependencyInjector) Prober() *probe.Prober {
	if di.prober == nil {
		cfg := di.Config().Probe
		di.prober = probe.New(cfg.Mode, cfg.Timeout, nil)
	}
	return di.prober
}

// Reconciler resolves tasks for in-process consumers. The store is only
// touched in webhook mode.
func (di *dependencyInjector) Reconciler(ctx context.Context) *reconciler.Reconciler {
	if di.reconciler == nil {
		cfg := di.Config()
		p := poller.New(poller.Config{
			MaxAttempts: cfg.Polling.MaxAttempts,
			Interval:    cfg.Polling.Interval,
			MaxDuration: cfg.Polling.MaxDuration,
		}, di.SunoClient(), di.Prober())

		var store reconciler.TaskStore
		if cfg.Mode == domain.ModeWebhook {
			store = di.TaskStore(ctx)
		}

		di.reconciler = reconciler.New(reconciler.Config{
			BackstopInterval: cfg.Reconcile.BackstopInterval,
			Timeout:          cfg.Reconcile.Timeout,
		}, store, di.SunoClient(), p, di.Prober())
	}
	return di.reconciler
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		di.usecase = usecase.New(
			cfg.Mode,
			cfg.WebhookURL(),
			di.SunoClient(),
			di.TaskStore(ctx),
			di.Archive(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx), di.Config().Diagnostics)
	}

	return di.router
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Close releases whatever the injector opened. Connections that were never
// requested are skipped.
func (di *dependencyInjector) Close(ctx context.Context) error {
	var g errgroup.Group

	if di.archive != nil {
		g.Go(func() error { return di.archive.Stop(ctx) })
	}
	if di.natsConn != nil {
		g.Go(func() error { return di.natsConn.Drain() })
	}
	if di.redis != nil {
		g.Go(func() error { return di.redis.Close() })
	}

	return g.Wait()
}
