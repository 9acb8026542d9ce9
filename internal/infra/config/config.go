package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/you-humble/musicgen/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "./configs/local.yaml"

const (
	ProfileDirect  = "direct"
	ProfileGateway = "gateway"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	ProbeHead = "head"
	ProbeNone = "none"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	// Diagnostics exposes /api/tasks for listing and clearing the task store.
	Diagnostics bool `yaml:"diagnostics"`

	// Mode selects webhook (serverless hosting) or poll (standard hosting).
	Mode         domain.Mode `yaml:"mode"`
	PublicOrigin string      `yaml:"public_origin"`

	Upstream  Upstream  `yaml:"upstream"`
	Polling   Polling   `yaml:"polling"`
	Reconcile Reconcile `yaml:"reconcile"`
	Probe     Probe     `yaml:"probe"`
	Store     Store     `yaml:"store"`
	Archive   Archive   `yaml:"archive"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Upstream struct {
	Profile        string        `yaml:"profile"`
	BaseURLs       []string      `yaml:"base_urls"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Routes         Routes        `yaml:"routes"`
}

type Routes struct {
	Submit string `yaml:"submit"`
	Fetch  string `yaml:"fetch"`
	Health string `yaml:"health"`
}

type Polling struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type Reconcile struct {
	BackstopInterval time.Duration `yaml:"backstop_interval"`
	Timeout          time.Duration `yaml:"timeout"`
}

type Probe struct {
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

type Store struct {
	Backend         string        `yaml:"backend"`
	TaskTTL         time.Duration `yaml:"task_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type Archive struct {
	Enabled       bool          `yaml:"enabled"`
	QueueCapacity int           `yaml:"queue_capacity"`
	PoolSize      int           `yaml:"pool_size"`
	MaxRetries    int           `yaml:"max_retries"`
	Retention     time.Duration `yaml:"retention"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Path returns the config file location, honouring MUSICGEN_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("MUSICGEN_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads the YAML file (a missing file is not an error), applies .env and
// environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal yaml %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUNO_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("SUNO_BASE_URL"); v != "" {
		cfg.Upstream.BaseURLs = splitList(v)
	}
	if v := os.Getenv("MUSICGEN_MODE"); v != "" {
		cfg.Mode = domain.Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv("MUSICGEN_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("MUSICGEN_PUBLIC_ORIGIN"); v != "" {
		cfg.PublicOrigin = v
	} else if v := os.Getenv("VERCEL_URL"); v != "" && cfg.PublicOrigin == "" {
		cfg.PublicOrigin = "https://" + strings.TrimPrefix(v, "https://")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModePoll
	}

	up := &cfg.Upstream
	if up.Profile == "" {
		up.Profile = ProfileDirect
	}
	if len(up.BaseURLs) == 0 && up.Profile == ProfileDirect {
		up.BaseURLs = []string{"https://api.apicore.ai"}
	}
	if up.Model == "" {
		up.Model = "suno-v3.5"
	}
	if up.RequestTimeout <= 0 {
		up.RequestTimeout = 15 * time.Second
	}
	if up.MaxAttempts <= 0 {
		up.MaxAttempts = 2
	}
	if up.RetryDelay <= 0 {
		up.RetryDelay = 2 * time.Second
	}
	defRoutes := DefaultRoutes(up.Profile)
	if up.Routes.Submit == "" {
		up.Routes.Submit = defRoutes.Submit
	}
	if up.Routes.Fetch == "" {
		up.Routes.Fetch = defRoutes.Fetch
	}
	if up.Routes.Health == "" {
		up.Routes.Health = defRoutes.Health
	}

	preset := PollingPreset(cfg.Mode)
	if cfg.Polling.MaxAttempts <= 0 {
		cfg.Polling.MaxAttempts = preset.MaxAttempts
	}
	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = preset.Interval
	}
	if cfg.Polling.MaxDuration <= 0 {
		cfg.Polling.MaxDuration = preset.MaxDuration
	}

	if cfg.Reconcile.BackstopInterval <= 0 {
		cfg.Reconcile.BackstopInterval = 10 * time.Second
	}
	if cfg.Reconcile.Timeout <= 0 {
		cfg.Reconcile.Timeout = 5 * time.Minute
	}

	if cfg.Probe.Mode == "" {
		cfg.Probe.Mode = ProbeHead
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = 5 * time.Second
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.TaskTTL <= 0 {
		cfg.Store.TaskTTL = 24 * time.Hour
	}
	if cfg.Store.CleanupInterval <= 0 {
		cfg.Store.CleanupInterval = time.Hour
	}

	if cfg.Archive.QueueCapacity <= 0 {
		cfg.Archive.QueueCapacity = 100
	}
	if cfg.Archive.PoolSize <= 0 {
		cfg.Archive.PoolSize = 2
	}
	if cfg.Archive.MaxRetries <= 0 {
		cfg.Archive.MaxRetries = 3
	}
	if cfg.Archive.Retention <= 0 {
		cfg.Archive.Retention = 30 * 24 * time.Hour
	}

	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "musicgen"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "musicgen.tasks"
	}
	if cfg.MinIO.BasePath == "" {
		cfg.MinIO.BasePath = "results"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Mode {
	case domain.ModeWebhook, domain.ModePoll:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", domain.ModeWebhook, domain.ModePoll, cfg.Mode)
	}
	switch cfg.Upstream.Profile {
	case ProfileDirect:
		if cfg.Upstream.APIKey == "" {
			return fmt.Errorf("upstream.api_key is empty (set SUNO_API_KEY)")
		}
	case ProfileGateway:
	default:
		return fmt.Errorf("upstream.profile must be %q or %q, got %q", ProfileDirect, ProfileGateway, cfg.Upstream.Profile)
	}
	if len(cfg.Upstream.BaseURLs) == 0 {
		return fmt.Errorf("upstream.base_urls is empty (set SUNO_BASE_URL)")
	}
	switch cfg.Probe.Mode {
	case ProbeHead, ProbeNone:
	default:
		return fmt.Errorf("probe.mode must be %q or %q, got %q", ProbeHead, ProbeNone, cfg.Probe.Mode)
	}
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("store.backend is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendRedis, cfg.Store.Backend)
	}
	if cfg.Archive.Enabled && (cfg.MinIO.Endpoint == "" || cfg.MinIO.Bucket == "") {
		return fmt.Errorf("archive is enabled but minio.endpoint or minio.bucket is empty")
	}
	return nil
}

// WebhookURL is the callback address handed to the upstream API in webhook
// mode. It is empty in poll mode or when no public origin is known.
func (cfg *Config) WebhookURL() string {
	if cfg.Mode != domain.ModeWebhook || cfg.PublicOrigin == "" {
		return ""
	}
	return strings.TrimRight(cfg.PublicOrigin, "/") + "/api/webhook"
}

func DefaultRoutes(profile string) Routes {
	if profile == ProfileGateway {
		return Routes{
			Submit: "/api/generate-music",
			Fetch:  "/api/fetch-task",
			Health: "/api/health",
		}
	}
	return Routes{
		Submit: "/suno/submit/music",
		Fetch:  "/suno/fetch",
		Health: "/health",
	}
}

// PollingPreset returns the short serverless bounds for webhook mode and the
// long bounds for standard hosting.
func PollingPreset(mode domain.Mode) Polling {
	if mode == domain.ModeWebhook {
		return Polling{MaxAttempts: 30, Interval: 3 * time.Second, MaxDuration: 5 * time.Minute}
	}
	return Polling{MaxAttempts: 240, Interval: 5 * time.Second, MaxDuration: 20 * time.Minute}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
