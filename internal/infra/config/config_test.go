package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/you-humble/musicgen/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"SUNO_API_KEY", "SUNO_BASE_URL", "MUSICGEN_MODE", "MUSICGEN_ADDR", "MUSICGEN_PUBLIC_ORIGIN", "VERCEL_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_YAMLAndDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
addr: ":9090"
mode: webhook
public_origin: "https://music.example.com/"
upstream:
  api_key: "secret"
  base_urls: ["https://a.example.com", "https://b.example.com"]
reconcile:
  backstop_interval: 7s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.Mode != domain.ModeWebhook {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if len(cfg.Upstream.BaseURLs) != 2 {
		t.Fatalf("base urls = %v", cfg.Upstream.BaseURLs)
	}
	if cfg.Upstream.MaxAttempts != 2 || cfg.Upstream.RequestTimeout != 15*time.Second || cfg.Upstream.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Upstream)
	}
	if cfg.Upstream.Routes.Submit != "/suno/submit/music" {
		t.Fatalf("submit route = %q", cfg.Upstream.Routes.Submit)
	}
	if cfg.Polling.MaxAttempts != 30 || cfg.Polling.Interval != 3*time.Second || cfg.Polling.MaxDuration != 5*time.Minute {
		t.Fatalf("expected serverless polling preset, got %+v", cfg.Polling)
	}
	if cfg.Reconcile.BackstopInterval != 7*time.Second || cfg.Reconcile.Timeout != 5*time.Minute {
		t.Fatalf("reconcile = %+v", cfg.Reconcile)
	}
	if got := cfg.WebhookURL(); got != "https://music.example.com/api/webhook" {
		t.Fatalf("webhook url = %q", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUNO_API_KEY", "from-env")
	t.Setenv("SUNO_BASE_URL", "https://x.example.com, https://y.example.com")
	t.Setenv("MUSICGEN_MODE", "WEBHOOK")
	t.Setenv("VERCEL_URL", "my-app.vercel.app")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.APIKey != "from-env" {
		t.Fatalf("api key = %q", cfg.Upstream.APIKey)
	}
	if strings.Join(cfg.Upstream.BaseURLs, "|") != "https://x.example.com|https://y.example.com" {
		t.Fatalf("base urls = %v", cfg.Upstream.BaseURLs)
	}
	if got := cfg.WebhookURL(); got != "https://my-app.vercel.app/api/webhook" {
		t.Fatalf("webhook url = %q", got)
	}
}

func TestLoad_PollModeHasNoWebhook(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUNO_API_KEY", "k")
	t.Setenv("MUSICGEN_PUBLIC_ORIGIN", "https://music.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != domain.ModePoll {
		t.Fatalf("mode = %q", cfg.Mode)
	}
	if cfg.WebhookURL() != "" {
		t.Fatalf("poll mode must not derive a webhook url")
	}
	if cfg.Polling.MaxAttempts != 240 || cfg.Polling.MaxDuration != 20*time.Minute {
		t.Fatalf("expected standard polling preset, got %+v", cfg.Polling)
	}
}

func TestLoad_GatewayProfileNeedsNoKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
upstream:
  profile: gateway
  base_urls: ["http://localhost:8080"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Routes.Fetch != "/api/fetch-task" {
		t.Fatalf("fetch route = %q", cfg.Upstream.Routes.Fetch)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"missing key":   "upstream:\n  base_urls: [\"https://a\"]\n",
		"bad mode":      "mode: sometimes\nupstream:\n  api_key: k\n",
		"bad backend":   "store:\n  backend: etcd\nupstream:\n  api_key: k\n",
		"redis no addr": "store:\n  backend: redis\nupstream:\n  api_key: k\n",
		"archive minio": "archive:\n  enabled: true\nupstream:\n  api_key: k\n",
		"bad probe":     "probe:\n  mode: ping\nupstream:\n  api_key: k\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
