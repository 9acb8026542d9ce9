package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ModeHead = "head"
	ModeNone = "none"
)

type Prober struct {
	mode    string
	timeout time.Duration
	http    *http.Client
}

// New returns a prober. Mode "none" treats every non-empty URL as reachable.
func New(mode string, timeout time.Duration, httpClient *http.Client) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if mode == "" {
		mode = ModeHead
	}
	return &Prober{mode: mode, timeout: timeout, http: httpClient}
}

// Reachable reports whether the artifact at rawURL answers. A 2xx or 3xx
// counts as reachable. Servers that reject HEAD get a one-byte ranged GET.
func (p *Prober) Reachable(ctx context.Context, rawURL string) bool {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return false
	}
	if p.mode == ModeNone {
		return true
	}

	status, err := p.do(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		slog.Debug("artifact probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return false
	}

	return status >= 200 && status < 400
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	return resp.StatusCode, nil
}
