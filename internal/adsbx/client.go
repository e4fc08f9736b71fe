package adsbx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTraceURL = "https://globe.adsbexchange.com/globe_history"
	Referer         = "https://globe.adsbexchange.com/"
	UserAgent       = "adsbx-history/1.0"
)

// ErrNotFound means the archive has no trace for the aircraft on that day,
// or the fetch gave up after exhausting its attempts
var ErrNotFound = errors.New("trace not found")

// ClientConfig controls trace downloads
type ClientConfig struct {
	TraceURL    string
	CacheDir    string        // empty disables the disk cache
	Pacing      time.Duration // minimum spacing between requests
	RetryWait   time.Duration // wait after HTTP 429
	ErrorWait   time.Duration // wait after any other failure
	MaxAttempts int
	Timeout     time.Duration
}

// Client downloads per-day trace_full payloads from the ADSBx globe
// history archive. Requests are strictly paced and answered from the disk
// cache when possible.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.TraceURL == "" {
		cfg.TraceURL = DefaultTraceURL
	}
	cfg.TraceURL = strings.TrimRight(cfg.TraceURL, "/")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		cfg:        cfg,
	}
}

// TraceURL returns the archive URL of one day's trace
func (c *Client) TraceURL(hex string, day time.Time) string {
	hex = strings.ToLower(hex)
	suffix := hex
	if len(hex) > 2 {
		suffix = hex[len(hex)-2:]
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/traces/%s/trace_full_%s.json",
		c.cfg.TraceURL, day.Year(), day.Month(), day.Day(), suffix, hex)
}

// CachePath returns where one day's payload is cached, "" when caching is off
func (c *Client) CachePath(hex string, day time.Time) string {
	if c.cfg.CacheDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.CacheDir, strings.ToLower(hex), day.Format("2006-01-02"), "trace_full.json")
}

// FetchDay returns the raw payload for one aircraft and UTC day. A cached
// copy is returned without touching the network. ErrNotFound covers both a
// 404 and giving up after MaxAttempts.
func (c *Client) FetchDay(ctx context.Context, hex string, day time.Time) ([]byte, error) {
	cachePath := c.CachePath(hex, day)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			slog.Debug("Trace served from cache", "hex", hex, "day", day.Format("2006-01-02"))
			return data, nil
		}
	}

	url := c.TraceURL(hex, day)
	dayStr := day.Format("2006-01-02")

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, status, err := c.get(ctx, url)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case err != nil:
			slog.Warn("Trace request failed, retrying", "day", dayStr, "attempt", attempt, "wait", c.cfg.ErrorWait, "error", err)
			if err := sleep(ctx, c.cfg.ErrorWait); err != nil {
				return nil, err
			}

		case status == http.StatusOK:
			if cachePath != "" {
				if err := writeFileAtomic(cachePath, data); err != nil {
					slog.Warn("Failed to cache trace", "path", cachePath, "error", err)
				}
			}
			slog.Info("Trace downloaded", "day", dayStr, "bytes", len(data))
			return data, nil

		case status == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dayStr)

		case status == http.StatusTooManyRequests:
			slog.Warn("Rate limited, backing off", "day", dayStr, "attempt", attempt, "wait", c.cfg.RetryWait)
			if err := sleep(ctx, c.cfg.RetryWait); err != nil {
				return nil, err
			}

		default:
			slog.Warn("Unexpected trace response, retrying", "day", dayStr, "status", status, "attempt", attempt, "wait", c.cfg.ErrorWait)
			if err := sleep(ctx, c.cfg.ErrorWait); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %s: gave up after %d attempts", ErrNotFound, dayStr, c.cfg.MaxAttempts)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Referer", Referer)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// writeFileAtomic writes data next to path and renames it into place so a
// partial download never looks like a cached payload
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
