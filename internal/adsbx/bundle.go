package adsbx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"adsbx_history/internal/database"
)

const (
	DefaultBundleURL = "http://downloads.adsbexchange.com/downloads/basic-ac-db.json.gz"
	bundleFileName   = "basic-ac-db.json.gz"
)

// BundleFetcher downloads the ADSBx basic aircraft database and loads it
// into the aircraft table. The download is kept in CacheDir and reused.
type BundleFetcher struct {
	URL       string
	CacheDir  string
	BatchSize int
	Timeout   time.Duration
}

// Path returns where the bundle is cached
func (b *BundleFetcher) Path() string {
	return filepath.Join(b.CacheDir, bundleFileName)
}

// Download fetches the bundle unless a cached copy exists and returns its path
func (b *BundleFetcher) Download(ctx context.Context) (string, error) {
	path := b.Path()
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		slog.Info("Using cached aircraft database bundle", "path", path)
		return path, nil
	}

	url := b.URL
	if url == "" {
		url = DefaultBundleURL
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	slog.Info("Downloading aircraft database bundle", "url", url)
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download aircraft database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download aircraft database: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read aircraft database: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to save aircraft database: %w", err)
	}
	return path, nil
}

// Populate downloads the bundle when needed and loads it into repo. It
// satisfies database.PopulateFunc.
func (b *BundleFetcher) Populate(ctx context.Context, repo database.AircraftRepository) (int, error) {
	path, err := b.Download(ctx)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open aircraft database bundle: %w", err)
	}
	defer f.Close()

	r, err := maybeGzip(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}
	return repo.LoadFromJSON(r, b.BatchSize)
}

// maybeGzip returns a decompressing reader when r starts with the gzip magic
func maybeGzip(r *bufio.Reader) (io.Reader, error) {
	magic, err := r.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read aircraft database bundle: %w", err)
	}
	if !bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		return r, nil
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return zr, nil
}
