// Package sources queries the public metadata services used to identify an
// aircraft: OpenSky's aircraft metadata API and Planespotters' photo API.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"adsbx_history/internal/models"
)

const (
	DefaultOpenSkyURL       = "https://opensky-network.org"
	DefaultPlanespottersURL = "https://api.planespotters.net"
	userAgent               = "adsbx-history/1.0"
)

// ErrNoRecord is returned when a service answers but knows nothing about the aircraft
var ErrNoRecord = errors.New("no record")

// getJSON fetches url and decodes the body preserving key order. Any
// status other than 200 is ErrNoRecord.
func getJSON(ctx context.Context, client *http.Client, url string) (models.Attrs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrNoRecord, resp.StatusCode)
	}

	v, err := models.DecodeJSON(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	rec, ok := v.(models.Attrs)
	if !ok {
		return nil, fmt.Errorf("%w: response is not an object", ErrNoRecord)
	}
	return rec, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// OpenSkyClient looks up aircraft in the OpenSky metadata API
type OpenSkyClient struct {
	baseURL string
	client  *http.Client
}

func NewOpenSkyClient(baseURL string, timeout time.Duration) *OpenSkyClient {
	if baseURL == "" {
		baseURL = DefaultOpenSkyURL
	}
	return &OpenSkyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

// Lookup returns the raw OpenSky record for hex
func (c *OpenSkyClient) Lookup(ctx context.Context, hex string) (models.Attrs, error) {
	url := fmt.Sprintf("%s/api/metadata/aircraft/icao24/%s", c.baseURL, strings.ToLower(hex))
	return getJSON(ctx, c.client, url)
}

// Photo is the first Planespotters photo of an aircraft
type Photo struct {
	URL          string
	Registration string
}

// PlanespottersClient looks up aircraft photos
type PlanespottersClient struct {
	baseURL string
	client  *http.Client
}

func NewPlanespottersClient(baseURL string, timeout time.Duration) *PlanespottersClient {
	if baseURL == "" {
		baseURL = DefaultPlanespottersURL
	}
	return &PlanespottersClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

// Lookup returns the large thumbnail (or the plain thumbnail) and
// registration of the first photo for hex. No photos is ErrNoRecord.
func (c *PlanespottersClient) Lookup(ctx context.Context, hex string) (Photo, error) {
	url := fmt.Sprintf("%s/pub/photos/hex/%s", c.baseURL, strings.ToLower(hex))
	rec, err := getJSON(ctx, c.client, url)
	if err != nil {
		return Photo{}, err
	}

	photos, _ := rec.Get("photos").([]any)
	if len(photos) == 0 {
		return Photo{}, fmt.Errorf("%w: no photos", ErrNoRecord)
	}
	first, ok := photos[0].(models.Attrs)
	if !ok {
		return Photo{}, fmt.Errorf("%w: unexpected photo entry", ErrNoRecord)
	}

	var photo Photo
	for _, key := range []string{"thumbnail_large", "thumbnail"} {
		thumb, ok := first.Get(key).(models.Attrs)
		if !ok {
			continue
		}
		if src, ok := thumb.Get("src").(string); ok && src != "" {
			photo.URL = src
			break
		}
	}
	for _, key := range []string{"registration", "reg"} {
		if reg, ok := first.Get(key).(string); ok && strings.TrimSpace(reg) != "" {
			photo.Registration = strings.TrimSpace(reg)
			break
		}
	}
	return photo, nil
}
