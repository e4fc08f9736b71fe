package trace

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"adsbx_history/internal/models"
)

// ErrMalformedPayload is returned when a day's payload is neither JSON nor gzip-wrapped JSON
var ErrMalformedPayload = errors.New("malformed trace payload")

// positionKeys are the payload keys that may hold the position array, in priority order
var positionKeys = []string{"trace", "positions", "trail"}

var gzipMagic = []byte{0x1f, 0x8b}

// DecodePayload decodes one day's raw bytes. Plain JSON is tried first;
// gzip-wrapped JSON is accepted too.
func DecodePayload(raw []byte) (any, error) {
	if bytes.HasPrefix(raw, gzipMagic) {
		return decodeGzip(raw)
	}

	blob, err := models.DecodeJSON(bytes.NewReader(raw))
	if err == nil {
		return blob, nil
	}

	blob, gzErr := decodeGzip(raw)
	if gzErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return blob, nil
}

func decodeGzip(raw []byte) (any, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress: %v", ErrMalformedPayload, err)
	}

	blob, err := models.DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return blob, nil
}

// ParseTrace converts one decoded payload into flight segments.
//
// A positional row whose flags have FlagNewLeg set closes the open segment
// before the row itself is validated, so an invalid row can still end a leg.
// Segments are never empty; a payload with no valid positions yields none.
func ParseTrace(blob any) []models.Segment {
	rows, base := positions(blob)
	if rows == nil {
		return nil
	}

	var segments []models.Segment
	var current models.Segment

	flush := func() {
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
		}
	}

	for _, raw := range rows {
		if flags, ok := RowFlags(raw); ok && flags&FlagNewLeg != 0 {
			flush()
		}

		hit, ok := ParseRow(raw, base)
		if !ok {
			continue
		}
		current = append(current, hit)
	}
	flush()

	return segments
}

// Header returns the payload's top-level fields without the position array.
// Bare-array payloads have no header.
func Header(blob any) models.Attrs {
	obj, ok := blob.(models.Attrs)
	if !ok {
		return nil
	}
	return obj.Without(positionKeys...)
}

func positions(blob any) ([]any, *float64) {
	switch b := blob.(type) {
	case []any:
		return b, nil
	case models.Attrs:
		var base *float64
		if ts, ok := models.Number(b.Get("timestamp")); ok {
			base = &ts
		}
		for _, key := range positionKeys {
			if rows, ok := b.Get(key).([]any); ok && len(rows) > 0 {
				return rows, base
			}
		}
		return nil, base
	default:
		return nil, nil
	}
}
