package trace

import (
	"adsbx_history/internal/models"
)

// Positional trace_full row layout:
// [offset, lat, lon, alt, gs, track, flags, vrt, ac_data, ...]
const (
	colOffset = iota
	colLat
	colLon
	colAlt
	colGs
	colTrack
	colFlags
	colVrt
	colACData
)

// FlagNewLeg marks the first position of a new flight leg in a positional row
const FlagNewLeg = 2

// keyed-row aliases, first present key wins
var (
	lonKeys   = []string{"lon", "lng"}
	timeKeys  = []string{"time", "ts", "timestamp"}
	altKeys   = []string{"alt", "alt_ft"}
	gsKeys    = []string{"gs", "gs_knots"}
	trackKeys = []string{"track", "track_deg"}
	vrtKeys   = []string{"vrt", "vrt_fpm"}
)

// ParseRow converts one raw trace record into a Hit. base is the payload's
// base timestamp, nil when the payload has none. The second return value is
// false when the record has an unsupported shape or no numeric lat/lon.
func ParseRow(raw any, base *float64) (models.Hit, bool) {
	switch row := raw.(type) {
	case []any:
		if len(row) < 3 {
			return models.Hit{}, false
		}
		return parsePositional(row, base)
	case models.Attrs:
		return parseKeyed(row)
	default:
		return models.Hit{}, false
	}
}

// RowFlags returns the flags bitmask of a positional row, if it has one
func RowFlags(raw any) (int64, bool) {
	row, ok := raw.([]any)
	if !ok || len(row) < 3 {
		return 0, false
	}
	return models.Integer(column(row, colFlags))
}

func parsePositional(row []any, base *float64) (models.Hit, bool) {
	lat, latOK := models.Number(row[colLat])
	lon, lonOK := models.Number(row[colLon])
	if !latOK || !lonOK {
		return models.Hit{}, false
	}

	hit := models.Hit{
		Lat:      lat,
		Lon:      lon,
		AltFt:    column(row, colAlt),
		GsKnots:  column(row, colGs),
		TrackDeg: column(row, colTrack),
		VrtFpm:   column(row, colVrt),
	}

	if offset, ok := models.Number(row[colOffset]); ok && base != nil {
		ts := *base + offset
		hit.Timestamp = &ts
		hit.TimeISO = models.FormatISO(ts)
	}

	if flags, ok := models.Integer(column(row, colFlags)); ok {
		hit.Flags = &flags
	}

	if ac, ok := column(row, colACData).(models.Attrs); ok {
		hit.ACData = ac
	}

	return hit, true
}

func parseKeyed(row models.Attrs) (models.Hit, bool) {
	lat, latOK := models.Number(row.Get("lat"))
	lon, lonOK := models.Number(firstValue(row, lonKeys))
	if !latOK || !lonOK {
		return models.Hit{}, false
	}

	hit := models.Hit{
		Lat:      lat,
		Lon:      lon,
		AltFt:    firstValue(row, altKeys),
		GsKnots:  firstValue(row, gsKeys),
		TrackDeg: firstValue(row, trackKeys),
		VrtFpm:   firstValue(row, vrtKeys),
	}

	if ts, ok := models.Number(firstValue(row, timeKeys)); ok {
		hit.Timestamp = &ts
		hit.TimeISO = models.FormatISO(ts)
	}

	if flags, ok := models.Integer(row.Get("flags")); ok {
		hit.Flags = &flags
	}

	if ac, ok := row.Get("ac_data").(models.Attrs); ok {
		hit.ACData = ac
	}

	return hit, true
}

func column(row []any, idx int) any {
	if idx < len(row) {
		return row[idx]
	}
	return nil
}

// firstValue returns the value of the first alias present with a non-null value
func firstValue(row models.Attrs, keys []string) any {
	for _, k := range keys {
		if v, ok := row.Lookup(k); ok && v != nil {
			return v
		}
	}
	return nil
}
