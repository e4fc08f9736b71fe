package models

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Hit is one observed position sample of a trace
type Hit struct {
	Timestamp *float64 `json:"timestamp"` // seconds since Unix epoch
	TimeISO   *string  `json:"time_iso"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AltFt     any      `json:"alt_ft"` // number, or "ground"
	GsKnots   any      `json:"gs_knots"`
	TrackDeg  any      `json:"track_deg"`
	Flags     *int64   `json:"flags"`
	VrtFpm    any      `json:"vrt_fpm"`
	ACData    Attrs    `json:"ac_data,omitempty"` // embedded per-sample aircraft data
}

// Python-compatible isoformat: microseconds only when non-zero
const (
	isoLayout      = "2006-01-02T15:04:05"
	isoLayoutMicro = "2006-01-02T15:04:05.000000"
)

var (
	minISOTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxISOTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// FormatISO converts seconds since the epoch to a UTC ISO-8601 string with
// a trailing Z. It returns nil when ts is outside years 1..9999.
func FormatISO(ts float64) *string {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil
	}
	sec := math.Floor(ts)
	if sec < float64(minISOTime) || sec > float64(maxISOTime) {
		return nil
	}
	micros := int64(math.Round((ts - sec) * 1e6))
	t := time.Unix(int64(sec), 0).UTC()
	if micros >= 1e6 {
		t = t.Add(time.Second)
		micros = 0
	}
	var s string
	if micros == 0 {
		s = t.Format(isoLayout) + "Z"
	} else {
		s = t.Add(time.Duration(micros)*time.Microsecond).Format(isoLayoutMicro) + "Z"
	}
	return &s
}

// Segment is an ordered run of hits believed to be one flight leg
type Segment []Hit

// Track is the result of one query: every segment across the date range plus
// the reconciled aircraft metadata.
type Track struct {
	Hex      string
	Segments []Segment
	Meta     AircraftMeta
}

// PointCount returns the total number of hits across all segments
func (t *Track) PointCount() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg)
	}
	return n
}

// ACKeys returns the sorted union of ac_data keys over every hit of every
// segment. All exporters use this as their per-record attribute schema.
func (t *Track) ACKeys() []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, seg := range t.Segments {
		for _, hit := range seg {
			for _, kv := range hit.ACData {
				if _, ok := seen[kv.Key]; ok {
					continue
				}
				seen[kv.Key] = struct{}{}
				keys = append(keys, kv.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// FormatFloat renders a float the shortest way that round-trips
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
