package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format is one export file format
type Format string

const (
	FormatKML  Format = "kml"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// AllFormats lists the formats in the order they are written
var AllFormats = []Format{FormatKML, FormatCSV, FormatJSON}

// ErrInvalidQuery is returned by Query.Validate
var ErrInvalidQuery = errors.New("invalid query")

// DateLayout is the layout of query dates on the command line and API
const DateLayout = "2006-01-02"

// Query describes one history download: an aircraft, an inclusive UTC date
// range, the formats to write and where to write them.
type Query struct {
	Hex     string    `json:"hex"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Formats []Format  `json:"formats"`
	OutDir  string    `json:"out_dir"`
}

// ParseFormats parses a comma separated format list ("kml,csv")
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		switch f {
		case FormatKML, FormatCSV, FormatJSON:
		default:
			return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidQuery, part)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Validate canonicalizes the hex and checks the query
func (q *Query) Validate() error {
	q.Hex = strings.ToLower(strings.TrimSpace(q.Hex))
	if q.Hex == "" {
		return fmt.Errorf("%w: hex is required", ErrInvalidQuery)
	}
	if len(q.Hex) > 6 {
		return fmt.Errorf("%w: hex %q is longer than 6 digits", ErrInvalidQuery, q.Hex)
	}
	for _, c := range q.Hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return fmt.Errorf("%w: hex %q must contain only 0-9A-F", ErrInvalidQuery, q.Hex)
		}
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidQuery)
	}
	q.Start = truncateDay(q.Start)
	q.End = truncateDay(q.End)
	if q.End.Before(q.Start) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidQuery,
			q.End.Format(DateLayout), q.Start.Format(DateLayout))
	}
	if q.OutDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalidQuery)
	}
	return nil
}

// Days returns every UTC day in [Start, End]
func (q *Query) Days() []time.Time {
	var days []time.Time
	for d := truncateDay(q.Start); !d.After(truncateDay(q.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// BaseName returns the export file name without extension:
// {HEX}_{YYYYMMDD}_{YYYYMMDD}
func (q *Query) BaseName() string {
	return fmt.Sprintf("%s_%s_%s", strings.ToUpper(q.Hex),
		q.Start.Format("20060102"), q.End.Format("20060102"))
}

// Wants reports whether the query asks for format f
func (q *Query) Wants(f Format) bool {
	for _, qf := range q.Formats {
		if qf == f {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
