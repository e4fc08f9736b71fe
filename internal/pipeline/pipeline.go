package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adsbx_history/internal/adsbx"
	"adsbx_history/internal/database"
	"adsbx_history/internal/export"
	"adsbx_history/internal/metrics"
	"adsbx_history/internal/models"
	"adsbx_history/internal/reconcile"
	"adsbx_history/internal/sources"
	"adsbx_history/internal/trace"
)

// TraceFetcher returns the raw payload for one aircraft and day.
// adsbx.ErrNotFound means there is no data for that day.
type TraceFetcher interface {
	FetchDay(ctx context.Context, hex string, day time.Time) ([]byte, error)
}

// FlightDataSource returns an aircraft record from a flight-data service
type FlightDataSource interface {
	Lookup(ctx context.Context, hex string) (models.Attrs, error)
}

// PhotoSource returns a representative photo for an aircraft
type PhotoSource interface {
	Lookup(ctx context.Context, hex string) (sources.Photo, error)
}

// AircraftDB returns the bulk-database record for an aircraft
type AircraftDB interface {
	Lookup(ctx context.Context, hex string) (models.Attrs, error)
}

// Pipeline runs history queries. Only Fetcher is required; a nil source
// contributes nothing.
type Pipeline struct {
	Fetcher    TraceFetcher
	FlightData FlightDataSource
	Photos     PhotoSource
	AircraftDB AircraftDB
	Names      *reconcile.TypeNames
	Metrics    *metrics.Metrics
}

// run holds the state of one query
type run struct {
	p      *Pipeline
	q      models.Query
	events chan<- Event
	rec    *reconcile.Reconciler
}

// Run executes one query: reconcile metadata, fetch and parse every day in
// order, then write the requested exports. Cancellation is honoured at day
// boundaries and reported as OutcomeStopped. Events, if non-nil, receive
// progress, metadata snapshots and finally one EventDone; the channel is
// not closed.
func (p *Pipeline) Run(ctx context.Context, q models.Query, events chan<- Event) Result {
	start := time.Now()
	r := &run{p: p, q: q, events: events}

	res := r.execute(ctx)
	res.Duration = time.Since(start)

	if p.Metrics != nil {
		p.Metrics.Queries.WithLabelValues(string(res.Outcome)).Inc()
		p.Metrics.QueryDuration.Observe(res.Duration.Seconds())
	}
	slog.Info("Query finished",
		"hex", q.Hex,
		"outcome", res.Outcome,
		"segments", res.Segments,
		"points", res.Points,
		"duration", res.Duration,
	)

	r.emit(doneEvent(res))
	return res
}

func (r *run) execute(ctx context.Context) Result {
	if err := r.q.Validate(); err != nil {
		r.progress("Invalid query: %v", err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	if r.p.Fetcher == nil {
		return Result{Outcome: OutcomeFailed, Err: errors.New("no trace fetcher configured")}
	}

	q := r.q
	days := q.Days()
	res := Result{Days: len(days)}

	r.progress("Query %s from %s to %s (%d days)",
		q.Hex, q.Start.Format(models.DateLayout), q.End.Format(models.DateLayout), len(days))

	r.rec = reconcile.New(q.Hex, r.p.Names)
	r.reconcileSources(ctx)
	r.emit(metaEvent(r.rec.Meta()))

	var segments []models.Segment
	for _, day := range days {
		if ctx.Err() != nil {
			r.progress("Stopped before %s", day.Format(models.DateLayout))
			res.Outcome = OutcomeStopped
			return res
		}

		daySegments, err := r.processDay(ctx, day)
		if err != nil {
			r.progress("Stopped during %s", day.Format(models.DateLayout))
			res.Outcome = OutcomeStopped
			return res
		}
		if len(daySegments) > 0 {
			res.DaysData++
			segments = append(segments, daySegments...)
		}
	}

	if len(segments) == 0 {
		r.progress("No valid points found in any day")
		res.Outcome = OutcomeNoData
		return res
	}

	r.rec.MergeHits(segments)
	meta := r.rec.Meta()
	r.emit(metaEvent(meta))

	track := &models.Track{Hex: q.Hex, Segments: segments, Meta: meta}
	res.Track = track
	res.Segments = len(segments)
	res.Points = track.PointCount()
	r.progress("Track has %d points in %d segments", res.Points, res.Segments)

	res.Exports = r.exportAll(track)
	res.Outcome = OutcomeSuccess
	return res
}

// reconcileSources merges the per-query sources in precedence order:
// flight data, photo, bulk database. A failing source contributes nothing.
func (r *run) reconcileSources(ctx context.Context) {
	hex := r.q.Hex

	if r.p.FlightData != nil {
		rec, err := r.p.FlightData.Lookup(ctx, hex)
		r.observeSource("flight_data", err)
		if err != nil {
			r.progress("Flight-data lookup unavailable: %v", err)
		} else {
			r.rec.MergeFlightData(rec)
			r.progress("Flight-data record merged")
		}
	}

	if r.p.Photos != nil {
		photo, err := r.p.Photos.Lookup(ctx, hex)
		r.observeSource("photo", err)
		if err != nil {
			r.progress("Photo lookup unavailable: %v", err)
		} else {
			r.rec.MergePhoto(photo.URL, photo.Registration)
			r.progress("Photo found")
		}
	}

	if r.p.AircraftDB != nil {
		rec, err := r.p.AircraftDB.Lookup(ctx, hex)
		r.observeSource("database", err)
		if err != nil {
			r.progress("No aircraft database record: %v", err)
		} else {
			r.rec.MergeDatabase(rec)
			r.progress("Aircraft database record merged")
		}
	}
}

// processDay fetches, decodes and parses one day. Missing and malformed
// days yield no segments; only cancellation is returned as an error.
func (r *run) processDay(ctx context.Context, day time.Time) ([]models.Segment, error) {
	dayStr := day.Format(models.DateLayout)

	raw, err := r.p.Fetcher.FetchDay(ctx, r.q.Hex, day)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, adsbx.ErrNotFound) {
			r.observeDay("not_found")
			r.progress("%s: no data", dayStr)
		} else {
			r.observeDay("error")
			r.progress("%s: fetch failed: %v", dayStr, err)
			slog.Warn("Trace fetch failed", "hex", r.q.Hex, "day", dayStr, "error", err)
		}
		return nil, nil
	}

	blob, err := trace.DecodePayload(raw)
	if err != nil {
		r.observeDay("malformed")
		r.progress("%s: unreadable payload", dayStr)
		slog.Warn("Skipping malformed trace", "hex", r.q.Hex, "day", dayStr, "error", err)
		return nil, nil
	}

	if header := trace.Header(blob); header.Len() > 0 {
		r.rec.MergeTraceHeader(header)
		r.emit(metaEvent(r.rec.Meta()))
	}

	segments := trace.ParseTrace(blob)
	points := 0
	for _, seg := range segments {
		points += len(seg)
	}
	r.observeDay("ok")
	if r.p.Metrics != nil {
		r.p.Metrics.HitsParsed.Add(float64(points))
		r.p.Metrics.Segments.Add(float64(len(segments)))
	}
	r.progress("%s: %d points in %d segment(s)", dayStr, points, len(segments))
	return segments, nil
}

// exportAll writes every requested format in kml, csv, json order. A
// failing exporter does not stop the others.
func (r *run) exportAll(track *models.Track) []ExportResult {
	base := r.q.BaseName()
	var results []ExportResult

	for _, format := range models.AllFormats {
		if !r.q.Wants(format) {
			continue
		}

		result := ExportResult{Format: format}
		exp, err := export.New(format)
		if err == nil {
			result.Path, err = export.WriteFile(r.q.OutDir, base, exp, track)
		}
		result.Err = err

		status := "ok"
		if err != nil {
			status = "error"
			r.progress("%s export failed: %v", format, err)
			slog.Error("Export failed", "format", format, "error", err)
		} else {
			r.progress("Wrote %s", result.Path)
		}
		if r.p.Metrics != nil {
			r.p.Metrics.Exports.WithLabelValues(string(format), status).Inc()
		}
		results = append(results, result)
	}
	return results
}

func (r *run) observeSource(source string, err error) {
	if r.p.Metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sources.ErrNoRecord), errors.Is(err, database.ErrNoRecord):
		status = "no_record"
	default:
		status = "error"
	}
	r.p.Metrics.SourceLookups.WithLabelValues(source, status).Inc()
}

func (r *run) observeDay(status string) {
	if r.p.Metrics != nil {
		r.p.Metrics.DaysFetched.WithLabelValues(status).Inc()
	}
}

func (r *run) progress(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Debug("Progress", "hex", r.q.Hex, "message", msg)
	r.emit(progressEvent(msg))
}

func (r *run) emit(ev Event) {
	if r.events != nil {
		r.events <- ev
	}
}
