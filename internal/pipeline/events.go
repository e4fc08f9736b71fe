package pipeline

import (
	"time"

	"adsbx_history/internal/models"
)

// Outcome is the terminal state of one query
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoData  Outcome = "no_data"
	OutcomeStopped Outcome = "stopped"
	OutcomeFailed  Outcome = "failed"
)

// ExportResult reports one exporter. Err is set when that format failed;
// the other formats are unaffected.
type ExportResult struct {
	Format models.Format
	Path   string
	Err    error
}

// Result is the final report of Run
type Result struct {
	Outcome  Outcome
	Err      error // set for OutcomeFailed
	Exports  []ExportResult
	Days     int // days in range
	DaysData int // days that contributed at least one segment
	Segments int
	Points   int
	Track    *models.Track // nil unless segments were found
	Duration time.Duration
}

// ExportErrors returns the exporters that failed
func (r *Result) ExportErrors() []ExportResult {
	var failed []ExportResult
	for _, e := range r.Exports {
		if e.Err != nil {
			failed = append(failed, e)
		}
	}
	return failed
}

// EventKind tells the consumer which field of an Event is set
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventMeta     EventKind = "meta"
	EventDone     EventKind = "done"
)

// Event is one notification from a running query. Progress carries
// Message, meta carries a frozen Meta snapshot, done carries the Result.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Message string
	Meta    *models.AircraftMeta
	Result  *Result
}

func progressEvent(msg string) Event {
	return Event{Kind: EventProgress, Time: time.Now(), Message: msg}
}

func metaEvent(meta models.AircraftMeta) Event {
	return Event{Kind: EventMeta, Time: time.Now(), Meta: &meta}
}

func doneEvent(res Result) Event {
	return Event{Kind: EventDone, Time: time.Now(), Result: &res}
}
