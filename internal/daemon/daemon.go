package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"adsbx_history/internal/models"
	"adsbx_history/internal/pipeline"
)

var (
	// ErrBusy is returned by Submit while a query is running
	ErrBusy = errors.New("a query is already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop
	ErrNotRunning = errors.New("no query is running")
)

// State is the daemon's query lifecycle state
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

const (
	progressHistory  = 50
	subscriberBuffer = 64
)

// Runner executes one query; *pipeline.Pipeline implements it
type Runner interface {
	Run(ctx context.Context, q models.Query, events chan<- pipeline.Event) pipeline.Result
}

// Daemon runs at most one query at a time in the background and keeps
// its progress, latest metadata and final result for status requests.
type Daemon struct {
	runner Runner

	mu       sync.Mutex
	state    State
	query    *models.Query
	started  time.Time
	progress []string
	meta     *models.AircraftMeta
	result   *pipeline.Result
	cancel   context.CancelFunc
	done     chan struct{}
	subs     map[chan pipeline.Event]struct{}
}

// New creates an idle daemon
func New(runner Runner) *Daemon {
	return &Daemon{
		runner: runner,
		state:  StateIdle,
		subs:   make(map[chan pipeline.Event]struct{}),
	}
}

// Submit validates q and starts it in the background
func (d *Daemon) Submit(q models.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.state = StateRunning
	d.query = &q
	d.started = time.Now()
	d.progress = nil
	d.meta = nil
	d.result = nil
	d.cancel = cancel
	d.done = done

	slog.Info("Query submitted", "hex", q.Hex,
		"start", q.Start.Format(models.DateLayout), "end", q.End.Format(models.DateLayout))

	go d.run(ctx, q, done)
	return nil
}

func (d *Daemon) run(ctx context.Context, q models.Query, done chan struct{}) {
	defer close(done)

	events := make(chan pipeline.Event, subscriberBuffer)
	go func() {
		d.runner.Run(ctx, q, events)
		close(events)
	}()

	for ev := range events {
		d.record(ev)
	}
}

// record applies one event to the daemon state and fans it out
func (d *Daemon) record(ev pipeline.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case pipeline.EventProgress:
		d.progress = append(d.progress, ev.Message)
		if len(d.progress) > progressHistory {
			d.progress = d.progress[len(d.progress)-progressHistory:]
		}
	case pipeline.EventMeta:
		d.meta = ev.Meta
	case pipeline.EventDone:
		d.result = ev.Result
		d.state = StateFinished
		d.cancel()
		d.cancel = nil
	}

	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber", "kind", ev.Kind)
		}
		if ev.Kind == pipeline.EventDone {
			close(ch)
			delete(d.subs, ch)
		}
	}
}

// Stop cancels the running query. The query ends as stopped at the next
// day boundary.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRunning || d.cancel == nil {
		return ErrNotRunning
	}
	slog.Info("Stopping query", "hex", d.query.Hex)
	d.cancel()
	return nil
}

// Wait blocks until the current query, if any, has finished
func (d *Daemon) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for query: %w", ctx.Err())
	}
}

// Subscribe returns a channel receiving the running query's events. It is
// closed after the done event or by the returned cancel func. ok is false
// when no query is running.
func (d *Daemon) Subscribe() (events <-chan pipeline.Event, cancel func(), ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRunning {
		return nil, func() {}, false
	}

	ch := make(chan pipeline.Event, subscriberBuffer)
	d.subs[ch] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.subs[ch]; ok {
				delete(d.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, true
}

// Status is a point-in-time view of the daemon
type Status struct {
	State    State                `json:"state"`
	Query    *QueryStatus         `json:"query,omitempty"`
	Started  *time.Time           `json:"started,omitempty"`
	Progress []string             `json:"progress"`
	Meta     *models.AircraftMeta `json:"meta,omitempty"`
	Result   *ResultStatus        `json:"result,omitempty"`
}

// QueryStatus is the JSON form of a query
type QueryStatus struct {
	Hex     string          `json:"hex"`
	Start   string          `json:"start"`
	End     string          `json:"end"`
	Formats []models.Format `json:"formats"`
	OutDir  string          `json:"out_dir"`
}

// ResultStatus is the JSON form of a pipeline result
type ResultStatus struct {
	Outcome  pipeline.Outcome `json:"outcome"`
	Error    string           `json:"error,omitempty"`
	Days     int              `json:"days"`
	DaysData int              `json:"days_with_data"`
	Segments int              `json:"segments"`
	Points   int              `json:"points"`
	Duration string           `json:"duration"`
	Exports  []ExportStatus   `json:"exports"`
}

// ExportStatus reports one written (or failed) export file
type ExportStatus struct {
	Format models.Format `json:"format"`
	Path   string        `json:"path,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Status returns a snapshot of the current or last query
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		State:    d.state,
		Progress: append([]string{}, d.progress...),
	}
	if d.query != nil {
		st.Query = newQueryStatus(*d.query)
		started := d.started
		st.Started = &started
	}
	if d.meta != nil {
		meta := d.meta.Clone()
		st.Meta = &meta
	}
	if d.result != nil {
		st.Result = newResultStatus(d.result)
	}
	return st
}

func newQueryStatus(q models.Query) *QueryStatus {
	return &QueryStatus{
		Hex:     q.Hex,
		Start:   q.Start.Format(models.DateLayout),
		End:     q.End.Format(models.DateLayout),
		Formats: q.Formats,
		OutDir:  q.OutDir,
	}
}

func newResultStatus(res *pipeline.Result) *ResultStatus {
	rs := &ResultStatus{
		Outcome:  res.Outcome,
		Days:     res.Days,
		DaysData: res.DaysData,
		Segments: res.Segments,
		Points:   res.Points,
		Duration: res.Duration.Round(time.Millisecond).String(),
		Exports:  []ExportStatus{},
	}
	if res.Err != nil {
		rs.Error = res.Err.Error()
	}
	for _, e := range res.Exports {
		es := ExportStatus{Format: e.Format, Path: e.Path}
		if e.Err != nil {
			es.Error = e.Err.Error()
		}
		rs.Exports = append(rs.Exports, es)
	}
	return rs
}
