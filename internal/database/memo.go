package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"adsbx_history/internal/models"
)

// PopulateFunc fills an empty aircraft table
type PopulateFunc func(ctx context.Context, repo AircraftRepository) (int, error)

// AircraftDB is a read-through handle on the bulk aircraft database. The
// SQLite file is opened, and populated when empty, on the first Lookup. A
// failed load is remembered and every Lookup reports ErrNoRecord for the
// rest of the process, except when the caller's context ended the load:
// the next Lookup tries again.
type AircraftDB struct {
	path     string
	populate PopulateFunc

	mu      sync.Mutex
	loaded  bool
	db      *DB
	repo    AircraftRepository
	loadErr error
}

// NewAircraftDB returns a handle that opens path lazily. populate may be nil,
// in which case an empty table stays empty.
func NewAircraftDB(path string, populate PopulateFunc) *AircraftDB {
	return &AircraftDB{path: path, populate: populate}
}

// Lookup returns the raw record for hex. ErrNoRecord covers both a missing
// row and an unavailable database.
func (a *AircraftDB) Lookup(ctx context.Context, hex string) (models.Attrs, error) {
	repo, err := a.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRecord, err)
	}
	return repo.FindByHex(ctx, hex)
}

// Err returns the load error, if the database could not be made available
func (a *AircraftDB) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadErr
}

// Close releases the underlying database if it was opened
func (a *AircraftDB) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *AircraftDB) open(ctx context.Context) (AircraftRepository, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.repo, a.loadErr
	}

	err := a.load(ctx)
	if err != nil && cancelled(ctx, err) {
		slog.Warn("Aircraft database load interrupted", "path", a.path, "error", err)
		return nil, err
	}
	if err != nil {
		slog.Warn("Aircraft database unavailable", "path", a.path, "error", err)
	}
	a.loaded = true
	a.loadErr = err
	return a.repo, a.loadErr
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// load opens the database and populates an empty table. A failed populate
// leaves the table empty so the next attempt, in this process or the next,
// starts over.
func (a *AircraftDB) load(ctx context.Context) error {
	db, err := New(a.path)
	if err != nil {
		return err
	}
	repo := db.AircraftRepository()

	populated, err := repo.IsTablePopulated()
	if err != nil {
		db.Close()
		return err
	}

	if !populated && a.populate != nil {
		slog.Info("Populating aircraft database", "path", a.path)
		n, err := a.populate(ctx, repo)
		if err != nil {
			if clearErr := repo.Clear(); clearErr != nil {
				slog.Error("Failed to clear partial aircraft load", "path", a.path, "error", clearErr)
			}
			db.Close()
			return fmt.Errorf("failed to populate aircraft database: %w", err)
		}
		slog.Info("Aircraft database populated", "path", a.path, "records", n)
	}

	a.db = db
	a.repo = repo
	return nil
}
