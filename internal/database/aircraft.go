package database

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"adsbx_history/internal/models"
)

// ErrNoRecord is returned when the aircraft table has no row for a hex
var ErrNoRecord = errors.New("no aircraft record")

type AircraftRepository interface {
	InsertBatch(aircraft []*models.AircraftRecord) error
	IsTablePopulated() (bool, error)
	Clear() error
	Count() (int, error)
	FindByHex(ctx context.Context, hex string) (models.Attrs, error)
	LoadFromJSON(r io.Reader, batchSize int) (int, error)
	LoadFromMultipleCSV(csvPaths []string, batchSize int) (int, error)
}

type aircraftRepository struct {
	db *sql.DB
}

func NewAircraftRepository(db *sql.DB) AircraftRepository {
	return &aircraftRepository{db: db}
}

// column sources inside a raw record, matched case-insensitively
var (
	icaoKeys         = []string{"icao", "icao24", "hex"}
	registrationKeys = []string{"reg", "registration", "r"}
	typeCodeKeys     = []string{"icaotype", "typecode", "t"}
	manufacturerKeys = []string{"manufacturer", "manufacturername"}
	modelKeys        = []string{"model"}
	ownerKeys        = []string{"ownop", "owner", "operator"}
	countryKeys      = []string{"country"}
)

// InsertBatch inserts one or more aircraft records in a single transaction
func (r *aircraftRepository) InsertBatch(aircraft []*models.AircraftRecord) error {
	if len(aircraft) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO aircraft (
		icao24, registration, typecode, manufacturer, model, owner,
		country, db_flags, record_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ac := range aircraft {
		record, err := models.MarshalCompact(ac.Record)
		if err != nil {
			return fmt.Errorf("failed to encode aircraft %s: %w", ac.ICAO24, err)
		}
		if _, err := stmt.Exec(
			ac.ICAO24, ac.Registration, ac.TypeCode, ac.Manufacturer,
			ac.Model, ac.Owner, ac.Country, ac.DBFlags, string(record),
		); err != nil {
			return fmt.Errorf("failed to insert aircraft: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *aircraftRepository) IsTablePopulated() (bool, error) {
	var ignored int
	err := r.db.QueryRow("SELECT 1 FROM aircraft LIMIT 1").Scan(&ignored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check aircraft table: %w", err)
	}
	return true, nil
}

// Clear deletes every aircraft row
func (r *aircraftRepository) Clear() error {
	if _, err := r.db.Exec("DELETE FROM aircraft"); err != nil {
		return fmt.Errorf("failed to clear aircraft table: %w", err)
	}
	return nil
}

func (r *aircraftRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM aircraft").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count aircraft: %w", err)
	}
	return n, nil
}

// FindByHex returns the stored source record for an aircraft, fields in
// their original order. A record that carried its flags only as boolean
// columns gets the stored mask as dbFlags.
func (r *aircraftRepository) FindByHex(ctx context.Context, hex string) (models.Attrs, error) {
	hex = strings.ToLower(strings.TrimSpace(hex))

	var recordJSON string
	var flags int64
	err := r.db.QueryRowContext(ctx,
		"SELECT record_json, db_flags FROM aircraft WHERE icao24 = ?", hex,
	).Scan(&recordJSON, &flags)
	if err == sql.ErrNoRows {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft %s: %w", hex, err)
	}

	var rec models.Attrs
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode aircraft %s: %w", hex, err)
	}
	if _, ok := rec.Fold()["dbflags"]; !ok && flags != 0 {
		rec.Set("dbFlags", json.Number(strconv.FormatInt(flags, 10)))
	}
	return rec, nil
}

// LoadFromJSON loads the ADSBx basic aircraft database. The input is either
// newline-delimited JSON objects (the published format), a single JSON
// array of objects, or a single object keyed by hex. It returns the number
// of records stored.
func (r *aircraftRepository) LoadFromJSON(in io.Reader, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]*models.AircraftRecord, 0, batchSize)
	total := 0

	add := func(v any) error {
		a, ok := v.(models.Attrs)
		if !ok {
			return nil
		}
		ac := recordFromAttrs(a)
		if ac == nil {
			return nil
		}
		batch = append(batch, ac)
		if len(batch) >= batchSize {
			if err := r.InsertBatch(batch); err != nil {
				return fmt.Errorf("failed to insert batch: %w", err)
			}
			total += len(batch)
			batch = batch[:0]
		}
		return nil
	}

	err := models.DecodeJSONStream(in, func(doc any) error {
		switch t := doc.(type) {
		case []any:
			for _, v := range t {
				if err := add(v); err != nil {
					return err
				}
			}
		case models.Attrs:
			if lookupText(t, t.Fold(), icaoKeys) != "" {
				return add(t)
			}
			for _, kv := range t {
				if err := add(kv.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("failed to read aircraft JSON: %w", err)
	}

	if len(batch) > 0 {
		if err := r.InsertBatch(batch); err != nil {
			return total, fmt.Errorf("failed to insert final batch: %w", err)
		}
		total += len(batch)
	}

	return total, nil
}

// LoadFromMultipleCSV loads OpenSky aircraft-database CSV files. The files
// may be split parts of one export; the first file's header applies to all.
func (r *aircraftRepository) LoadFromMultipleCSV(csvPaths []string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	var header []string
	batch := make([]*models.AircraftRecord, 0, batchSize)
	total := 0

	for fileIdx, csvPath := range csvPaths {
		file, err := os.Open(csvPath)
		if err != nil {
			return total, fmt.Errorf("failed to open CSV file %s: %w", csvPath, err)
		}

		reader := csv.NewReader(file)
		reader.LazyQuotes = true    // Handle malformed quotes in CSV
		reader.FieldsPerRecord = -1 // Allow variable number of fields per record

		// Every file carries a header; only the first one is used
		fileHeader, err := reader.Read()
		if err != nil {
			file.Close()
			return total, fmt.Errorf("failed to read CSV header from %s: %w", csvPath, err)
		}
		if fileIdx == 0 {
			header = make([]string, len(fileHeader))
			for i, h := range fileHeader {
				header[i] = cleanField(h)
			}
		}

		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				file.Close()
				return total, fmt.Errorf("failed to read CSV record from %s: %w", csvPath, err)
			}

			if len(record) != len(header) {
				continue
			}

			rec := make(models.Attrs, 0, len(header))
			for i, name := range header {
				if v := cleanField(record[i]); v != "" {
					rec = append(rec, models.Attr{Key: name, Value: v})
				}
			}

			// Skip records without ICAO24 (invalid data)
			ac := recordFromAttrs(rec)
			if ac == nil {
				continue
			}

			batch = append(batch, ac)

			if len(batch) >= batchSize {
				if err := r.InsertBatch(batch); err != nil {
					file.Close()
					return total, fmt.Errorf("failed to insert batch: %w", err)
				}
				total += len(batch)
				batch = batch[:0] // Reset slice but keep capacity
			}
		}
		file.Close()
	}

	if len(batch) > 0 {
		if err := r.InsertBatch(batch); err != nil {
			return total, fmt.Errorf("failed to insert final batch: %w", err)
		}
		total += len(batch)
	}

	return total, nil
}

// recordFromAttrs extracts the indexed columns of a raw record. It returns
// nil when the record has no usable hex address.
func recordFromAttrs(a models.Attrs) *models.AircraftRecord {
	folded := a.Fold()
	icao := strings.ToLower(lookupText(a, folded, icaoKeys))
	if icao == "" {
		return nil
	}
	return &models.AircraftRecord{
		ICAO24:       icao,
		Registration: lookupText(a, folded, registrationKeys),
		TypeCode:     strings.ToUpper(lookupText(a, folded, typeCodeKeys)),
		Manufacturer: lookupText(a, folded, manufacturerKeys),
		Model:        lookupText(a, folded, modelKeys),
		Owner:        lookupText(a, folded, ownerKeys),
		Country:      lookupText(a, folded, countryKeys),
		DBFlags:      dbFlags(a, folded),
		Record:       a,
	}
}

// lookupText returns the first non-empty text value among keys
func lookupText(a models.Attrs, folded map[string]string, keys []string) string {
	for _, k := range keys {
		real, ok := folded[k]
		if !ok {
			continue
		}
		switch v := a.Get(real).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func dbFlags(a models.Attrs, folded map[string]string) int64 {
	if real, ok := folded["dbflags"]; ok {
		if n, ok := models.Integer(a.Get(real)); ok {
			return n
		}
	}
	return models.FlagColumnMask(a, folded)
}

// cleanField trims whitespace and stray quotes from a CSV cell
func cleanField(s string) string {
	return strings.Trim(strings.TrimSpace(s), "'\"")
}
