package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"adsbx_history/internal/models"
)

// Exporter writes a finished track in one file format
type Exporter interface {
	Format() models.Format
	Export(w io.Writer, track *models.Track) error
}

// New returns the exporter for a format
func New(format models.Format) (Exporter, error) {
	switch format {
	case models.FormatKML:
		return KMLExporter{}, nil
	case models.FormatCSV:
		return CSVExporter{}, nil
	case models.FormatJSON:
		return JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile writes track to dir/base.ext, creating dir if needed and
// replacing any existing file. It returns the path written.
func WriteFile(dir, base string, exp Exporter, track *models.Track) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, base+"."+string(exp.Format()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := exp.Export(w, track); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// hitField is one core hit column shared by the KML and CSV exporters
type hitField struct {
	name  string
	value func(h *models.Hit) any
}

var hitFields = []hitField{
	{"timestamp", func(h *models.Hit) any { return h.Timestamp }},
	{"time_iso", func(h *models.Hit) any { return h.TimeISO }},
	{"lat", func(h *models.Hit) any { return h.Lat }},
	{"lon", func(h *models.Hit) any { return h.Lon }},
	{"alt_ft", func(h *models.Hit) any { return h.AltFt }},
	{"gs_knots", func(h *models.Hit) any { return h.GsKnots }},
	{"track_deg", func(h *models.Hit) any { return h.TrackDeg }},
	{"flags", func(h *models.Hit) any { return h.Flags }},
	{"vrt_fpm", func(h *models.Hit) any { return h.VrtFpm }},
}

// acValue returns the text of one discovered ac_data key for a hit, "" when absent
func acValue(h *models.Hit, key string) string {
	return models.FormatValue(h.ACData.Get(key))
}
