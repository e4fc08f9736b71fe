package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"adsbx_history/internal/models"
)

type jsonTrack struct {
	ICAOHex  string        `json:"icao_hex"`
	Meta     models.Attrs  `json:"meta"`
	Segments []jsonSegment `json:"segments"`
}

type jsonSegment struct {
	Segment int          `json:"segment"`
	Points  []models.Hit `json:"points"`
}

// JSONExporter writes the whole track as one indented document with the
// hits verbatim, nested ac_data included.
type JSONExporter struct{}

func (JSONExporter) Format() models.Format { return models.FormatJSON }

func (JSONExporter) Export(w io.Writer, track *models.Track) error {
	doc := jsonTrack{
		ICAOHex:  strings.ToUpper(track.Hex),
		Meta:     metaRecord(&track.Meta),
		Segments: make([]jsonSegment, 0, len(track.Segments)),
	}
	for i, seg := range track.Segments {
		doc.Segments = append(doc.Segments, jsonSegment{Segment: i + 1, Points: seg})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON track: %w", err)
	}
	return nil
}

// metaRecord renders the meta record in export order; unknown scalars are null
func metaRecord(meta *models.AircraftMeta) models.Attrs {
	rec := make(models.Attrs, 0, len(models.MetaFields))
	for _, f := range models.MetaFields {
		if f.Name == "callsigns" {
			callsigns := meta.Callsigns
			if callsigns == nil {
				callsigns = []string{}
			}
			rec = append(rec, models.Attr{Key: f.Name, Value: callsigns})
			continue
		}

		var v any
		if s := f.Value(meta); s != "" {
			v = s
		}
		rec = append(rec, models.Attr{Key: f.Name, Value: v})
	}
	return rec
}
