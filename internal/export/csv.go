package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"adsbx_history/internal/models"
)

var csvBaseHeader = []string{
	"icao_hex",
	"segment",
	"point_index",
	"time_unix",
	"time_iso",
	"latitude",
	"longitude",
	"alt_ft",
	"gs_knots",
	"track_deg",
	"vrt_fpm",
	"flags",
	"registration",
	"type",
	"type_name",
	"owner",
	"description",
}

// CSVExporter writes one row per hit with a column per discovered ac_data key
type CSVExporter struct{}

func (CSVExporter) Format() models.Format { return models.FormatCSV }

func (CSVExporter) Export(w io.Writer, track *models.Track) error {
	keys := track.ACKeys()
	meta := &track.Meta
	hexUpper := strings.ToUpper(track.Hex)

	cw := csv.NewWriter(w)

	header := make([]string, 0, len(csvBaseHeader)+len(keys)+1)
	header = append(header, csvBaseHeader...)
	header = append(header, keys...)
	header = append(header, "ac_data_json")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for segIdx, seg := range track.Segments {
		for ptIdx := range seg {
			hit := &seg[ptIdx]

			row := make([]string, 0, len(header))
			row = append(row,
				hexUpper,
				strconv.Itoa(segIdx+1),
				strconv.Itoa(ptIdx+1),
				models.FormatValue(hit.Timestamp),
				models.FormatValue(hit.TimeISO),
				models.FormatFloat(hit.Lat),
				models.FormatFloat(hit.Lon),
				models.FormatValue(hit.AltFt),
				models.FormatValue(hit.GsKnots),
				models.FormatValue(hit.TrackDeg),
				models.FormatValue(hit.VrtFpm),
				models.FormatValue(hit.Flags),
				meta.Registration,
				meta.Type,
				meta.TypeName,
				meta.Owner,
				meta.Description,
			)
			for _, k := range keys {
				row = append(row, acValue(hit, k))
			}

			acJSON := ""
			if hit.ACData.Len() > 0 {
				acJSON = models.FormatValue(hit.ACData)
			}
			row = append(row, acJSON)

			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
