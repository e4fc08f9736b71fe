package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsbx_history/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }

func mustAttrs(t *testing.T, doc string) models.Attrs {
	t.Helper()
	var a models.Attrs
	require.NoError(t, json.Unmarshal([]byte(doc), &a))
	return a
}

func hitAt(t *testing.T, ts float64, lat, lon float64, ac string) models.Hit {
	t.Helper()
	h := models.Hit{
		Timestamp: floatPtr(ts),
		TimeISO:   models.FormatISO(ts),
		Lat:       lat,
		Lon:       lon,
		AltFt:     json.Number("35000"),
		GsKnots:   json.Number("450.5"),
		Flags:     int64Ptr(0),
	}
	if ac != "" {
		h.ACData = mustAttrs(t, ac)
	}
	return h
}

// two days of hits: day one has only "type", day two adds "squawk"
func sampleTrack(t *testing.T) *models.Track {
	t.Helper()
	meta := models.NewAircraftMeta("a1b2c3")
	meta.Registration = "N12345"
	meta.Type = "GLF4"
	meta.TypeName = "Gulfstream IV / G-IV"
	meta.Callsigns = []string{"ABC123"}

	return &models.Track{
		Hex: "a1b2c3",
		Segments: []models.Segment{
			{
				hitAt(t, 1714521600, 40.0, -74.0, `{"type": "adsb_icao"}`),
				hitAt(t, 1714521610, 40.1, -74.1, `{"type": "adsb_icao"}`),
			},
			{
				hitAt(t, 1714608000, 41.0, -75.0, `{"type": "mlat", "squawk": "1200", "nav": {"qnh": 1013.2}}`),
			},
		},
		Meta: meta,
	}
}

func TestNew(t *testing.T) {
	for _, f := range models.AllFormats {
		exp, err := New(f)
		require.NoError(t, err)
		assert.Equal(t, f, exp.Format())
	}

	_, err := New(models.Format("gpx"))
	assert.Error(t, err)
}

func TestCSVExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(&buf, sampleTrack(t)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	header := rows[0]
	assert.Equal(t, csvBaseHeader, header[:len(csvBaseHeader)])
	assert.Equal(t, []string{"nav", "squawk", "type", "ac_data_json"}, header[len(csvBaseHeader):])

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}

	first := rows[1]
	assert.Equal(t, "A1B2C3", first[col("icao_hex")])
	assert.Equal(t, "1", first[col("segment")])
	assert.Equal(t, "1", first[col("point_index")])
	assert.Equal(t, "1714521600", first[col("time_unix")])
	assert.Equal(t, "2024-05-01T00:00:00Z", first[col("time_iso")])
	assert.Equal(t, "40", first[col("latitude")])
	assert.Equal(t, "-74", first[col("longitude")])
	assert.Equal(t, "35000", first[col("alt_ft")])
	assert.Equal(t, "", first[col("track_deg")])
	assert.Equal(t, "N12345", first[col("registration")])
	assert.Equal(t, "Gulfstream IV / G-IV", first[col("type_name")])
	assert.Equal(t, "", first[col("squawk")], "day-one rows carry the day-two key empty")
	assert.Equal(t, "GLF4", first[col("type")])
	assert.Equal(t, "adsb_icao", first[len(csvBaseHeader)+2], "ac_data type column follows the base columns")
	assert.Equal(t, `{"type":"adsb_icao"}`, first[col("ac_data_json")])

	last := rows[3]
	assert.Equal(t, "2", last[col("segment")])
	assert.Equal(t, "1200", last[col("squawk")])
	assert.Equal(t, `{"qnh":1013.2}`, last[col("nav")])
}

func TestCSVExporter_NoACData(t *testing.T) {
	track := &models.Track{
		Hex:      "abc",
		Segments: []models.Segment{{{Lat: 1, Lon: 2}}},
	}
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(&buf, track))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], len(csvBaseHeader)+1)
	assert.Equal(t, "", rows[1][len(rows[1])-1])
	assert.Equal(t, "", rows[1][3], "missing timestamp renders empty")
}

func TestCSVExporter_ACDataJSONKeepsHTMLCharacters(t *testing.T) {
	track := &models.Track{
		Hex:      "abc",
		Segments: []models.Segment{{hitAt(t, 1714521600, 1, 2, `{"ownOp": "AT&T <ops>"}`)}},
	}
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(&buf, track))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, `{"ownOp":"AT&T <ops>"}`, rows[1][len(rows[1])-1])
}

func parseKML(t *testing.T, data []byte) kmlDocument {
	t.Helper()
	var doc kmlDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	return doc
}

func TestKMLExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KMLExporter{}.Export(&buf, sampleTrack(t)))
	assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))

	doc := parseKML(t, buf.Bytes())
	root := doc.Doc.Folder
	assert.Equal(t, "ADSBx A1B2C3 Track", root.Name)
	assert.Contains(t, root.Description, "ICAO: A1B2C3")
	assert.Contains(t, root.Description, "Registration: N12345")

	// only the first segment has two coordinates
	require.Len(t, root.Placemarks, 1)
	line := root.Placemarks[0]
	assert.Equal(t, "Segment 1", line.Name)
	require.NotNil(t, line.LineString)
	assert.Equal(t, "clampToGround", line.LineString.AltitudeMode)
	assert.Equal(t, 1, line.LineString.Tessellate)
	assert.Equal(t, "-74,40 -74.1,40.1", line.LineString.Coordinates)
	assert.Contains(t, line.Description, "2 points")
	assert.Contains(t, line.Description, "km")

	require.Len(t, root.Folders, 1)
	points := root.Folders[0]
	assert.Equal(t, "Points", points.Name)
	require.Len(t, points.Placemarks, 3)

	for _, pm := range points.Placemarks {
		require.NotNil(t, pm.TimeStamp)
		assert.Equal(t, pm.Name, pm.TimeStamp.When)
		require.NotNil(t, pm.ExtendedData)

		data := map[string]string{}
		for _, d := range pm.ExtendedData.Data {
			data[d.Name] = d.Value
		}
		for _, k := range []string{"nav", "squawk", "type"} {
			assert.Contains(t, data, k)
		}
		assert.Equal(t, "N12345", data["meta_registration"])
		assert.Equal(t, "ABC123", data["meta_callsigns"])
		assert.NotContains(t, data, "meta_owner")
		assert.NotContains(t, data, "track_deg")
	}

	first := points.Placemarks[0]
	assert.Equal(t, "2024-05-01T00:00:00Z", first.Name)
	assert.Equal(t, "-74,40", first.Point.Coordinates)
	assert.Contains(t, first.Description, "Segment: 1")
	assert.Contains(t, first.Description, "AC data: {\"type\":\"adsb_icao\"}")
	for _, d := range first.ExtendedData.Data {
		if d.Name == "squawk" {
			assert.Equal(t, "", d.Value)
		}
	}
}

func TestKMLExporter_ACDataNamesDoNotCollide(t *testing.T) {
	track := &models.Track{
		Hex: "a1b2c3",
		Segments: []models.Segment{{
			hitAt(t, 1714521600, 40, -74, `{"flags": 5, "lat": 1.5, "meta_icao": "x", "ac_flags": "y", "squawk": "1200", "owner": "AT&T"}`),
		}},
		Meta: models.NewAircraftMeta("a1b2c3"),
	}
	var buf bytes.Buffer
	require.NoError(t, KMLExporter{}.Export(&buf, track))

	points := parseKML(t, buf.Bytes()).Doc.Folder.Folders[0]
	require.Len(t, points.Placemarks, 1)
	pm := points.Placemarks[0]

	data := map[string]string{}
	for _, d := range pm.ExtendedData.Data {
		assert.NotContains(t, data, d.Name, "duplicate Data name %s", d.Name)
		data[d.Name] = d.Value
	}

	assert.Equal(t, "0", data["flags"])
	assert.Equal(t, "40", data["lat"])
	assert.Equal(t, "a1b2c3", data["meta_icao"])
	assert.Equal(t, "y", data["ac_flags"])
	assert.Equal(t, "5", data["ac_ac_flags"])
	assert.Equal(t, "1.5", data["ac_lat"])
	assert.Equal(t, "x", data["ac_meta_icao"])
	assert.Equal(t, "1200", data["squawk"])
	assert.Equal(t, "AT&T", data["owner"])
	assert.Contains(t, pm.Description, `"owner":"AT&T"`)
}

func TestKMLExporter_UntimedHitName(t *testing.T) {
	track := &models.Track{
		Hex:      "abc",
		Segments: []models.Segment{{{Lat: 1, Lon: 2}}, {{Lat: 3, Lon: 4}, {Lat: 5, Lon: 6}}},
	}
	var buf bytes.Buffer
	require.NoError(t, KMLExporter{}.Export(&buf, track))

	points := parseKML(t, buf.Bytes()).Doc.Folder.Folders[0]
	require.Len(t, points.Placemarks, 3)
	assert.Equal(t, "Seg 1 Pt 1", points.Placemarks[0].Name)
	assert.Equal(t, "Seg 2 Pt 2", points.Placemarks[2].Name)
	assert.Nil(t, points.Placemarks[0].TimeStamp)
}

func TestKMLExporter_NoPoints(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KMLExporter{}.Export(&buf, &models.Track{Hex: "abc"}))

	root := parseKML(t, buf.Bytes()).Doc.Folder
	assert.Empty(t, root.Placemarks)
	require.Len(t, root.Folders, 1)
	require.Len(t, root.Folders[0].Placemarks, 1)
	assert.Equal(t, "No valid points", root.Folders[0].Placemarks[0].Name)
}

func TestSegmentLineLength(t *testing.T) {
	// one degree of latitude is roughly 111 km
	line := segmentLine(1, models.Segment{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}})
	require.NotNil(t, line)
	assert.Regexp(t, `^2 points, 11[01]\.\d km$`, line.Description)

	assert.Nil(t, segmentLine(1, models.Segment{{Lat: 0, Lon: 0}}))
}

func TestJSONExporter_RoundTrip(t *testing.T) {
	track := sampleTrack(t)
	var buf bytes.Buffer
	require.NoError(t, JSONExporter{}.Export(&buf, track))
	assert.Contains(t, buf.String(), "\n  \"icao_hex\": \"A1B2C3\"")

	var doc struct {
		ICAOHex  string         `json:"icao_hex"`
		Meta     map[string]any `json:"meta"`
		Segments []struct {
			Segment int              `json:"segment"`
			Points  []map[string]any `json:"points"`
		} `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "A1B2C3", doc.ICAOHex)
	require.Len(t, doc.Segments, len(track.Segments))
	for i, seg := range doc.Segments {
		assert.Equal(t, i+1, seg.Segment)
		assert.Len(t, seg.Points, len(track.Segments[i]))
	}

	assert.Equal(t, "a1b2c3", doc.Meta["icao"])
	assert.Equal(t, "N12345", doc.Meta["registration"])
	assert.Nil(t, doc.Meta["owner"])
	assert.Equal(t, []any{"ABC123"}, doc.Meta["callsigns"])

	point := doc.Segments[1].Points[0]
	ac, ok := point["ac_data"].(map[string]any)
	require.True(t, ok, "ac_data stays nested")
	assert.Equal(t, "1200", ac["squawk"])
	assert.Equal(t, map[string]any{"qnh": 1013.2}, ac["nav"])
	assert.Equal(t, 35000.0, point["alt_ft"])
	assert.Nil(t, point["track_deg"])
}

func TestJSONExporter_KeepsACDataOrder(t *testing.T) {
	track := &models.Track{
		Hex: "abc",
		Segments: []models.Segment{{
			{Lat: 1, Lon: 2, ACData: mustAttrs(t, `{"z": 1, "a": 2}`)},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, JSONExporter{}.Export(&buf, track))

	s := buf.String()
	assert.Less(t, strings.Index(s, `"z"`), strings.Index(s, `"a"`))
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	track := sampleTrack(t)

	for _, f := range models.AllFormats {
		exp, err := New(f)
		require.NoError(t, err)

		path, err := WriteFile(dir, "A1B2C3_20240501_20240502", exp, track)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "A1B2C3_20240501_20240502."+string(f)), path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	// files are replaced, not appended to
	exp, _ := New(models.FormatCSV)
	path, err := WriteFile(dir, "A1B2C3_20240501_20240502", exp, &models.Track{Hex: "a1b2c3"})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}
