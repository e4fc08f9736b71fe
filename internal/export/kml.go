package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/skypies/geo"

	"adsbx_history/internal/models"
)

const kmlNamespace = "http://www.opengis.net/kml/2.2"

type kmlDocument struct {
	XMLName xml.Name `xml:"kml"`
	Xmlns   string   `xml:"xmlns,attr"`
	Doc     kmlDoc   `xml:"Document"`
}

type kmlDoc struct {
	Name   string    `xml:"name"`
	Folder kmlFolder `xml:"Folder"`
}

type kmlFolder struct {
	Name        string         `xml:"name"`
	Description string         `xml:"description,omitempty"`
	Placemarks  []kmlPlacemark `xml:"Placemark"`
	Folders     []kmlFolder    `xml:"Folder"`
}

type kmlPlacemark struct {
	Name         string           `xml:"name"`
	Description  string           `xml:"description,omitempty"`
	TimeStamp    *kmlTimeStamp    `xml:"TimeStamp,omitempty"`
	ExtendedData *kmlExtendedData `xml:"ExtendedData,omitempty"`
	Point        *kmlPoint        `xml:"Point,omitempty"`
	LineString   *kmlLineString   `xml:"LineString,omitempty"`
}

type kmlTimeStamp struct {
	When string `xml:"when"`
}

type kmlExtendedData struct {
	Data []kmlData `xml:"Data"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Extrude      int    `xml:"extrude"`
	Tessellate   int    `xml:"tessellate"`
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"`
}

// meta fields shown in folder and point descriptions
var kmlDescriptionMeta = []string{"registration", "type", "type_name", "owner", "description"}

// KMLExporter writes a time-enabled KML document: one static LineString per
// segment and one TimeStamp placemark per hit carrying ExtendedData.
type KMLExporter struct{}

func (KMLExporter) Format() models.Format { return models.FormatKML }

func (KMLExporter) Export(w io.Writer, track *models.Track) error {
	keys := acDataNames(track.ACKeys())
	meta := &track.Meta
	hexUpper := strings.ToUpper(track.Hex)

	root := kmlFolder{
		Name:        fmt.Sprintf("ADSBx %s Track", hexUpper),
		Description: folderDescription(hexUpper, meta),
	}

	for i, seg := range track.Segments {
		if ls := segmentLine(i+1, seg); ls != nil {
			root.Placemarks = append(root.Placemarks, *ls)
		}
	}

	points := kmlFolder{Name: "Points"}
	for segIdx, seg := range track.Segments {
		for ptIdx := range seg {
			points.Placemarks = append(points.Placemarks, hitPlacemark(segIdx+1, ptIdx+1, &seg[ptIdx], meta, keys))
		}
	}

	if len(points.Placemarks) == 0 {
		points.Placemarks = append(points.Placemarks, kmlPlacemark{
			Name:        "No valid points",
			Description: "No valid coordinates found in trace.",
		})
	}
	root.Folders = append(root.Folders, points)

	doc := kmlDocument{
		Xmlns: kmlNamespace,
		Doc: kmlDoc{
			Name:   root.Name,
			Folder: root,
		},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode KML: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func folderDescription(hexUpper string, meta *models.AircraftMeta) string {
	lines := []string{"ICAO: " + hexUpper}
	for _, f := range models.MetaFields {
		if !contains(kmlDescriptionMeta, f.Name) {
			continue
		}
		if v := f.Value(meta); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", capitalize(f.Name), v))
		}
	}
	return strings.Join(lines, "\n")
}

// segmentLine builds the static path of one segment. Segments with fewer
// than two coordinates have no path.
func segmentLine(idx int, seg models.Segment) *kmlPlacemark {
	if len(seg) < 2 {
		return nil
	}

	coords := make([]string, 0, len(seg))
	var lengthKM float64
	for i := range seg {
		coords = append(coords, coordinate(&seg[i]))
		if i > 0 {
			prev := geo.Latlong{Lat: seg[i-1].Lat, Long: seg[i-1].Lon}
			lengthKM += prev.DistKM(geo.Latlong{Lat: seg[i].Lat, Long: seg[i].Lon})
		}
	}

	return &kmlPlacemark{
		Name:        fmt.Sprintf("Segment %d", idx),
		Description: fmt.Sprintf("%d points, %.1f km", len(seg), lengthKM),
		LineString: &kmlLineString{
			Extrude:      0,
			Tessellate:   1,
			AltitudeMode: "clampToGround",
			Coordinates:  strings.Join(coords, " "),
		},
	}
}

func hitPlacemark(segIdx, ptIdx int, hit *models.Hit, meta *models.AircraftMeta, keys []acDataName) kmlPlacemark {
	name := fmt.Sprintf("Seg %d Pt %d", segIdx, ptIdx)
	var ts *kmlTimeStamp
	if hit.TimeISO != nil && *hit.TimeISO != "" {
		name = *hit.TimeISO
		ts = &kmlTimeStamp{When: *hit.TimeISO}
	}

	desc := []string{
		fmt.Sprintf("Segment: %d", segIdx),
		fmt.Sprintf("Index: %d", ptIdx),
	}
	var data []kmlData

	for _, f := range hitFields {
		v := models.FormatValue(f.value(hit))
		if v == "" {
			continue
		}
		data = append(data, kmlData{Name: f.name, Value: v})
		switch f.name {
		case "lat", "lon", "timestamp":
		default:
			desc = append(desc, fmt.Sprintf("%s: %s", f.name, v))
		}
	}

	for _, f := range models.MetaFields {
		v := f.Value(meta)
		if v == "" {
			continue
		}
		data = append(data, kmlData{Name: "meta_" + f.Name, Value: v})
		if contains(kmlDescriptionMeta, f.Name) {
			desc = append(desc, fmt.Sprintf("%s: %s", f.Name, v))
		}
	}

	if hit.ACData.Len() > 0 {
		desc = append(desc, "AC data: "+models.FormatValue(hit.ACData))
	}

	for _, k := range keys {
		data = append(data, kmlData{Name: k.name, Value: acValue(hit, k.key)})
	}

	return kmlPlacemark{
		Name:         name,
		Description:  strings.Join(desc, "\n"),
		TimeStamp:    ts,
		ExtendedData: &kmlExtendedData{Data: data},
		Point:        &kmlPoint{Coordinates: coordinate(hit)},
	}
}

// acDataName maps a discovered ac_data key to its ExtendedData name
type acDataName struct {
	key  string
	name string
}

// acDataNames prefixes discovered keys with "ac_" until they no longer
// collide with a hit field, a meta_* name or another key.
func acDataNames(keys []string) []acDataName {
	used := make(map[string]bool, len(hitFields)+len(models.MetaFields)+len(keys))
	for _, f := range hitFields {
		used[f.name] = true
	}
	for _, f := range models.MetaFields {
		used["meta_"+f.Name] = true
	}
	for _, k := range keys {
		used[k] = true
	}

	out := make([]acDataName, 0, len(keys))
	for _, k := range keys {
		name := k
		if isReservedDataName(k) {
			name = "ac_" + k
			for used[name] {
				name = "ac_" + name
			}
			used[name] = true
		}
		out = append(out, acDataName{key: k, name: name})
	}
	return out
}

func isReservedDataName(name string) bool {
	for _, f := range hitFields {
		if f.name == name {
			return true
		}
	}
	for _, f := range models.MetaFields {
		if "meta_"+f.Name == name {
			return true
		}
	}
	return false
}

func coordinate(h *models.Hit) string {
	return models.FormatFloat(h.Lon) + "," + models.FormatFloat(h.Lat)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
