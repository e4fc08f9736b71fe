package models

import "strings"

// AircraftMeta is the reconciled identity record of one aircraft.
// Empty strings mean "unknown". Scalars are write-once; Callsigns only grows.
type AircraftMeta struct {
	Hex          string   `json:"icao"`
	Registration string   `json:"registration"`
	Type         string   `json:"type"`      // ICAO type designator, e.g. GLF4
	TypeName     string   `json:"type_name"` // friendly name, e.g. Gulfstream IV / G-IV
	Owner        string   `json:"owner"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Country      string   `json:"country"`
	PhotoURL     string   `json:"photo_url"`
	Flags        string   `json:"flags"` // e.g. "Military, LADD"
	Callsigns    []string `json:"callsigns"`
	Description  string   `json:"description"`
	RawRecord    Attrs    `json:"-"`
}

// NewAircraftMeta returns an empty record keyed by the canonical (lowercase) hex
func NewAircraftMeta(hex string) AircraftMeta {
	return AircraftMeta{Hex: strings.ToLower(strings.TrimSpace(hex))}
}

// Clone returns a deep copy safe to hand to another goroutine
func (m AircraftMeta) Clone() AircraftMeta {
	out := m
	if m.Callsigns != nil {
		out.Callsigns = append([]string(nil), m.Callsigns...)
	}
	if m.RawRecord != nil {
		out.RawRecord = append(Attrs(nil), m.RawRecord...)
	}
	return out
}

// MetaField names one exported scalar field of AircraftMeta
type MetaField struct {
	Name  string
	Value func(m *AircraftMeta) string
}

// MetaFields lists the scalar meta fields in export order
var MetaFields = []MetaField{
	{"icao", func(m *AircraftMeta) string { return m.Hex }},
	{"registration", func(m *AircraftMeta) string { return m.Registration }},
	{"type", func(m *AircraftMeta) string { return m.Type }},
	{"type_name", func(m *AircraftMeta) string { return m.TypeName }},
	{"owner", func(m *AircraftMeta) string { return m.Owner }},
	{"manufacturer", func(m *AircraftMeta) string { return m.Manufacturer }},
	{"model", func(m *AircraftMeta) string { return m.Model }},
	{"country", func(m *AircraftMeta) string { return m.Country }},
	{"flags", func(m *AircraftMeta) string { return m.Flags }},
	{"callsigns", func(m *AircraftMeta) string { return strings.Join(m.Callsigns, ", ") }},
	{"photo_url", func(m *AircraftMeta) string { return m.PhotoURL }},
	{"description", func(m *AircraftMeta) string { return m.Description }},
}
