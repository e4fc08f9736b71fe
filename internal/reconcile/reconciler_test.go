package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsbx_history/internal/models"
)

func attrs(t *testing.T, doc string) models.Attrs {
	t.Helper()
	var a models.Attrs
	require.NoError(t, json.Unmarshal([]byte(doc), &a))
	return a
}

func TestReconciler_NeverOverwritesPopulatedField(t *testing.T) {
	r := New("A1B2C3", nil)

	r.MergeFlightData(attrs(t, `{"registration": "N12345"}`))
	r.MergeDatabase(attrs(t, `{"icao": "a1b2c3", "reg": "N99999", "icaotype": "GLF4"}`))
	r.MergeTraceHeader(attrs(t, `{"r": "N55555", "t": "B738"}`))

	meta := r.Meta()
	assert.Equal(t, "a1b2c3", meta.Hex)
	assert.Equal(t, "N12345", meta.Registration)
	assert.Equal(t, "GLF4", meta.Type)
	assert.Equal(t, "Gulfstream IV / G-IV", meta.TypeName)
}

func TestReconciler_PrecedenceOrder(t *testing.T) {
	r := New("a1b2c3", nil)

	r.MergeFlightData(attrs(t, `{"manufacturerName": "", "owner": "Acme Leasing"}`))
	r.MergePhoto("https://img.example/p.jpg", "N777")
	r.MergePhoto("https://img.example/other.jpg", "N888")
	r.MergeDatabase(attrs(t, `{"reg": "N999", "ownOp": "Other Owner", "manufacturer": "Gulfstream", "country": "United States"}`))

	meta := r.Meta()
	assert.Equal(t, "Acme Leasing", meta.Owner)
	assert.Equal(t, "N777", meta.Registration)
	assert.Equal(t, "https://img.example/p.jpg", meta.PhotoURL)
	assert.Equal(t, "Gulfstream", meta.Manufacturer)
	assert.Equal(t, "United States", meta.Country)
}

func TestReconciler_CaseInsensitiveAliases(t *testing.T) {
	tests := []struct {
		name     string
		record   string
		expected string
	}{
		{"upper REG", `{"REG": "N1"}`, "N1"},
		{"short r", `{"r": "N2"}`, "N2"},
		{"mixed case Registration", `{"Registration": "N3"}`, "N3"},
		{"tail", `{"TAIL": "N4"}`, "N4"},
		{"first alias wins", `{"registration": "N6", "reg": "N5"}`, "N5"},
		{"blank alias skipped", `{"reg": "  ", "r": "N7"}`, "N7"},
		{"value trimmed", `{"reg": " N8 "}`, "N8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("a1b2c3", nil)
			r.MergeDatabase(attrs(t, tt.record))
			assert.Equal(t, tt.expected, r.Meta().Registration)
		})
	}
}

func TestReconciler_Callsigns(t *testing.T) {
	r := New("a1b2c3", nil)

	r.MergeTraceHeader(attrs(t, `{"flight": "UAL123 "}`))
	r.MergeTraceHeader(attrs(t, `{"flight": "UAL123"}`))
	r.MergeHits([]models.Segment{
		{
			{Lat: 1, Lon: 1, ACData: attrs(t, `{"flight": "AAL9  "}`)},
			{Lat: 1, Lon: 1, ACData: attrs(t, `{"call": "UAL123", "cs": "BAW1"}`)},
		},
		{
			{Lat: 1, Lon: 1},
		},
	})

	assert.Equal(t, []string{"AAL9", "BAW1", "UAL123"}, r.Meta().Callsigns)
}

func TestReconciler_Flags(t *testing.T) {
	r := New("a1b2c3", nil)
	r.MergeTraceHeader(attrs(t, `{"dbFlags": 9}`))
	r.MergeTraceHeader(attrs(t, `{"dbFlags": 2}`))
	assert.Equal(t, "Military, LADD", r.Meta().Flags)

	r = New("a1b2c3", nil)
	r.MergeTraceHeader(attrs(t, `{"dbFlags": 0}`))
	assert.Empty(t, r.Meta().Flags)
	r.MergeDatabase(attrs(t, `{"icao": "a1b2c3", "mil": false, "faa_pia": true, "faa_ladd": true}`))
	assert.Equal(t, "PIA, LADD", r.Meta().Flags)
}

func TestReconciler_HitMilitaryFallback(t *testing.T) {
	r := New("a1b2c3", nil)
	r.MergeHits([]models.Segment{{{Lat: 1, Lon: 1, ACData: attrs(t, `{"mil": "yes"}`)}}})
	assert.Equal(t, "Military=yes", r.Meta().Flags)
}

func TestReconciler_RawRecordFromDatabase(t *testing.T) {
	r := New("a1b2c3", nil)
	rec := attrs(t, `{"icao": "a1b2c3", "reg": "N1", "year": "2004"}`)
	r.MergeDatabase(rec)
	assert.Equal(t, rec, r.Meta().RawRecord)

	r.MergeDatabase(nil)
	assert.Equal(t, rec, r.Meta().RawRecord)
}

func TestReconciler_MetaIsSnapshot(t *testing.T) {
	r := New("a1b2c3", nil)
	r.MergeTraceHeader(attrs(t, `{"flight": "ABC"}`))
	snap := r.Meta()
	r.MergeTraceHeader(attrs(t, `{"flight": "DEF"}`))

	assert.Equal(t, []string{"ABC"}, snap.Callsigns)
	assert.Equal(t, []string{"ABC", "DEF"}, r.Meta().Callsigns)
}

func TestDecodeFlags(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		expected string
	}{
		{"military and ladd", json.Number("9"), "Military, LADD"},
		{"zero", json.Number("0"), ""},
		{"all", json.Number("15"), "Military, Interesting, PIA, LADD"},
		{"interesting", 2, "Interesting"},
		{"numeric string", "4", "PIA"},
		{"garbage", "abc", ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeFlags(tt.in))
		})
	}
}

func TestTypeNames_Apply(t *testing.T) {
	tests := []struct {
		name     string
		meta     models.AircraftMeta
		wantType string
		wantName string
	}{
		{"table lookup normalizes case", models.AircraftMeta{Type: " glf4 "}, "GLF4", "Gulfstream IV / G-IV"},
		{"manufacturer and model", models.AircraftMeta{Type: "ZZZZ", Manufacturer: "Gulfstream", Model: "G-IV"}, "ZZZZ", "Gulfstream G-IV"},
		{"model only", models.AircraftMeta{Model: "G-IV"}, "", "G-IV"},
		{"description", models.AircraftMeta{Description: "GULFSTREAM AEROSPACE G-4"}, "", "GULFSTREAM AEROSPACE G-4"},
		{"nothing known", models.AircraftMeta{}, "", ""},
		{"name is cached", models.AircraftMeta{Type: "B738", TypeName: "Already set"}, "B738", "Already set"},
	}

	names := NewTypeNames()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := tt.meta
			names.Apply(&meta)
			assert.Equal(t, tt.wantType, meta.Type)
			assert.Equal(t, tt.wantName, meta.TypeName)
		})
	}
}

func TestLoadTypeNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	content := strings.Join([]string{
		"glf4: Gulfstream IV (custom)",
		"C25A: Cessna Citation CJ2",
		"\"\": ignored",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	names, err := LoadTypeNames(path)
	require.NoError(t, err)

	name, ok := names.Lookup("GLF4")
	require.True(t, ok)
	assert.Equal(t, "Gulfstream IV (custom)", name)

	name, ok = names.Lookup("c25a")
	require.True(t, ok)
	assert.Equal(t, "Cessna Citation CJ2", name)

	assert.Equal(t, len(builtinTypeNames)+1, names.Len())
}

func TestLoadTypeNames_Errors(t *testing.T) {
	_, err := LoadTypeNames(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o644))
	_, err = LoadTypeNames(path)
	assert.Error(t, err)

	names, err := LoadTypeNames("")
	require.NoError(t, err)
	assert.Equal(t, len(builtinTypeNames), names.Len())
}
