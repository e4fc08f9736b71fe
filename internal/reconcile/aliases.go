package reconcile

import (
	"encoding/json"
	"strings"

	"adsbx_history/internal/models"
)

// Field is a canonical metadata field that sources may supply
type Field string

const (
	FieldRegistration Field = "registration"
	FieldType         Field = "type"
	FieldManufacturer Field = "manufacturer"
	FieldModel        Field = "model"
	FieldOwner        Field = "owner"
	FieldCountry      Field = "country"
	FieldDescription  Field = "description"
	FieldDBFlags      Field = "dbflags"
	FieldCallsign     Field = "callsign"
	FieldMilitary     Field = "military"
)

// aliases maps each canonical field to the source keys accepted for it.
// Lookups are case-insensitive; the first alias present with a usable value wins.
var aliases = map[Field][]string{
	FieldRegistration: {"REG", "reg", "r", "registration", "tail", "tailnum", "tail_num"},
	FieldType:         {"ICAOTYPE", "icaoType", "t", "type", "icao_type", "typecode"},
	FieldManufacturer: {"Manufacturer", "manufacturerName", "man", "mfr"},
	FieldModel:        {"Model", "mdl"},
	FieldOwner:        {"OWNOP", "Owner", "OWN", "operator", "op", "ownercode", "opicao"},
	FieldCountry:      {"Country", "Cou"},
	FieldDescription:  {"desc", "description"},
	FieldDBFlags:      {"dbFlags"},
	FieldCallsign:     {"flight", "call", "callsign", "cs"},
	FieldMilitary:     {"MIL", "military"},
}

// folded is a source mapping with its case-insensitive key index
type folded struct {
	attrs models.Attrs
	index map[string]string
}

func fold(attrs models.Attrs) folded {
	return folded{attrs: attrs, index: attrs.Fold()}
}

// raw returns the value of the first alias of f present in the source
func (s folded) raw(f Field) (any, bool) {
	for _, alias := range aliases[f] {
		if real, ok := s.index[strings.ToLower(alias)]; ok {
			v := s.attrs.Get(real)
			if v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

// text returns the first alias of f whose value is a non-blank string or a
// number, trimmed.
func (s folded) text(f Field) string {
	for _, alias := range aliases[f] {
		real, ok := s.index[strings.ToLower(alias)]
		if !ok {
			continue
		}
		if v := scalarText(s.attrs.Get(real)); v != "" {
			return v
		}
	}
	return ""
}

// texts returns every distinct non-blank value across all aliases of f
func (s folded) texts(f Field) []string {
	var out []string
	seen := make(map[string]bool)
	for _, alias := range aliases[f] {
		real, ok := s.index[strings.ToLower(alias)]
		if !ok || seen[real] {
			continue
		}
		seen[real] = true
		if v := scalarText(s.attrs.Get(real)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number, float64, int64, int:
		return models.FormatValue(t)
	}
	return ""
}
