package reconcile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"adsbx_history/internal/models"
)

// builtinTypeNames maps ICAO type designators to common names
var builtinTypeNames = map[string]string{
	"GLF4": "Gulfstream IV / G-IV",
	"GLF5": "Gulfstream V / G-V",
	"GLF6": "Gulfstream G650 / GVI",

	"B737": "Boeing 737 (classic/NG)",
	"B738": "Boeing 737-800",
	"B739": "Boeing 737-900",
	"B38M": "Boeing 737 MAX 8",
	"B37M": "Boeing 737 MAX 7",
	"B39M": "Boeing 737 MAX 9",

	"A319": "Airbus A319",
	"A320": "Airbus A320",
	"A321": "Airbus A321",
	"A20N": "Airbus A320neo",
	"A21N": "Airbus A321neo",

	"B744": "Boeing 747-400",
	"B748": "Boeing 747-8",
	"B752": "Boeing 757-200",
	"B763": "Boeing 767-300",
	"B772": "Boeing 777-200",
	"B773": "Boeing 777-300",
	"B788": "Boeing 787-8 Dreamliner",
	"B789": "Boeing 787-9 Dreamliner",
	"B78X": "Boeing 787-10 Dreamliner",

	"E170": "Embraer 170",
	"E175": "Embraer 175",
	"E190": "Embraer 190",
	"E195": "Embraer 195",
	"E75L": "Embraer 175 (long wing)",
	"E75S": "Embraer 175 (short wing)",

	"CRJ2": "Bombardier CRJ200",
	"CRJ7": "Bombardier CRJ700",
	"CRJ9": "Bombardier CRJ900",
	"CRJX": "Bombardier CRJ1000",

	"AT45": "ATR 42-500",
	"AT46": "ATR 42-600",
	"AT72": "ATR 72",
	"AT76": "ATR 72-600",

	"C172": "Cessna 172 Skyhawk",
	"C182": "Cessna 182 Skylane",
	"C208": "Cessna 208 Caravan",
	"PC12": "Pilatus PC-12",
	"BE20": "Beechcraft King Air 200",
	"PAY2": "Piper PA-31 Navajo",
}

// TypeNames resolves friendly aircraft type names
type TypeNames struct {
	names map[string]string
}

// NewTypeNames returns a resolver backed by the built-in designator table
func NewTypeNames() *TypeNames {
	names := make(map[string]string, len(builtinTypeNames))
	for code, name := range builtinTypeNames {
		names[code] = name
	}
	return &TypeNames{names: names}
}

// LoadTypeNames returns the built-in table overlaid with a YAML file of
// "DESIGNATOR: Name" entries. An empty path yields the built-in table.
func LoadTypeNames(path string) (*TypeNames, error) {
	tn := NewTypeNames()
	if path == "" {
		return tn, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type names file %s: %w", path, err)
	}

	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to parse type names file %s: %w", path, err)
	}

	for code, name := range extra {
		code = strings.ToUpper(strings.TrimSpace(code))
		name = strings.TrimSpace(name)
		if code != "" && name != "" {
			tn.names[code] = name
		}
	}
	return tn, nil
}

// Lookup returns the friendly name for a designator
func (tn *TypeNames) Lookup(code string) (string, bool) {
	name, ok := tn.names[strings.ToUpper(strings.TrimSpace(code))]
	return name, ok
}

// Len returns the number of known designators
func (tn *TypeNames) Len() int {
	return len(tn.names)
}

// Apply normalizes meta.Type to upper case and fills meta.TypeName once:
// designator table first, then manufacturer + model, then description.
func (tn *TypeNames) Apply(meta *models.AircraftMeta) {
	if meta.Type != "" {
		meta.Type = strings.ToUpper(strings.TrimSpace(meta.Type))
		if meta.TypeName == "" {
			if name, ok := tn.Lookup(meta.Type); ok {
				meta.TypeName = name
			}
		}
	}

	if meta.TypeName != "" {
		return
	}

	var parts []string
	for _, p := range []string{meta.Manufacturer, meta.Model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		meta.TypeName = strings.Join(parts, " ")
	} else if meta.Description != "" {
		meta.TypeName = meta.Description
	}
}
