package reconcile

import (
	"sort"
	"strings"

	"adsbx_history/internal/models"
)

// Source identifies where a metadata observation came from
type Source string

const (
	SourceFlightData  Source = "flight_data"
	SourcePhoto       Source = "photo"
	SourceDatabase    Source = "database"
	SourceTraceHeader Source = "trace_header"
	SourceHits        Source = "hits"
)

// scalar fields each source may fill, in merge order
var sourceFields = map[Source][]Field{
	SourceFlightData:  {FieldRegistration, FieldManufacturer, FieldModel, FieldOwner, FieldType, FieldCountry},
	SourceDatabase:    {FieldRegistration, FieldType, FieldManufacturer, FieldModel, FieldOwner, FieldCountry, FieldDescription},
	SourceTraceHeader: {FieldRegistration, FieldType, FieldDescription, FieldOwner},
	SourceHits:        {FieldRegistration, FieldType, FieldOwner},
}

// Reconciler accumulates one AircraftMeta from several partial sources.
// A populated scalar field is never overwritten; callsigns accumulate.
// Not safe for concurrent use.
type Reconciler struct {
	meta  models.AircraftMeta
	names *TypeNames
}

// New returns a reconciler for the given aircraft
func New(hex string, names *TypeNames) *Reconciler {
	if names == nil {
		names = NewTypeNames()
	}
	return &Reconciler{
		meta:  models.NewAircraftMeta(hex),
		names: names,
	}
}

// Meta returns a snapshot of the current metadata
func (r *Reconciler) Meta() models.AircraftMeta {
	return r.meta.Clone()
}

// MergeFlightData merges a flight-data API record (OpenSky metadata)
func (r *Reconciler) MergeFlightData(rec models.Attrs) {
	src := fold(rec)
	r.fill(src, sourceFields[SourceFlightData])
	r.done()
}

// MergePhoto merges the photo service result; registration is only a fallback
func (r *Reconciler) MergePhoto(photoURL, registration string) {
	setOnce(&r.meta.PhotoURL, photoURL)
	setOnce(&r.meta.Registration, registration)
	r.done()
}

// MergeDatabase merges the bulk aircraft database record and keeps it as the raw record
func (r *Reconciler) MergeDatabase(rec models.Attrs) {
	if rec.Len() == 0 {
		return
	}
	src := fold(rec)
	r.fill(src, sourceFields[SourceDatabase])
	r.fillFlags(src, false)
	r.meta.RawRecord = rec
	r.done()
}

// MergeTraceHeader merges the top-level fields of one day's trace payload
func (r *Reconciler) MergeTraceHeader(header models.Attrs) {
	if header.Len() == 0 {
		return
	}
	src := fold(header)
	r.fill(src, sourceFields[SourceTraceHeader])
	r.fillFlags(src, false)
	r.addCallsigns(src.texts(FieldCallsign))
	r.done()
}

// MergeHits merges the embedded ac_data of every hit
func (r *Reconciler) MergeHits(segments []models.Segment) {
	for _, seg := range segments {
		for _, hit := range seg {
			if hit.ACData.Len() == 0 {
				continue
			}
			src := fold(hit.ACData)
			r.fill(src, sourceFields[SourceHits])
			r.fillFlags(src, true)
			r.addCallsigns(src.texts(FieldCallsign))
		}
	}
	r.done()
}

func (r *Reconciler) done() {
	r.names.Apply(&r.meta)
}

func (r *Reconciler) target(f Field) *string {
	switch f {
	case FieldRegistration:
		return &r.meta.Registration
	case FieldType:
		return &r.meta.Type
	case FieldManufacturer:
		return &r.meta.Manufacturer
	case FieldModel:
		return &r.meta.Model
	case FieldOwner:
		return &r.meta.Owner
	case FieldCountry:
		return &r.meta.Country
	case FieldDescription:
		return &r.meta.Description
	}
	return nil
}

func (r *Reconciler) fill(src folded, fields []Field) {
	for _, f := range fields {
		dst := r.target(f)
		if dst == nil || *dst != "" {
			continue
		}
		*dst = src.text(f)
	}
}

// fillFlags decodes dbFlags once. Database records may carry the bits as
// boolean columns instead; hits may carry a bare military marker.
func (r *Reconciler) fillFlags(src folded, militaryFallback bool) {
	if r.meta.Flags != "" {
		return
	}
	if v, ok := src.raw(FieldDBFlags); ok {
		r.meta.Flags = DecodeFlags(v)
	}
	if r.meta.Flags == "" {
		if mask := models.FlagColumnMask(src.attrs, src.index); mask != 0 {
			r.meta.Flags = DecodeFlags(mask)
		}
	}
	if r.meta.Flags == "" && militaryFallback {
		if mil := src.text(FieldMilitary); mil != "" {
			r.meta.Flags = "Military=" + mil
		}
	}
}

func (r *Reconciler) addCallsigns(values []string) {
	if len(values) == 0 {
		return
	}
	set := make(map[string]struct{}, len(r.meta.Callsigns)+len(values))
	for _, cs := range r.meta.Callsigns {
		set[cs] = struct{}{}
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	callsigns := make([]string, 0, len(set))
	for cs := range set {
		callsigns = append(callsigns, cs)
	}
	sort.Strings(callsigns)
	r.meta.Callsigns = callsigns
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}
