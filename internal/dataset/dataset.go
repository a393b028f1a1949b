// Package dataset loads point datasets from CSV, XLSX, GeoJSON, and
// shapefile sources into immutable in-memory snapshots.
package dataset

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Record is a single point observation: an identifier, optional WGS84
// coordinates, and an open set of string attributes. A nil coordinate
// means the value was missing or unparseable at load time.
type Record struct {
	ID        string
	Longitude *float64
	Latitude  *float64
	Attrs     map[string]string
}

// HasCoordinates reports whether both coordinates are present.
func (r Record) HasCoordinates() bool {
	return r.Longitude != nil && r.Latitude != nil
}

// Attr returns the named attribute value, or "" if absent.
func (r Record) Attr(key string) string {
	return r.Attrs[key]
}

// Dataset is an immutable snapshot of records. Pipeline stages never
// mutate a Dataset in place; each stage returns a new one.
type Dataset struct {
	records []Record
	source  string
	latCol  string
	lngCol  string
}

// New builds a Dataset from records. The slice is copied so later edits
// by the caller cannot alias into the snapshot.
func New(records []Record, source string) *Dataset {
	rs := make([]Record, len(records))
	copy(rs, records)
	return &Dataset{records: rs, source: source}
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Source returns a description of where the dataset was loaded from.
func (d *Dataset) Source() string { return d.source }

// Records returns a copy of the record slice.
func (d *Dataset) Records() []Record {
	rs := make([]Record, len(d.records))
	copy(rs, d.records)
	return rs
}

// Record returns the i-th record.
func (d *Dataset) Record(i int) Record { return d.records[i] }

// MissingCoordinates returns the count of records lacking either coordinate.
func (d *Dataset) MissingCoordinates() int {
	var n int
	for _, r := range d.records {
		if !r.HasCoordinates() {
			n++
		}
	}
	return n
}

// WithAttr returns a new Dataset where each record carries the given
// attribute, taken from values keyed by record ID. Records without an
// entry are copied unchanged.
func (d *Dataset) WithAttr(name string, values map[string]string) *Dataset {
	out := make([]Record, len(d.records))
	for i, r := range d.records {
		out[i] = cloneRecord(r)
		if v, ok := values[r.ID]; ok {
			out[i].Attrs[name] = v
		}
	}
	return &Dataset{records: out, source: d.source, latCol: d.latCol, lngCol: d.lngCol}
}

// Options configures the tabular loaders.
type Options struct {
	IDColumn    string   // optional: row index is used when empty or absent
	LatColumn   string   // required for CSV/XLSX
	LngColumn   string   // required for CSV/XLSX
	AttrColumns []string // nil = keep all non-coordinate columns
}

func (o Options) validate() error {
	if o.LatColumn == "" || o.LngColumn == "" {
		return eris.New("dataset: latitude and longitude columns are required")
	}
	return nil
}

// columnIndex maps header names to positions, case-insensitively on the
// caller's side (headers are used verbatim here; loaders lowercase both).
type columnIndex map[string]int

func (c columnIndex) lookup(name string) (int, bool) {
	i, ok := c[name]
	return i, ok
}

// positionalID generates an ID for rows without an ID column value.
func positionalID(row int) string {
	return fmt.Sprintf("row-%d", row)
}

func cloneRecord(r Record) Record {
	out := r
	out.Attrs = make(map[string]string, len(r.Attrs)+1)
	for k, v := range r.Attrs {
		out.Attrs[k] = v
	}
	if r.Longitude != nil {
		lng := *r.Longitude
		out.Longitude = &lng
	}
	if r.Latitude != nil {
		lat := *r.Latitude
		out.Latitude = &lat
	}
	return out
}
