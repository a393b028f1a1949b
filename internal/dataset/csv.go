package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CSVOptions extends Options with CSV-specific parsing knobs.
type CSVOptions struct {
	Options
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// LoadCSV reads a delimited text file into a Dataset. The first row is
// treated as the header. Coordinate cells that are empty or non-numeric
// load as missing rather than failing the row.
func LoadCSV(path string, opts CSVOptions) (*Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open csv %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err == io.EOF {
		return New(nil, path), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv header")
	}

	var rows [][]string
	for {
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, eris.Wrap(readErr, "dataset: read csv row")
		}
		rows = append(rows, row)
	}

	return fromRows(header, rows, opts.Options, path)
}

// fromRows converts a header plus raw rows into a Dataset. Shared by the
// CSV and XLSX loaders.
func fromRows(header []string, rows [][]string, opts Options, source string) (*Dataset, error) {
	idx := make(columnIndex, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	latIdx, ok := idx.lookup(strings.ToLower(opts.LatColumn))
	if !ok {
		return nil, eris.Errorf("dataset: latitude column %q not found in %s", opts.LatColumn, source)
	}
	lngIdx, ok := idx.lookup(strings.ToLower(opts.LngColumn))
	if !ok {
		return nil, eris.Errorf("dataset: longitude column %q not found in %s", opts.LngColumn, source)
	}

	idIdx := -1
	if opts.IDColumn != "" {
		if i, found := idx.lookup(strings.ToLower(opts.IDColumn)); found {
			idIdx = i
		}
	}

	// Attribute columns: explicit list, or everything except coordinates.
	attrCols := make(map[string]int)
	if opts.AttrColumns != nil {
		for _, name := range opts.AttrColumns {
			if i, found := idx.lookup(strings.ToLower(name)); found {
				attrCols[strings.ToLower(name)] = i
			}
		}
	} else {
		for i, name := range header {
			if i == latIdx || i == lngIdx || i == idIdx {
				continue
			}
			attrCols[strings.ToLower(strings.TrimSpace(name))] = i
		}
	}

	records := make([]Record, 0, len(rows))
	var coerced int
	for n, row := range rows {
		r := Record{Attrs: make(map[string]string, len(attrCols))}

		if idIdx >= 0 && idIdx < len(row) && strings.TrimSpace(row[idIdx]) != "" {
			r.ID = strings.TrimSpace(row[idIdx])
		} else {
			r.ID = positionalID(n)
		}

		r.Latitude = parseCoord(cell(row, latIdx))
		r.Longitude = parseCoord(cell(row, lngIdx))
		if !r.HasCoordinates() {
			coerced++
		}

		for name, i := range attrCols {
			if v := cell(row, i); v != "" {
				r.Attrs[name] = v
			}
		}

		records = append(records, r)
	}

	if coerced > 0 {
		zap.L().Debug("dataset: rows loaded with missing coordinates",
			zap.String("source", source),
			zap.Int("missing", coerced),
		)
	}

	ds := New(records, source)
	ds.latCol = opts.LatColumn
	ds.lngCol = opts.LngColumn
	return ds, nil
}

// cell returns the trimmed value at i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseCoord parses a coordinate cell, returning nil for empty or
// non-numeric values.
func parseCoord(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
