package dataset

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LoadShapefilePoints reads a point shapefile into a Dataset. DBF fields
// become record attributes. Non-point shapes are skipped with a logged
// count. The IDColumn option selects the DBF field used for record IDs.
func LoadShapefilePoints(path string, opts Options) (*Dataset, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	names := make([]string, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		fieldIdx[name] = i
		names[i] = name
	}

	idIdx := -1
	if opts.IDColumn != "" {
		if i, ok := fieldIdx[strings.ToLower(opts.IDColumn)]; ok {
			idIdx = i
		}
	}

	var records []Record
	var skipped int
	n := -1
	for reader.Next() {
		n++
		_, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok || pt == nil {
			skipped++
			continue
		}

		r := Record{Attrs: make(map[string]string, len(names))}
		lng, lat := pt.X, pt.Y
		r.Longitude = &lng
		r.Latitude = &lat

		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				continue
			}
			if i == idIdx {
				r.ID = val
				continue
			}
			r.Attrs[name] = val
		}
		if r.ID == "" {
			r.ID = positionalID(n)
		}

		records = append(records, r)
	}

	if skipped > 0 {
		zap.L().Debug("dataset: skipped non-point shapes",
			zap.String("source", path),
			zap.Int("skipped", skipped),
		)
	}

	return New(records, path), nil
}
