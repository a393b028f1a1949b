package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTempXLSX(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, v := range row {
			r.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "data.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX_Basic(t *testing.T) {
	path := writeTempXLSX(t, "Sheet1", [][]string{
		{"id", "lat", "lng", "species"},
		{"t1", "40.7", "-74.0", "oak"},
		{"t2", "", "", "maple"},
	})

	ds, err := LoadXLSX(path, XLSXOptions{Options: Options{
		IDColumn: "id", LatColumn: "lat", LngColumn: "lng",
	}})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	r := ds.Record(0)
	assert.Equal(t, "t1", r.ID)
	require.True(t, r.HasCoordinates())
	assert.InDelta(t, -74.0, *r.Longitude, 1e-9)
	assert.Equal(t, "oak", r.Attr("species"))

	assert.Equal(t, 1, ds.MissingCoordinates())
}

func TestLoadXLSX_SheetByName(t *testing.T) {
	path := writeTempXLSX(t, "Trees", [][]string{
		{"id", "lat", "lng"},
		{"a", "1", "2"},
	})

	ds, err := LoadXLSX(path, XLSXOptions{
		Options:   Options{IDColumn: "id", LatColumn: "lat", LngColumn: "lng"},
		SheetName: "Trees",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	_, err = LoadXLSX(path, XLSXOptions{
		Options:   Options{IDColumn: "id", LatColumn: "lat", LngColumn: "lng"},
		SheetName: "Missing",
	})
	assert.Error(t, err)
}

func TestLoadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := writeTempXLSX(t, "Sheet1", [][]string{{"id", "lat", "lng"}})

	_, err := LoadXLSX(path, XLSXOptions{
		Options:    Options{IDColumn: "id", LatColumn: "lat", LngColumn: "lng"},
		SheetIndex: 5,
	})
	assert.Error(t, err)
}
