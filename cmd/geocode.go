package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ctsilva/UrbanMapper/pkg/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <addresses.csv>",
	Short: "Batch geocode a CSV of addresses",
	Long:  "Reads a CSV with an address column, geocodes each row through the configured providers, and writes the results with latitude and longitude appended.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		addrCol, _ := cmd.Flags().GetString("address-column")
		outPath, _ := cmd.Flags().GetString("out")

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		r := csv.NewReader(f)
		rows, err := r.ReadAll()
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		if len(rows) < 2 {
			return eris.New("input has no data rows")
		}

		header := rows[0]
		addrIdx := -1
		for i, col := range header {
			if col == addrCol {
				addrIdx = i
			}
		}
		if addrIdx < 0 {
			return eris.Errorf("column %q not found in header", addrCol)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		client := initGeocoder(st)

		// Results come back positionally aligned with the inputs, so
		// rows missing the address column still get an entry.
		addrs := make([]geocode.AddressInput, len(rows)-1)
		for i, row := range rows[1:] {
			addrs[i] = geocode.AddressInput{ID: strconv.Itoa(i)}
			if addrIdx < len(row) {
				addrs[i].OneLine = row[addrIdx]
			}
		}

		results, err := client.BatchGeocode(ctx, addrs)
		if err != nil {
			return err
		}

		out := os.Stdout
		if outPath != "" {
			out, err = os.Create(outPath)
			if err != nil {
				return eris.Wrapf(err, "create %s", outPath)
			}
			defer out.Close() //nolint:errcheck
		}

		w := csv.NewWriter(out)
		if err := w.Write(append(header, "latitude", "longitude", "geocode_source")); err != nil {
			return eris.Wrap(err, "write header")
		}
		matched := 0
		for i, row := range rows[1:] {
			lat, lng, src := "", "", ""
			if res := results[i]; res.Matched {
				lat = strconv.FormatFloat(res.Latitude, 'f', 6, 64)
				lng = strconv.FormatFloat(res.Longitude, 'f', 6, 64)
				src = res.Source
				matched++
			}
			if err := w.Write(append(row, lat, lng, src)); err != nil {
				return eris.Wrap(err, "write row")
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return eris.Wrap(err, "flush output")
		}

		fmt.Fprintf(os.Stderr, "Geocoded %d/%d addresses.\n", matched, len(addrs))
		return nil
	},
}

func init() {
	geocodeCmd.Flags().String("address-column", "address", "header name of the address column")
	geocodeCmd.Flags().String("out", "", "output path (default stdout)")
	rootCmd.AddCommand(geocodeCmd)
}
