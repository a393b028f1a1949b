package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ctsilva/UrbanMapper/internal/layer"
)

var layerCmd = &cobra.Command{
	Use:   "layer",
	Short: "Manage reference node layers",
	Long:  "Commands for inspecting node layers and loading them into PostGIS.",
}

func layerFromFile(path string) (*layer.Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return layer.FromShapefile(path)
	case ".geojson", ".json":
		return layer.FromGeoJSON(path)
	default:
		return nil, eris.Errorf("unsupported layer file %q (want .shp or .geojson)", path)
	}
}

// -- layer info --

var layerInfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Summarize a layer file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := layerFromFile(args[0])
		if err != nil {
			return err
		}

		box, err := l.BBox()
		if err != nil {
			return err
		}
		clng, clat, err := l.Centroid()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "nodes\t%d\n", l.Len())
		fmt.Fprintf(w, "crs\t%s\n", l.CRS())
		fmt.Fprintf(w, "bbox\t%g, %g, %g, %g\n", box.MinLng, box.MinLat, box.MaxLng, box.MaxLat)
		fmt.Fprintf(w, "centroid\t%g, %g\n", clng, clat)
		return w.Flush()
	},
}

// -- layer load --

var layerLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a layer file into the PostGIS node table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		table, _ := cmd.Flags().GetString("table")
		pg, closePG, err := initPGLayer(ctx, table)
		if err != nil {
			return err
		}
		if pg == nil {
			return eris.New("layer load requires layer.database_url in config")
		}
		defer closePG()

		l, err := layerFromFile(args[0])
		if err != nil {
			return err
		}

		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		n, err := pg.Save(ctx, l)
		if err != nil {
			return err
		}

		zap.L().Info("layer loaded", zap.Int64("nodes", n))
		fmt.Printf("Loaded %d nodes.\n", n)
		return nil
	},
}

func init() {
	layerLoadCmd.Flags().String("table", "", "target table (default from config)")

	layerCmd.AddCommand(layerInfoCmd)
	layerCmd.AddCommand(layerLoadCmd)
	rootCmd.AddCommand(layerCmd)
}
