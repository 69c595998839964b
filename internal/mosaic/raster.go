package mosaic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/geotiff"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/grid"
	"github.com/spf13/afero"
)

// RasterWriter writes one height level of a grid as a GeoTIFF.
type RasterWriter struct {
	fs     afero.Fs
	level  int
	nodata float64
}

func NewRasterWriter(fs afero.Fs, level int, nodata float64) *RasterWriter {
	return &RasterWriter{fs: fs, level: level, nodata: nodata}
}

func (w *RasterWriter) WriteRaster(ctx context.Context, g *grid.Grid, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := g.Level(w.level)
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}

	s := g.Spec
	r := geotiff.Raster{
		Width:  s.Shape[2],
		Height: s.Shape[1],
		Data:   data,
		LonMin: s.LonLimits[0],
		LonMax: s.LonLimits[1],
		LatMin: s.LatLimits[0],
		LatMax: s.LatLimits[1],
		NoData: w.nodata,
	}
	if err := geotiff.WriteFile(w.fs, path, r); err != nil {
		return err
	}

	slog.InfoContext(ctx, "raster written", "path", path, "level", w.level, "height_m", s.Z(w.level))
	return nil
}
