// Package mosaic merges decoded radar volumes onto one shared grid and writes
// grid levels as rasters.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/fetcher"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/grid"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/level2"
	"github.com/spf13/afero"
)

var ErrNoVolumes = errors.New("mosaic: no volume files")

// Mosaicker grids reflectivity from local volume files.
type Mosaicker struct {
	fs   afero.Fs
	spec grid.Spec
}

func New(fs afero.Fs, spec grid.Spec) (*Mosaicker, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Mosaicker{fs: fs, spec: spec}, nil
}

// Mosaic decodes every file and accumulates its reflectivity gates. Any file
// that cannot be read or decoded fails the whole mosaic.
func (m *Mosaicker) Mosaic(ctx context.Context, files []fetcher.LocalFile) (*grid.Grid, error) {
	if len(files) == 0 {
		return nil, ErrNoVolumes
	}
	acc, err := grid.NewAccumulator(m.spec)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol, err := m.load(file.Path)
		if err != nil {
			return nil, fmt.Errorf("volume %s (%s): %w", file.Site, file.Path, err)
		}
		if vol.Site != string(file.Site) {
			slog.DebugContext(ctx, "volume site differs from selection", "site", file.Site, "volume_site", vol.Site)
		}

		used := addVolume(acc, vol)
		slog.DebugContext(ctx, "volume gridded",
			"site", file.Site,
			"scan_time", vol.Time,
			"radials", len(vol.Radials),
			"gates_used", used,
		)
	}

	g := acc.Grid()
	slog.InfoContext(ctx, "mosaic complete", "volumes", len(files), "gates", g.Gates)
	return g, nil
}

func (m *Mosaicker) load(path string) (*level2.Volume, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return level2.Decode(f)
}

// addVolume feeds every valid reflectivity gate of vol to acc and returns how
// many of them reached the grid.
func addVolume(acc *grid.Accumulator, vol *level2.Volume) int {
	used := 0
	for _, radial := range vol.Radials {
		ref := radial.Reflectivity
		if ref == nil {
			continue
		}
		for i, v := range ref.Values {
			if math.IsNaN(float64(v)) {
				continue
			}
			x, y, z := gateCartesian(ref.Range(i), radial.Azimuth, radial.Elevation)
			lat, lon := toGeographic(x, y, vol.Latitude, vol.Longitude)
			if acc.Add(grid.Gate{
				Lat:   lat,
				Lon:   lon,
				Alt:   z + vol.Altitude,
				Rho:   math.Hypot(x, y),
				Value: v,
			}) {
				used++
			}
		}
	}
	return used
}
