// Package geotiff writes single-band float32 GeoTIFFs in EPSG:4326.
package geotiff

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

var ErrInvalidRaster = errors.New("geotiff: invalid raster")

// Raster is a regular lat/lon image. Data is row-major with row 0 at LatMin,
// the grid's natural order; Write flips it so the file starts at the north edge.
// Limits are the centres of the outermost cells.
type Raster struct {
	Width, Height  int
	Data           []float32
	LonMin, LonMax float64
	LatMin, LatMax float64
	NoData         float64 // written in place of NaN
}

func (r Raster) validate() error {
	switch {
	case r.Width < 2 || r.Height < 2:
		return fmt.Errorf("%w: size %dx%d, need at least 2x2", ErrInvalidRaster, r.Width, r.Height)
	case len(r.Data) != r.Width*r.Height:
		return fmt.Errorf("%w: %d values for %dx%d", ErrInvalidRaster, len(r.Data), r.Width, r.Height)
	case !(r.LonMax > r.LonMin) || !(r.LatMax > r.LatMin):
		return fmt.Errorf("%w: empty extent", ErrInvalidRaster)
	case math.IsNaN(r.NoData):
		return fmt.Errorf("%w: no-data value must be a number", ErrInvalidRaster)
	}
	return nil
}

// PixelSize returns the cell size in degrees.
func (r Raster) PixelSize() (dx, dy float64) {
	return (r.LonMax - r.LonMin) / float64(r.Width-1), (r.LatMax - r.LatMin) / float64(r.Height-1)
}

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagPixelScale      = 33550
	tagTiepoint        = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

const (
	headerSize   = 8
	entrySize    = 12
	sampleBytes  = 4
	sampleFloat  = 3
	blackIsZero  = 1
	noCompress   = 1
	contiguous   = 1
	maxClassicSz = math.MaxUint32
)

// geoKeys declares a geographic model, pixel-is-area rasters and WGS 84.
var geoKeys = []uint16{
	1, 1, 0, 3,
	1024, 0, 1, 2, // GTModelTypeGeoKey = ModelTypeGeographic
	1025, 0, 1, 1, // GTRasterTypeGeoKey = RasterPixelIsArea
	2048, 0, 1, 4326, // GeographicTypeGeoKey = EPSG:4326
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
	at    uint32 // offset of out-of-line data
}

var le = binary.LittleEndian

func shorts(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		le.PutUint16(b[2*i:], x)
	}
	return b
}

func longs(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		le.PutUint32(b[4*i:], x)
	}
	return b
}

func doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		le.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

// Write encodes r as a little-endian classic TIFF, one row per strip.
func Write(w io.Writer, r Raster) error {
	if err := r.validate(); err != nil {
		return err
	}

	rowBytes := uint32(r.Width * sampleBytes)
	dx, dy := r.PixelSize()
	nodata := strconv.FormatFloat(r.NoData, 'g', -1, 64) + "\x00"

	stripOffsets := make([]uint32, r.Height)
	stripCounts := make([]uint32, r.Height)
	for i := range stripCounts {
		stripCounts[i] = rowBytes
	}

	entries := []*entry{
		{tag: tagImageWidth, typ: typeLong, count: 1, data: longs(uint32(r.Width))},
		{tag: tagImageLength, typ: typeLong, count: 1, data: longs(uint32(r.Height))},
		{tag: tagBitsPerSample, typ: typeShort, count: 1, data: shorts(8 * sampleBytes)},
		{tag: tagCompression, typ: typeShort, count: 1, data: shorts(noCompress)},
		{tag: tagPhotometric, typ: typeShort, count: 1, data: shorts(blackIsZero)},
		{tag: tagStripOffsets, typ: typeLong, count: uint32(r.Height), data: longs(stripOffsets...)},
		{tag: tagSamplesPerPixel, typ: typeShort, count: 1, data: shorts(1)},
		{tag: tagRowsPerStrip, typ: typeLong, count: 1, data: longs(1)},
		{tag: tagStripByteCounts, typ: typeLong, count: uint32(r.Height), data: longs(stripCounts...)},
		{tag: tagPlanarConfig, typ: typeShort, count: 1, data: shorts(contiguous)},
		{tag: tagSampleFormat, typ: typeShort, count: 1, data: shorts(sampleFloat)},
		{tag: tagPixelScale, typ: typeDouble, count: 3, data: doubles(dx, dy, 0)},
		{tag: tagTiepoint, typ: typeDouble, count: 6, data: doubles(0, 0, 0, r.LonMin-dx/2, r.LatMax+dy/2, 0)},
		{tag: tagGeoKeyDirectory, typ: typeShort, count: uint32(len(geoKeys)), data: shorts(geoKeys...)},
		{tag: tagGDALNoData, typ: typeASCII, count: uint32(len(nodata)), data: []byte(nodata)},
	}

	// Lay out out-of-line values after the IFD, then the pixels.
	offset := uint64(headerSize + 2 + entrySize*len(entries) + 4)
	for _, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		e.at = uint32(offset)
		offset += uint64(len(e.data))
		offset += offset & 1
	}
	pixelStart := offset
	if end := pixelStart + uint64(rowBytes)*uint64(r.Height); end > maxClassicSz {
		return fmt.Errorf("%w: %d bytes exceeds classic TIFF limit", ErrInvalidRaster, end)
	}
	for i := range stripOffsets {
		stripOffsets[i] = uint32(pixelStart) + uint32(i)*rowBytes
	}
	entries[5].data = longs(stripOffsets...)

	bw := bufio.NewWriter(w)
	write := func(b []byte) {
		bw.Write(b) // errors surface on Flush
	}

	write([]byte{'I', 'I'})
	write(shorts(42))
	write(longs(headerSize))

	write(shorts(uint16(len(entries))))
	for _, e := range entries {
		write(shorts(e.tag, e.typ))
		write(longs(e.count))
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			write(inline)
		} else {
			write(longs(e.at))
		}
	}
	write(longs(0))

	for _, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		write(e.data)
		if len(e.data)&1 == 1 {
			write([]byte{0})
		}
	}

	row := make([]byte, rowBytes)
	fill := float32(r.NoData)
	for y := r.Height - 1; y >= 0; y-- {
		for x, v := range r.Data[y*r.Width : (y+1)*r.Width] {
			if math.IsNaN(float64(v)) {
				v = fill
			}
			le.PutUint32(row[x*sampleBytes:], math.Float32bits(v))
		}
		write(row)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("geotiff: write: %w", err)
	}
	return nil
}

// WriteFile writes r to path on fs, replacing any existing file only once
// encoding has succeeded.
func WriteFile(fs afero.Fs, path string, r Raster) (err error) {
	if err := r.validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("geotiff: create %s: %w", dir, err)
		}
	}

	tmp := path + ".part"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("geotiff: create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp)
		}
	}()

	if err := Write(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("geotiff: close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("geotiff: rename %s: %w", tmp, err)
	}
	return nil
}
