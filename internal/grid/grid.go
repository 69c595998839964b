package grid

import (
	"fmt"
	"math"
)

// Gate is one radar sample in geographic coordinates.
type Gate struct {
	Lat, Lon float64 // degrees
	Alt      float64 // metres above sea level
	Rho      float64 // horizontal distance from the radar, metres
	Value    float32
}

// Grid is the analysed field. Data is laid out z-major then latitude then
// longitude, so row 0 of every level is the southernmost. Missing cells are NaN.
type Grid struct {
	Spec  Spec
	Data  []float32
	Gates int // gates that contributed to at least one cell
}

func (g *Grid) index(k, j, i int) int {
	return (k*g.Spec.Shape[1]+j)*g.Spec.Shape[2] + i
}

// At returns the value of cell (k, j, i).
func (g *Grid) At(k, j, i int) float32 {
	return g.Data[g.index(k, j, i)]
}

// Level returns the ny*nx slice for height index k without copying.
func (g *Grid) Level(k int) ([]float32, error) {
	if k < 0 || k >= g.Spec.Shape[0] {
		return nil, fmt.Errorf("level %d out of range [0, %d)", k, g.Spec.Shape[0])
	}
	size := g.Spec.Shape[1] * g.Spec.Shape[2]
	return g.Data[k*size : (k+1)*size], nil
}

// Accumulator sums weighted gate contributions per cell.
type Accumulator struct {
	spec   Spec
	sum    []float32
	weight []float32
	best   []float32 // squared distance of the nearest gate, Nearest only
	gates  int
}

// NewAccumulator allocates the accumulation buffers for spec.
func NewAccumulator(spec Spec) (*Accumulator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	a := &Accumulator{
		spec:   spec,
		sum:    make([]float32, spec.Cells()),
		weight: make([]float32, spec.Cells()),
	}
	if spec.Weighting == Nearest {
		a.best = make([]float32, spec.Cells())
		inf := float32(math.Inf(1))
		for i := range a.best {
			a.best[i] = inf
		}
	}
	return a, nil
}

// Add spreads one gate over every cell within its radius of influence and
// reports whether any cell was touched.
func (a *Accumulator) Add(g Gate) bool {
	v := float64(g.Value)
	if math.IsNaN(v) || v > a.spec.MaxRefl {
		return false
	}

	s := a.spec
	roi := s.RadiusOfInfluence(g.Alt, g.Rho)
	roi2 := roi * roi

	kLo, kHi := a.zRange(g.Alt, roi)
	latRadius := roi / metresPerDegree
	jLo, jHi := span(g.Lat-latRadius, g.Lat+latRadius, s.LatLimits[0], s.LatStep(), s.Shape[1])
	cosLat := math.Cos(g.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	lonRadius := latRadius / cosLat
	iLo, iHi := span(g.Lon-lonRadius, g.Lon+lonRadius, s.LonLimits[0], s.LonStep(), s.Shape[2])
	if kLo > kHi || jLo > jHi || iLo > iHi {
		return false
	}

	touched := false
	ny, nx := s.Shape[1], s.Shape[2]
	for k := kLo; k <= kHi; k++ {
		dz := s.Z(k) - g.Alt
		for j := jLo; j <= jHi; j++ {
			dy := (s.Lat(j) - g.Lat) * metresPerDegree
			rowBase := (k*ny + j) * nx
			for i := iLo; i <= iHi; i++ {
				dx := (s.Lon(i) - g.Lon) * metresPerDegree * cosLat
				d2 := dx*dx + dy*dy + dz*dz
				if d2 >= roi2 {
					continue
				}
				idx := rowBase + i
				touched = true

				if a.best != nil {
					if float32(d2) < a.best[idx] {
						a.best[idx] = float32(d2)
						a.sum[idx] = g.Value
						a.weight[idx] = 1
					}
					continue
				}
				w := float32(weight(s.Weighting, d2, roi2))
				a.sum[idx] += w * g.Value
				a.weight[idx] += w
			}
		}
	}
	if touched {
		a.gates++
	}
	return touched
}

func (a *Accumulator) zRange(alt, roi float64) (int, int) {
	s := a.spec
	if s.Shape[0] == 1 {
		if math.Abs(s.ZLimits[0]-alt) < roi {
			return 0, 0
		}
		return 1, 0
	}
	return span(alt-roi, alt+roi, s.ZLimits[0], s.zStep(), s.Shape[0])
}

// span returns the inclusive index range of cell centres origin+n*step that
// fall within [lo, hi], clamped to [0, n). An empty range has first > last.
func span(lo, hi, origin, step float64, n int) (int, int) {
	first := int(math.Ceil((lo - origin) / step))
	last := int(math.Floor((hi - origin) / step))
	if first < 0 {
		first = 0
	}
	if last > n-1 {
		last = n - 1
	}
	return first, last
}

func weight(w Weighting, d2, r2 float64) float64 {
	switch w {
	case Barnes:
		return math.Exp(-d2 / (2 * r2))
	case Cressman:
		return (r2 - d2) / (r2 + d2)
	default:
		return math.Exp(-d2 / (r2 / 4))
	}
}

// Grid normalises the accumulated sums into a Grid. The accumulator must not
// be used afterwards: its buffers are handed over to the result.
func (a *Accumulator) Grid() *Grid {
	nan := float32(math.NaN())
	data := a.sum
	for idx, w := range a.weight {
		if w > 0 {
			data[idx] /= w
		} else {
			data[idx] = nan
		}
	}
	g := &Grid{Spec: a.spec, Data: data, Gates: a.gates}
	a.sum, a.weight, a.best = nil, nil, nil
	return g
}
