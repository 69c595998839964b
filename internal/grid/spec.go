// Package grid accumulates scattered radar gates onto a regular
// latitude/longitude/height grid using distance-weighted objective analysis.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EarthRadius is the mean earth radius in metres used for distances on the grid.
const EarthRadius = 6371000.0

const metresPerDegree = EarthRadius * math.Pi / 180

// Weighting selects how a gate's contribution decays with distance.
type Weighting string

const (
	Barnes   Weighting = "barnes"
	Barnes2  Weighting = "barnes2"
	Cressman Weighting = "cressman"
	Nearest  Weighting = "nearest"
)

// ParseWeighting accepts a weighting name case-insensitively.
func ParseWeighting(s string) (Weighting, error) {
	switch w := Weighting(strings.ToLower(strings.TrimSpace(s))); w {
	case Barnes, Barnes2, Cressman, Nearest:
		return w, nil
	default:
		return "", fmt.Errorf("unknown weighting function %q", s)
	}
}

// Spec describes the output grid and interpolation parameters. Limits are the
// centres of the first and last cells along each axis.
type Spec struct {
	// Shape is {nz, ny, nx}.
	Shape     [3]int
	ZLimits   [2]float64 // metres above sea level
	LatLimits [2]float64 // degrees north
	LonLimits [2]float64 // degrees east

	Weighting Weighting

	// Radius of influence is max(HFactor*z/20 + ρ*tan(NB*BSP), MinRadius),
	// with z the gate height and ρ its horizontal distance from the radar.
	MinRadius float64
	HFactor   float64
	NB        float64 // beam width, degrees
	BSP       float64 // beam spacing factor

	// Reflectivity above MaxRefl is discarded. Use +Inf to keep everything.
	MaxRefl float64
}

// DefaultSpec is a CONUS mosaic at 0.01 degree spacing.
func DefaultSpec() Spec {
	return Spec{
		Shape:     [3]int{3, 3500, 7000},
		ZLimits:   [2]float64{0, 19000},
		LatLimits: [2]float64{20, 50},
		LonLimits: [2]float64{-130, -60},
		Weighting: Barnes2,
		MinRadius: 30,
		HFactor:   0,
		NB:        1.5,
		BSP:       0,
		MaxRefl:   100,
	}
}

var ErrInvalidSpec = errors.New("invalid grid spec")

// Validate reports the first problem with the spec.
func (s Spec) Validate() error {
	nz, ny, nx := s.Shape[0], s.Shape[1], s.Shape[2]
	switch {
	case nz < 1:
		return fmt.Errorf("%w: need at least one z level, got %d", ErrInvalidSpec, nz)
	case ny < 2 || nx < 2:
		return fmt.Errorf("%w: need at least 2x2 horizontal cells, got %dx%d", ErrInvalidSpec, ny, nx)
	case nz > 1 && s.ZLimits[1] <= s.ZLimits[0]:
		return fmt.Errorf("%w: z limits %v must increase", ErrInvalidSpec, s.ZLimits)
	case s.LatLimits[1] <= s.LatLimits[0]:
		return fmt.Errorf("%w: latitude limits %v must increase", ErrInvalidSpec, s.LatLimits)
	case s.LonLimits[1] <= s.LonLimits[0]:
		return fmt.Errorf("%w: longitude limits %v must increase", ErrInvalidSpec, s.LonLimits)
	case s.LatLimits[0] < -90 || s.LatLimits[1] > 90:
		return fmt.Errorf("%w: latitude limits %v out of range", ErrInvalidSpec, s.LatLimits)
	case s.MinRadius <= 0:
		return fmt.Errorf("%w: min radius must be positive, got %v", ErrInvalidSpec, s.MinRadius)
	}
	if _, err := ParseWeighting(string(s.Weighting)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return nil
}

// Cells returns the total number of grid cells.
func (s Spec) Cells() int {
	return s.Shape[0] * s.Shape[1] * s.Shape[2]
}

func (s Spec) zStep() float64 {
	if s.Shape[0] < 2 {
		return 0
	}
	return (s.ZLimits[1] - s.ZLimits[0]) / float64(s.Shape[0]-1)
}

// LatStep and LonStep return the cell spacing in degrees.
func (s Spec) LatStep() float64 {
	return (s.LatLimits[1] - s.LatLimits[0]) / float64(s.Shape[1]-1)
}

func (s Spec) LonStep() float64 {
	return (s.LonLimits[1] - s.LonLimits[0]) / float64(s.Shape[2]-1)
}

// Z, Lat and Lon return cell centre coordinates.
func (s Spec) Z(k int) float64 {
	return s.ZLimits[0] + float64(k)*s.zStep()
}

func (s Spec) Lat(j int) float64 {
	return s.LatLimits[0] + float64(j)*s.LatStep()
}

func (s Spec) Lon(i int) float64 {
	return s.LonLimits[0] + float64(i)*s.LonStep()
}

// RadiusOfInfluence returns the search radius in metres for a gate at height z
// and horizontal distance rho from its radar.
func (s Spec) RadiusOfInfluence(z, rho float64) float64 {
	roi := s.HFactor*(z/20) + rho*math.Tan(s.NB*s.BSP*math.Pi/180)
	return math.Max(roi, s.MinRadius)
}
