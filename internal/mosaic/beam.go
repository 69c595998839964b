package mosaic

import "math"

const (
	// Effective earth radius for standard beam refraction (4/3 earth model).
	effectiveEarthRadius = 6371000.0 * 4 / 3
	// Sphere used by the azimuthal equidistant projection around each radar.
	projectionRadius = 6370997.0
)

// gateCartesian returns the position of a gate relative to its antenna:
// x east and y north along the surface, z height above the antenna, all metres.
func gateCartesian(slantRange, azimuth, elevation float64) (x, y, z float64) {
	el := elevation * math.Pi / 180
	az := azimuth * math.Pi / 180
	r := slantRange
	R := effectiveEarthRadius

	z = math.Sqrt(r*r+R*R+2*r*R*math.Sin(el)) - R
	s := R * math.Asin(r*math.Cos(el)/(R+z))
	return s * math.Sin(az), s * math.Cos(az), z
}

// toGeographic inverts an azimuthal equidistant projection centred on
// (lat0, lon0). Longitudes are normalised to [-180, 180).
func toGeographic(x, y, lat0, lon0 float64) (lat, lon float64) {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return lat0, lon0
	}
	phi0 := lat0 * math.Pi / 180
	c := rho / projectionRadius
	sinC, cosC := math.Sincos(c)
	sinPhi0, cosPhi0 := math.Sincos(phi0)

	lat = math.Asin(cosC*sinPhi0+y*sinC*cosPhi0/rho) * 180 / math.Pi
	dLon := math.Atan2(x*sinC, rho*cosPhi0*cosC-y*sinPhi0*sinC) * 180 / math.Pi
	lon = math.Mod(lon0+dLon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lat, lon - 180
}
