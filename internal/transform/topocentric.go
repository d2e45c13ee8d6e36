package transform

import (
	"math"

	"github.com/star/sgp4d/internal/orbit"
)

// WGS-84 ellipsoid in kilometers.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)

	rad2deg = 180.0 / math.Pi
)

// Observer is a ground site with its ECEF position precomputed.
type Observer struct {
	LatRad, LonRad float64
	AltKm          float64
	ECEF           [3]float64 // km
}

// LookAngles holds azimuth, elevation and range from an observer.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth_deg"` // 0 = North, clockwise
	ElevationDeg float64 `json:"elevation_deg"`
	RangeKm      float64 `json:"range_km"`
}

// Geodetic is a WGS-84 latitude, longitude and height.
type Geodetic struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

// NewObserver builds an Observer from degrees and meters above the ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := latDeg / rad2deg
	lon := lonDeg / rad2deg
	alt := altM / 1000.0

	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	// Prime vertical radius of curvature.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltKm:  alt,
		ECEF: [3]float64{
			(n + alt) * cosLat * cosLon,
			(n + alt) * cosLat * sinLon,
			(n*(1-wgs84E2) + alt) * sinLat,
		},
	}
}

// Look computes az/el/range to an ECEF state, via the SEZ rotation of
// Vallado Section 4.4.
func (o Observer) Look(ecef orbit.StateVector) LookAngles {
	rx := ecef.Position[0] - o.ECEF[0]
	ry := ecef.Position[1] - o.ECEF[1]
	rz := ecef.Position[2] - o.ECEF[2]

	sinLat, cosLat := math.Sincos(o.LatRad)
	sinLon, cosLon := math.Sincos(o.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	el := math.Asin(zenith / rng)
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * rad2deg,
		ElevationDeg: el * rad2deg,
		RangeKm:      rng,
	}
}

// Subpoint converts an ECEF position to geodetic coordinates with Bowring's
// iteration; five passes are plenty for orbital altitudes.
func Subpoint(ecef orbit.StateVector) Geodetic {
	x, y, z := ecef.Position[0], ecef.Position[1], ecef.Position[2]
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{LatDeg: lat * rad2deg, LonDeg: lon * rad2deg, AltKm: alt}
}
