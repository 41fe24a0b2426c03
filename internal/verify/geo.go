package verify

import (
	"log/slog"
	"math"
)

// earthRadiusMeters is the mean Earth radius used for great-circle
// distance. WGS-84 inputs, spherical model; accurate to ~0.5% which is
// far below geofence radii in practice.
const earthRadiusMeters = 6371000.0

// GeoResult is the outcome of a geofence check.
type GeoResult struct {
	IsWithinLocation bool
	DistanceMeters   float64
}

// Haversine computes the great-circle distance in meters between two
// WGS-84 decimal-degree coordinates.
//
// Pure function: deterministic for identical inputs and symmetric in
// its two points. Safe to call from any goroutine.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lng2 - lng1) * degToRad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// VerifyLocation checks a captured coordinate against a site geofence.
//
// A radius of 0 demands an exact coordinate match, which real GPS never
// produces; treat it as a site misconfiguration. The check still runs
// (and logs a warning) rather than crashing the capture flow.
func VerifyLocation(capturedLat, capturedLng, siteLat, siteLng, radiusMeters float64) GeoResult {
	if radiusMeters <= 0 {
		slog.Warn("geofence radius is not positive, site is likely misconfigured",
			"radius_meters", radiusMeters,
			"site_lat", siteLat,
			"site_lng", siteLng,
		)
	}

	d := Haversine(capturedLat, capturedLng, siteLat, siteLng)
	return GeoResult{
		IsWithinLocation: d <= radiusMeters,
		DistanceMeters:   d,
	}
}
