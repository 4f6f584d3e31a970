package verification

import (
	"math"
	"time"
)

const (
	earthRadiusKm = 6371.0

	geoBaseline    = 0.5
	nearDistanceKm = 1.0
	farDistanceKm  = 50.0
	nearBonus      = 0.2
	farPenalty     = 0.3
	timeAdjustment = 0.1
)

// Evidence is the location/time data extracted from a report's photo
type Evidence struct {
	Latitude   *float64
	Longitude  *float64
	CapturedAt *time.Time
}

// Anchor is the request-side reference the evidence is judged against
type Anchor struct {
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}

// HaversineKm returns the great-circle distance between two points in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*
			math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// GeoTemporalScore rates how plausible the capture evidence is for the request.
// Missing evidence leaves the neutral baseline untouched.
func GeoTemporalScore(ev Evidence, anchor Anchor) float64 {
	score := geoBaseline

	if ev.Latitude != nil && ev.Longitude != nil && anchor.Latitude != nil && anchor.Longitude != nil {
		d := HaversineKm(*ev.Latitude, *ev.Longitude, *anchor.Latitude, *anchor.Longitude)
		switch {
		case d < nearDistanceKm:
			score += nearBonus
		case d > farDistanceKm:
			score -= farPenalty
		}
	}

	if ev.CapturedAt != nil {
		// evidence predating the listing is suspicious
		if ev.CapturedAt.After(anchor.CreatedAt) {
			score += timeAdjustment
		} else {
			score -= timeAdjustment
		}
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
