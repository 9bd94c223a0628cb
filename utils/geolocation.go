package utils

import (
	"fmt"
	"math"
)

const (
	EarthRadiusM = 6371000.0
	DegToRad     = math.Pi / 180.0

	// WalkingSpeedMPS is the assumed responder travel speed for ETA
	// estimates.
	WalkingSpeedMPS = 1.4
)

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type BoundingBox struct {
	NorthEast Coordinate `json:"northEast"`
	SouthWest Coordinate `json:"southWest"`
}

// CalculateDistance calculates the distance in meters between two
// coordinates using the Haversine formula.
func CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegToRad
	lat2Rad := lat2 * DegToRad

	dlat := (lat2 - lat1) * DegToRad
	dlon := (lon2 - lon1) * DegToRad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// FormatDistance renders a distance for notification text: meters below
// 1 km, kilometers to one decimal above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm away", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm away", meters/1000)
}

// EstimateETA renders a walking-pace arrival estimate in whole minutes.
func EstimateETA(distanceMeters float64) string {
	seconds := distanceMeters / WalkingSpeedMPS
	minutes := int(math.Round(seconds / 60))
	if minutes < 1 {
		return "< 1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}

// IsValidCoordinate checks if latitude and longitude values are valid
func IsValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// CalculateBoundingBox calculates a bounding box around a center point with
// a given radius. Used to pre-filter nearby-responder queries before the
// exact haversine check.
func CalculateBoundingBox(centerLat, centerLon, radiusM float64) BoundingBox {
	latDelta := radiusM / 111000.0 // 1 degree latitude ≈ 111km
	lonDelta := radiusM / (111000.0 * math.Cos(centerLat*DegToRad))

	return BoundingBox{
		NorthEast: Coordinate{
			Latitude:  centerLat + latDelta,
			Longitude: centerLon + lonDelta,
		},
		SouthWest: Coordinate{
			Latitude:  centerLat - latDelta,
			Longitude: centerLon - lonDelta,
		},
	}
}
