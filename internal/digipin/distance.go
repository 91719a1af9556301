package digipin

import "math"

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance between p1 and p2 in metres.
func Haversine(p1, p2 GeoPoint) float64 {
	dLat := toRad(p2.Latitude - p1.Latitude)
	dLon := toRad(p2.Longitude - p1.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(p1.Latitude))*math.Cos(toRad(p2.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
