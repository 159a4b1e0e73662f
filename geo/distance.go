package geo

import "math"

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.32
)

// HaversineKm is the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// haversineSlack widens kmPerDegree deltas to the sphere HaversineKm uses,
// whose degree is slightly shorter than 111.32 km.
const haversineSlack = kmPerDegree / (earthRadiusKm * math.Pi / 180)

// BoundingBox returns a rectangle that contains every point within
// radiusKm of the centre. It is a prefilter: its corners lie outside the
// circle. When the circle reaches a pole, or the box would cross the
// antimeridian, the longitude span widens to the whole globe.
func BoundingBox(latitude, longitude, radiusKm float64) Bounds {
	latDelta := radiusKm / kmPerDegree * haversineSlack

	b := Bounds{
		MinLatitude:  math.Max(latitude-latDelta, -90),
		MaxLatitude:  math.Min(latitude+latDelta, 90),
		MinLongitude: -180,
		MaxLongitude: 180,
	}
	if latitude+latDelta >= 90 || latitude-latDelta <= -90 {
		return b
	}

	// Widest longitude reach of a circle that contains neither pole.
	sinReach := math.Sin(radiusKm/earthRadiusKm) / math.Cos(toRadians(latitude))
	if sinReach >= 1 {
		return b
	}
	lonDelta := math.Asin(sinReach) * 180 / math.Pi
	if longitude-lonDelta < -180 || longitude+lonDelta > 180 {
		return b
	}

	b.MinLongitude = longitude - lonDelta
	b.MaxLongitude = longitude + lonDelta
	return b
}
