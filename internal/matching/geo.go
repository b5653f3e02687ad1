package matching

import (
	"math"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the therapist's distance to the booking. ok is false when
// either side lacks coordinates.
func Distance(b *booking.Booking, t therapists.Therapist) (km float64, ok bool) {
	if b == nil || !b.HasLocation() || t.Latitude == nil || t.Longitude == nil {
		return 0, false
	}
	return Haversine(*b.Latitude, *b.Longitude, *t.Latitude, *t.Longitude), true
}

// InServiceArea reports whether the booking lies within the therapist's
// radius. The boundary is inclusive. A booking without coordinates is in
// every area; a therapist without a complete service area is in none.
func InServiceArea(b *booking.Booking, t therapists.Therapist) bool {
	if b == nil || !b.HasLocation() {
		return true
	}
	if !t.HasServiceArea() {
		return false
	}
	km, ok := Distance(b, t)
	return ok && km <= *t.ServiceRadiusKm
}
