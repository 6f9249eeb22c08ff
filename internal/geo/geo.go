package geo

import (
	"context"
	"math"

	"github.com/example/airbear/internal/models"
)

// Index is the vehicle position store used by the nearby-driver query.
type Index interface {
	Upsert(ctx context.Context, v models.Vehicle) error
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.NearbyVehicle, error)
}

const earthRadiusKm = 6371.0

// Haversine distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Position resolves where a vehicle is: its reported coordinates, or the
// coordinates of its current spot.
func Position(v models.Vehicle, spots *Table) (models.Coord, bool) {
	if v.CurrentLat != nil && v.CurrentLng != nil {
		return models.Coord{Lat: *v.CurrentLat, Lon: *v.CurrentLng}, true
	}
	if spots != nil && v.CurrentSpotID != "" {
		if s, ok := spots.Lookup(v.CurrentSpotID); ok {
			return s.Coord(), true
		}
	}
	return models.Coord{}, false
}

// Bookable reports whether a vehicle can take a ride right now.
func Bookable(v models.Vehicle) bool { return v.IsAvailable && !v.IsCharging }

// Nearby filters bookable vehicles within radiusKm of (lat, lon) and attaches
// the computed distance. Result order is unspecified.
func Nearby(vehicles []models.Vehicle, spots *Table, lat, lon, radiusKm float64) []models.NearbyVehicle {
	out := make([]models.NearbyVehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if !Bookable(v) {
			continue
		}
		pos, ok := Position(v, spots)
		if !ok {
			continue
		}
		d := Haversine(lat, lon, pos.Lat, pos.Lon)
		if d <= radiusKm {
			out = append(out, models.NearbyVehicle{Vehicle: v, DistanceKm: d})
		}
	}
	return out
}
