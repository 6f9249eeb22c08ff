package geo

import (
	"context"
	"math"
	"sync"

	"github.com/mmcloughlin/geohash"

	"github.com/example/airbear/internal/models"
)

// storagePrecision is the geohash length vehicles are bucketed at. Every
// prefix of the hash is indexed so queries can pick a coarser cell.
const storagePrecision = 6

// MemoryIndex keeps vehicles in memory, bucketed by geohash prefix.
type MemoryIndex struct {
	spots *Table

	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
	hashes   map[string]string
	buckets  map[string]map[string]struct{}
}

func NewMemoryIndex(spots *Table) *MemoryIndex {
	return &MemoryIndex{
		spots:    spots,
		vehicles: make(map[string]models.Vehicle),
		hashes:   make(map[string]string),
		buckets:  make(map[string]map[string]struct{}),
	}
}

func (g *MemoryIndex) Upsert(_ context.Context, v models.Vehicle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.hashes[v.ID]; ok {
		for p := 1; p <= len(old); p++ {
			if b := g.buckets[old[:p]]; b != nil {
				delete(b, v.ID)
				if len(b) == 0 {
					delete(g.buckets, old[:p])
				}
			}
		}
		delete(g.hashes, v.ID)
	}
	g.vehicles[v.ID] = v
	pos, ok := Position(v, g.spots)
	if !ok {
		return nil
	}
	h := geohash.EncodeWithPrecision(pos.Lat, pos.Lon, storagePrecision)
	g.hashes[v.ID] = h
	for p := 1; p <= len(h); p++ {
		b := g.buckets[h[:p]]
		if b == nil {
			b = make(map[string]struct{})
			g.buckets[h[:p]] = b
		}
		b[v.ID] = struct{}{}
	}
	return nil
}

func (g *MemoryIndex) Nearby(_ context.Context, lat, lon, radiusKm float64) ([]models.NearbyVehicle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p := queryPrecision(lat, radiusKm)
	if p == 0 {
		all := make([]models.Vehicle, 0, len(g.vehicles))
		for _, v := range g.vehicles {
			all = append(all, v)
		}
		return Nearby(all, g.spots, lat, lon, radiusKm), nil
	}

	center := geohash.EncodeWithPrecision(lat, lon, uint(p))
	cells := append(geohash.Neighbors(center), center)
	seen := make(map[string]struct{})
	cands := make([]models.Vehicle, 0)
	for _, c := range cells {
		for id := range g.buckets[c] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			cands = append(cands, g.vehicles[id])
		}
	}
	return Nearby(cands, g.spots, lat, lon, radiusKm), nil
}

// queryPrecision picks the finest geohash length whose cells are at least
// radiusKm on their shortest side, so the center cell plus its neighbors
// covers the search circle. Zero means scan everything.
func queryPrecision(lat, radiusKm float64) int {
	for p := storagePrecision; p >= 1; p-- {
		bits := 5 * p
		latBits := bits / 2
		lonBits := bits - latBits
		latDeg := 180 / math.Pow(2, float64(latBits))
		lonDeg := 360 / math.Pow(2, float64(lonBits))
		// use the cell edge nearest the pole, where longitude degrees are shortest
		edge := math.Min(math.Abs(lat)+latDeg, 90)
		heightKm := latDeg * math.Pi / 180 * earthRadiusKm
		widthKm := lonDeg * math.Pi / 180 * earthRadiusKm * math.Cos(edge*math.Pi/180)
		if math.Min(heightKm, widthKm) >= radiusKm {
			return p
		}
	}
	return 0
}
