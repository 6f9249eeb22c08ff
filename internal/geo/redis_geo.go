package geo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/airbear/internal/models"
)

// RedisIndex implements Index using Redis GEO commands. Vehicle records are
// stored alongside as JSON so a radius query needs no second lookup source.
type RedisIndex struct {
	client redis.UniversalClient
	key    string
	spots  *Table
}

func NewRedisIndex(client redis.UniversalClient, key string, spots *Table) *RedisIndex {
	return &RedisIndex{client: client, key: key, spots: spots}
}

func (r *RedisIndex) Upsert(ctx context.Context, v models.Vehicle) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}
	if err := r.client.Set(ctx, metaKey(v.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("store vehicle meta: %w", err)
	}
	pos, ok := Position(v, r.spots)
	if !ok {
		return nil
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: pos.Lon, Latitude: pos.Lat, Name: v.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd: %w", err)
	}
	return nil
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.NearbyVehicle, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithDist: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	if len(res) == 0 {
		return []models.NearbyVehicle{}, nil
	}
	keys := make([]string, len(res))
	for i, g := range res {
		keys[i] = metaKey(g.Name)
	}
	metas, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget vehicle meta: %w", err)
	}
	out := make([]models.NearbyVehicle, 0, len(res))
	for i, g := range res {
		s, ok := metas[i].(string)
		if !ok {
			continue
		}
		var v models.Vehicle
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			continue
		}
		if !Bookable(v) {
			continue
		}
		out = append(out, models.NearbyVehicle{Vehicle: v, DistanceKm: g.Dist})
	}
	return out, nil
}

func metaKey(id string) string { return "airbear:meta:" + id }
