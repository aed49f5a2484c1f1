package geo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/job-tracking/internal/models"
)

// RedisGeo implements DriverIndex on a single Redis GEO set.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	if key == "" {
		key = "drivers:geo"
	}
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, driverID string, c models.Coord) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Name: driverID, Longitude: c.Lng, Latitude: c.Lat}).Err()
	if err != nil {
		return fmt.Errorf("redis geoadd %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	return r.client.ZRem(ctx, r.key, driverID).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, c models.Coord, radiusM float64, limit int) ([]NearbyDriver, error) {
	q := &redis.GeoRadiusQuery{Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}
	if limit > 0 {
		q.Count = limit
	}
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, q).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}
	out := make([]NearbyDriver, 0, len(res))
	for _, g := range res {
		out = append(out, NearbyDriver{
			ID:        g.Name,
			Location:  models.Coord{Lat: g.Latitude, Lng: g.Longitude},
			DistanceM: g.Dist,
		})
	}
	return out, nil
}
