package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/job-tracking/internal/models"
)

// RedisCache implements LocationCache with one hash per job. Entries expire
// the configured TTL after Redis stored them so a driver whose app died
// without a clean disconnect stops showing up in snapshots.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// putIfNewer keeps the stored sample when the same driver already reported a
// later device timestamp. Device clocks only order one driver's samples.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'ts', 'driver_id')
if cur[1] and cur[2] == ARGV[4] and tonumber(cur[1]) > tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'ts', ARGV[3], 'driver_id', ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "job:location:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(jobID string) string { return r.prefix + jobID }

func (r *RedisCache) Put(ctx context.Context, s models.LocationSample) error {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	args := []any{
		strconv.FormatFloat(s.Location.Lat, 'f', -1, 64),
		strconv.FormatFloat(s.Location.Lng, 'f', -1, 64),
		strconv.FormatInt(s.At.UnixMilli(), 10),
		s.DriverID,
		strconv.FormatInt(r.ttl.Milliseconds(), 10),
	}
	if err := putIfNewer.Run(ctx, r.client, []string{r.key(s.JobID)}, args...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis put location %s: %w", s.JobID, err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, jobID string) (models.LocationSample, bool, error) {
	m, err := r.client.HGetAll(ctx, r.key(jobID)).Result()
	if err != nil {
		return models.LocationSample{}, false, fmt.Errorf("redis get location %s: %w", jobID, err)
	}
	if len(m) == 0 {
		return models.LocationSample{}, false, nil
	}
	s, err := sampleFromHash(jobID, m)
	if err != nil {
		return models.LocationSample{}, false, err
	}
	return s, true, nil
}

func (r *RedisCache) Delete(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}

func sampleFromHash(jobID string, m map[string]string) (models.LocationSample, error) {
	lat, err := strconv.ParseFloat(m["lat"], 64)
	if err != nil {
		return models.LocationSample{}, fmt.Errorf("location %s: bad lat: %w", jobID, err)
	}
	lng, err := strconv.ParseFloat(m["lng"], 64)
	if err != nil {
		return models.LocationSample{}, fmt.Errorf("location %s: bad lng: %w", jobID, err)
	}
	ms, err := strconv.ParseInt(m["ts"], 10, 64)
	if err != nil {
		return models.LocationSample{}, fmt.Errorf("location %s: bad ts: %w", jobID, err)
	}
	return models.LocationSample{
		JobID:    jobID,
		DriverID: m["driver_id"],
		Location: models.Coord{Lat: lat, Lng: lng},
		At:       time.UnixMilli(ms).UTC(),
	}, nil
}
