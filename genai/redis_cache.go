package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// DefaultRedisKey is the GEO set holding cached places
const DefaultRedisKey = "santa:geocode"

// RedisGeocodeCache shares resolved places between server instances. Positions
// live in a GEO set, display names in a companion hash.
//
// Redis GEO only stores latitudes within ±85.05112878; Put fails for polar places.
type RedisGeocodeCache struct {
	rdb *redis.Client
	key string
}

// NewRedisGeocodeCache creates a cache on rdb. An empty key uses DefaultRedisKey.
func NewRedisGeocodeCache(rdb *redis.Client, key string) *RedisGeocodeCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisGeocodeCache{rdb: rdb, key: key}
}

func (c *RedisGeocodeCache) namesKey() string {
	return c.key + ":names"
}

// Get returns the cached place for query
func (c *RedisGeocodeCache) Get(ctx context.Context, query string) (_ Place, _ bool, err error) {
	defer timeOp(ctx, "geocode.redis.get")(&err)

	member := normalizeQuery(query)
	pos, err := c.rdb.GeoPos(ctx, c.key, member).Result()
	if err != nil {
		return Place{}, false, fmt.Errorf("redis geocode cache: geopos: %w", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return Place{}, false, nil
	}

	name, err := c.rdb.HGet(ctx, c.namesKey(), member).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Place{}, false, fmt.Errorf("redis geocode cache: hget: %w", err)
	}
	if name == "" {
		name = query
	}

	return Place{
		Coord:       engine.Coordinate{Lat: pos[0].Latitude, Lng: pos[0].Longitude},
		DisplayName: name,
	}, true, nil
}

// Put stores place under query
func (c *RedisGeocodeCache) Put(ctx context.Context, query string, place Place) (err error) {
	defer timeOp(ctx, "geocode.redis.put")(&err)

	member := normalizeQuery(query)
	if member == "" {
		return fmt.Errorf("redis geocode cache: empty query")
	}

	pipe := c.rdb.TxPipeline()
	pipe.GeoAdd(ctx, c.key, &redis.GeoLocation{
		Name:      member,
		Longitude: place.Coord.Lng,
		Latitude:  place.Coord.Lat,
	})
	pipe.HSet(ctx, c.namesKey(), member, place.DisplayName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis geocode cache: store %q: %w", member, err)
	}
	return nil
}
