package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maneesh/songdrop/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCacheTTL is the time-to-live for cached song listings
const DefaultCacheTTL = 5 * time.Minute

// RedisClient caches per-user song listings with tracing
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Listings are stored under a per-user generation. Invalidation bumps the
// generation, so a listing read from TiDB before an upload and written after
// its invalidation lands on a key no reader asks for.
func libraryGenKey(userID string) string {
	return fmt.Sprintf("library:%s:gen", userID)
}

func librarySongsKey(userID string, gen int64) string {
	return fmt.Sprintf("library:%s:songs:%d", userID, gen)
}

// GetUserSongs returns the cached listing, or nil on a miss, together with
// the generation a refill must be written under
func (rc *RedisClient) GetUserSongs(ctx context.Context, userID string) ([]*models.Song, int64, error) {
	ctx, span := tracer.Start(ctx, "redis.get_user_songs",
		trace.WithAttributes(
			attribute.String("user_id", userID),
		),
	)
	defer span.End()

	gen, err := rc.client.Get(ctx, libraryGenKey(userID)).Int64()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to get cache generation: %w", err)
	}
	span.SetAttributes(attribute.Int64("generation", gen))

	data, err := rc.client.Get(ctx, librarySongsKey(userID, gen)).Bytes()
	if err == redis.Nil {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, gen, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, gen, fmt.Errorf("failed to get from cache: %w", err)
	}

	var songs []*models.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		span.RecordError(err)
		return nil, gen, fmt.Errorf("failed to unmarshal cached songs: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return songs, gen, nil
}

// SetUserSongs caches a user's listing under generation gen
func (rc *RedisClient) SetUserSongs(ctx context.Context, userID string, gen int64, songs []*models.Song) error {
	ctx, span := tracer.Start(ctx, "redis.set_user_songs",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int64("generation", gen),
			attribute.Int("song_count", len(songs)),
		),
	)
	defer span.End()

	data, err := json.Marshal(songs)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal songs: %w", err)
	}

	if err := rc.client.Set(ctx, librarySongsKey(userID, gen), data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())))
	return nil
}

// InvalidateUserSongs moves the user to a new generation so the next read
// refreshes from TiDB
func (rc *RedisClient) InvalidateUserSongs(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_user_songs",
		trace.WithAttributes(
			attribute.String("user_id", userID),
		),
	)
	defer span.End()

	gen, err := rc.client.Incr(ctx, libraryGenKey(userID)).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	span.SetAttributes(attribute.Int64("generation", gen))
	return nil
}
