package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// InitializeRedis sets up the Redis client used for availability caching and
// tests the connection before handing it out.
func InitializeRedis(redisAddr string, customLogger *logger.Logger) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "",
		DB:       0,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		if customLogger != nil {
			customLogger.Error("CACHE", fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
		}
		return nil, err
	}

	if customLogger != nil {
		customLogger.Info("CACHE", fmt.Sprintf("Successfully connected to Redis at %s", redisAddr))
	}
	return redisClient, nil
}

// Availability is a read-through cache for slot availability snapshots.
// Writers invalidate after every committed reservation or release, so a
// cached entry is at worst TTL-stale, never wrong forever.
type Availability struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewAvailability(redisClient *redis.Client, ttl time.Duration, log *logger.Logger) *Availability {
	return &Availability{redis: redisClient, ttl: ttl, logger: log}
}

func availabilityKey(slotID string) string {
	return "slot:availability:" + slotID
}

// Get returns the cached availability snapshot for a slot, or nil on a miss.
func (a *Availability) Get(ctx context.Context, slotID string) (*models.SlotAvailability, error) {
	if a.redis == nil {
		return nil, nil
	}

	raw, err := a.redis.Get(ctx, availabilityKey(slotID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("availability cache get: %w", err)
	}

	var snapshot models.SlotAvailability
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		a.logger.Warn("CACHE", fmt.Sprintf("Dropping corrupt availability entry for slot %s: %v", slotID, err))
		a.redis.Del(ctx, availabilityKey(slotID))
		return nil, nil
	}
	return &snapshot, nil
}

// Set stores an availability snapshot with the configured TTL.
func (a *Availability) Set(ctx context.Context, snapshot models.SlotAvailability) {
	if a.redis == nil {
		return
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		a.logger.Warn("CACHE", fmt.Sprintf("Failed to marshal availability for slot %s: %v", snapshot.SlotID, err))
		return
	}
	if err := a.redis.Set(ctx, availabilityKey(snapshot.SlotID), raw, a.ttl).Err(); err != nil {
		a.logger.Warn("CACHE", fmt.Sprintf("Failed to cache availability for slot %s: %v", snapshot.SlotID, err))
	}
}

// Invalidate drops the cached snapshot for a slot after its ledger changed.
func (a *Availability) Invalidate(ctx context.Context, slotID string) {
	if a.redis == nil {
		return
	}
	if err := a.redis.Del(ctx, availabilityKey(slotID)).Err(); err != nil {
		a.logger.Warn("CACHE", fmt.Sprintf("Failed to invalidate availability for slot %s: %v", slotID, err))
	}
}
