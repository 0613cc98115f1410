package redis

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"securehealth/internal/client"
	"securehealth/internal/models"
	"securehealth/internal/util"
)

const (
	actorKeyPrefix = "actor:"
	actorTTL       = 5 * time.Minute
)

// ActorCache keeps hot actor attributes (role, ward, lock flag) in Redis so
// scans do not hammer the user table. Entries are invalidated on lock.
type ActorCache struct {
	redis  *client.RedisClient
	logger *zap.Logger
}

func NewActorCache(redisClient *client.RedisClient, logger *zap.Logger) *ActorCache {
	return &ActorCache{
		redis:  redisClient,
		logger: logger,
	}
}

// GetActor returns the cached actor, or nil on miss. Cache errors degrade to
// a miss; the caller falls through to the repository.
func (c *ActorCache) GetActor(ctx context.Context, userID string) *models.User {
	fields, err := c.redis.HGetAll(ctx, actorKeyPrefix+userID)
	if err != nil {
		c.logger.Debug("actor cache read failed", util.String("user_id", userID), util.ErrorField(err))
		return nil
	}
	if len(fields) == 0 {
		return nil
	}

	locked, _ := strconv.ParseBool(fields["is_locked"])
	return &models.User{
		UserID:     userID,
		Name:       fields["name"],
		Role:       fields["role"],
		Department: fields["department"],
		IsLocked:   locked,
	}
}

// SetActor caches the attributes the detection pipeline reads.
func (c *ActorCache) SetActor(ctx context.Context, user *models.User) {
	key := actorKeyPrefix + user.UserID
	if err := c.redis.HSet(ctx, key,
		"name", user.Name,
		"role", user.Role,
		"department", user.Department,
		"is_locked", strconv.FormatBool(user.IsLocked),
	); err != nil {
		c.logger.Debug("actor cache write failed", util.String("user_id", user.UserID), util.ErrorField(err))
		return
	}
	_ = c.redis.Expire(ctx, key, actorTTL)
}

// InvalidateActor drops the cached entry, used after lock-state changes so a
// stale unlocked view cannot outlive a lock.
func (c *ActorCache) InvalidateActor(ctx context.Context, userID string) {
	if err := c.redis.Del(ctx, actorKeyPrefix+userID); err != nil {
		c.logger.Debug("actor cache invalidate failed", util.String("user_id", userID), util.ErrorField(err))
	}
}
