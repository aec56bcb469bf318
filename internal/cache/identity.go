package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/selah/selah/internal/model"
)

const (
	identityKeyPrefix     = "auth:user:"
	identityUserSetPrefix = "auth:user-keys:"
	// IdentityTTL bounds how stale a cached user may be after a role change
	// that could not be invalidated.
	IdentityTTL = 2 * time.Minute
)

// cachedUser is the msgpack representation of a resolved user. AuthID is
// tagged out of model.User's JSON, so it is carried explicitly.
type cachedUser struct {
	ID          string            `msgpack:"id"`
	AuthID      string            `msgpack:"auth_id"`
	Email       string            `msgpack:"email"`
	AccountKind model.AccountKind `msgpack:"account_kind"`
	Role        model.UserRole    `msgpack:"role"`
	CreatedAt   time.Time         `msgpack:"created_at"`
	UpdatedAt   time.Time         `msgpack:"updated_at"`
}

// IdentityKey derives the cache key for a session token. Raw tokens are
// never written to Redis.
func IdentityKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return identityKeyPrefix + hex.EncodeToString(sum[:16])
}

// GetUser returns the user cached for a session token.
// Returns nil on a miss or a corrupted entry.
func (c *Cache) GetUser(ctx context.Context, token string) (*model.User, error) {
	data, err := c.client.Get(ctx, IdentityKey(token)).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var cached cachedUser
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}

	return &model.User{
		ID:          cached.ID,
		AuthID:      cached.AuthID,
		Email:       cached.Email,
		AccountKind: cached.AccountKind,
		Role:        cached.Role,
		CreatedAt:   cached.CreatedAt,
		UpdatedAt:   cached.UpdatedAt,
	}, nil
}

// SetUser caches the user resolved for a session token and indexes the
// entry by user ID so InvalidateUser can find it.
func (c *Cache) SetUser(ctx context.Context, token string, user *model.User) error {
	data, err := msgpack.Marshal(&cachedUser{
		ID:          user.ID,
		AuthID:      user.AuthID,
		Email:       user.Email,
		AccountKind: user.AccountKind,
		Role:        user.Role,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	key := IdentityKey(token)
	index := identityUserSetPrefix + user.ID

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, IdentityTTL)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, IdentityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}
	return nil
}

// InvalidateUser drops every cached session for userID. Called after the
// account kind or role changes.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	index := identityUserSetPrefix + userID

	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached sessions: %w", err)
	}

	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, index)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cached sessions: %w", err)
	}
	return nil
}
