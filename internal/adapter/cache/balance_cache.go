package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/fundledger-backend/internal/domain"
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultKeyPrefix = "fundledger:balance:"

	// versionTTL bounds how long an idle user's version key lives; it is refreshed on every invalidation
	versionTTL = 24 * time.Hour
)

// setIfVersionScript stores KEYS[1] only while KEYS[2] still holds the reader's version.
// A missing version key reads as 0.
const setIfVersionScript = `
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`

// invalidateScript advances each user's version and drops their snapshot.
// KEYS holds snapshot and version keys in pairs.
const invalidateScript = `
for i = 1, #KEYS, 2 do
	redis.call('INCR', KEYS[i + 1])
	redis.call('PEXPIRE', KEYS[i + 1], ARGV[1])
	redis.call('DEL', KEYS[i])
end
return #KEYS / 2
`

// balanceRecord is the JSON form of a cached snapshot; amounts keep two fraction digits
type balanceRecord struct {
	UserID  uuid.UUID `json:"user_id"`
	Reserve string    `json:"reserve"`
	Liquid  string    `json:"liquid"`
}

var _ domain.BalanceCache = (*BalanceCache)(nil)

// BalanceCache implements domain.BalanceCache on Redis
// Entries expire after TTL; the funds engine invalidates them on every commit.
// Snapshot writes and invalidations run as Lua scripts so each one is atomic against the other.
type BalanceCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewBalanceCache creates a new Redis-backed balance cache
// A non-positive ttl selects DefaultTTL.
func NewBalanceCache(client redis.Cmdable, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BalanceCache{
		client: client,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
	}
}

// Connect opens a Redis client and verifies it answers PING
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *BalanceCache) key(userID uuid.UUID) string {
	return c.prefix + userID.String()
}

func (c *BalanceCache) versionKey(userID uuid.UUID) string {
	return c.prefix + "version:" + userID.String()
}

// Get returns the cached snapshot of a user; the bool is false on a miss
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (*domain.BalanceSnapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached balances: %w", err)
	}

	var record balanceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached balances: %w", err)
	}
	reserve, err := decimal.NewFromString(record.Reserve)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cached reserve balance: %w", err)
	}
	liquid, err := decimal.NewFromString(record.Liquid)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cached liquid balance: %w", err)
	}

	return &domain.BalanceSnapshot{
		UserID:         record.UserID,
		ReserveBalance: domain.Quantize(reserve),
		LiquidBalance:  domain.Quantize(liquid),
	}, true, nil
}

// Version returns the user's cache version; a user never invalidated is at version 0
func (c *BalanceCache) Version(ctx context.Context, userID uuid.UUID) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance cache version: %w", err)
	}
	return version, nil
}

// Set stores a snapshot until TTL elapses, unless the user's version moved past version
func (c *BalanceCache) Set(ctx context.Context, snapshot *domain.BalanceSnapshot, version int64) (bool, error) {
	data, err := json.Marshal(balanceRecord{
		UserID:  snapshot.UserID,
		Reserve: domain.FormatAmount(snapshot.ReserveBalance),
		Liquid:  domain.FormatAmount(snapshot.LiquidBalance),
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode balances: %w", err)
	}

	keys := []string{c.key(snapshot.UserID), c.versionKey(snapshot.UserID)}
	stored, err := c.client.Eval(ctx, setIfVersionScript, keys, version, string(data), c.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to cache balances: %w", err)
	}
	return stored == 1, nil
}

// Invalidate advances the versions of the given users and drops their cached snapshots
func (c *BalanceCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, 2*len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, c.key(id), c.versionKey(id))
	}
	if err := c.client.Eval(ctx, invalidateScript, keys, versionTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balances: %w", err)
	}
	return nil
}
