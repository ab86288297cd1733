package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceTTL is the inactivity ceiling: entries not refreshed within it are
// eligible for eviction, covering crashed or abandoned connections the
// coordinator failed to clean up.
const PresenceTTL = time.Hour

type PresenceMember struct {
	UserID   uint64          `json:"userId"`
	Username string          `json:"username,omitempty"`
	Cursor   json.RawMessage `json:"cursor,omitempty"`
}

// PresenceCache is the per-document participant registry with cursor state.
type PresenceCache interface {
	// Join registers the user and returns the current participant list,
	// used to seed the new joiner's UI state.
	Join(ctx context.Context, docID string, userID uint64, username string) ([]PresenceMember, error)

	// Touch refreshes the member's expiry on activity.
	Touch(ctx context.Context, docID string, userID uint64) error

	// UpdateCursor is last-write-wins per user; cursor state is superseded
	// wholesale by each new report, never transformed.
	UpdateCursor(ctx context.Context, docID string, userID uint64, cursor json.RawMessage) error

	// Leave removes the entry. Idempotent: leaving twice, or without a prior
	// join, is a no-op.
	Leave(ctx context.Context, docID string, userID uint64) error

	// AliveMembers sweeps expired entries and returns the remaining
	// participants with their cursors.
	AliveMembers(ctx context.Context, docID string) ([]PresenceMember, error)
}

// Redis-backed registry. Room membership is a ZSET scored by logical expiry
// (unix seconds), so expiry is a range query rather than per-member TTL keys.
type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) Join(ctx context.Context, docID string, userID uint64, username string) ([]PresenceMember, error) {
	expireAt := time.Now().Add(PresenceTTL).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: memberField(userID)})
	tx.HSet(ctx, namesKey(docID), memberField(userID), username)
	if _, err := tx.Exec(ctx); err != nil {
		return nil, err
	}
	return p.AliveMembers(ctx, docID)
}

func (p *redisPresence) Touch(ctx context.Context, docID string, userID uint64) error {
	expireAt := time.Now().Add(PresenceTTL).Unix()
	// XX: refresh only; a touch must not resurrect a member who left.
	return p.rdb.ZAddXX(ctx, roomKey(docID), redis.Z{
		Score:  float64(expireAt),
		Member: memberField(userID),
	}).Err()
}

func (p *redisPresence) UpdateCursor(ctx context.Context, docID string, userID uint64, cursor json.RawMessage) error {
	if err := p.rdb.Set(ctx, cursorKey(docID, userID), []byte(cursor), PresenceTTL).Err(); err != nil {
		return err
	}
	return p.Touch(ctx, docID, userID)
}

func (p *redisPresence) Leave(ctx context.Context, docID string, userID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), memberField(userID))
	tx.HDel(ctx, namesKey(docID), memberField(userID))
	tx.Del(ctx, cursorKey(docID, userID))
	_, err := tx.Exec(ctx)
	return err
}

// sweepScript drops expired members and their name entries in one round trip.
var sweepScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) AliveMembers(ctx context.Context, docID string) ([]PresenceMember, error) {
	now := time.Now().Unix()
	if _, err := sweepScript.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	members := make([]PresenceMember, 0, len(aliveIDs))
	pipe := p.rdb.Pipeline()
	cursorCmds := make([]*redis.StringCmd, 0, len(aliveIDs))
	for i, raw := range aliveIDs {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, PresenceMember{UserID: uid, Username: name})
		cursorCmds = append(cursorCmds, pipe.Get(ctx, cursorKey(docID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, cmd := range cursorCmds {
		if b, err := cmd.Bytes(); err == nil {
			members[i].Cursor = json.RawMessage(b)
		}
	}
	return members, nil
}
