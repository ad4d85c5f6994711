// Package redis stores moderation state in Redis for deployments that share
// one state store between restarts or hosts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iamwavecut/ngguard/internal/db"
)

const (
	keyPrefix          = "ngguard:"
	trustIndexKey      = keyPrefix + "trust:index"
	offenseIndexKey    = keyPrefix + "offense:index"
	fingerprintSeqKey  = keyPrefix + "fp:seq"
	maxFingerprintsLen = 10000
)

type redisClient struct {
	rdb *goredis.Client
}

func NewRedisClient(ctx context.Context, url string) (*redisClient, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisClient{rdb: rdb}, nil
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}

func trustKey(chatID, userID int64) string {
	return fmt.Sprintf("%strust:%d:%d", keyPrefix, chatID, userID)
}

func trustMember(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func offenseKey(userID int64) string {
	return fmt.Sprintf("%soffense:%d", keyPrefix, userID)
}

func fingerprintsKey(kind db.FingerprintKind) string {
	return keyPrefix + "fp:" + string(kind)
}

func kvKey(key string) string {
	return keyPrefix + "kv:" + key
}

func (c *redisClient) GetTrustRecord(ctx context.Context, chatID, userID int64) (*db.TrustRecord, error) {
	values, err := c.rdb.HGetAll(ctx, trustKey(chatID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trust record: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	streak, _ := strconv.Atoi(values["streak"])
	updatedMs, _ := strconv.ParseInt(values["last_updated_ms"], 10, 64)
	return &db.TrustRecord{
		ChatID:      chatID,
		UserID:      userID,
		Streak:      streak,
		Trusted:     values["trusted"] == "1",
		LastUpdated: time.UnixMilli(updatedMs),
	}, nil
}

func (c *redisClient) UpsertTrustRecord(ctx context.Context, record *db.TrustRecord) error {
	trusted := "0"
	if record.Trusted {
		trusted = "1"
	}
	updatedMs := record.LastUpdated.UnixMilli()
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, trustKey(record.ChatID, record.UserID),
			"streak", record.Streak,
			"trusted", trusted,
			"last_updated_ms", updatedMs,
		)
		pipe.ZAdd(ctx, trustIndexKey, goredis.Z{Score: float64(updatedMs), Member: trustMember(record.ChatID, record.UserID)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert trust record: %w", err)
	}
	return nil
}

func (c *redisClient) DeleteTrustRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	members, err := c.staleMembers(ctx, trustIndexKey, cutoff)
	if err != nil || len(members) == 0 {
		return 0, err
	}
	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, keyPrefix+"trust:"+member)
	}
	return c.deleteIndexed(ctx, trustIndexKey, members, keys)
}

func (c *redisClient) GetOffenseRecord(ctx context.Context, userID int64) (*db.OffenseRecord, error) {
	values, err := c.rdb.HGetAll(ctx, offenseKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get offense record: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	count, _ := strconv.Atoi(values["count"])
	startedMs, _ := strconv.ParseInt(values["window_started_ms"], 10, 64)
	return &db.OffenseRecord{
		UserID:          userID,
		Count:           count,
		WindowStartedAt: time.UnixMilli(startedMs),
	}, nil
}

func (c *redisClient) UpsertOffenseRecord(ctx context.Context, record *db.OffenseRecord) error {
	startedMs := record.WindowStartedAt.UnixMilli()
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, offenseKey(record.UserID),
			"count", record.Count,
			"window_started_ms", startedMs,
		)
		pipe.ZAdd(ctx, offenseIndexKey, goredis.Z{Score: float64(startedMs), Member: strconv.FormatInt(record.UserID, 10)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert offense record: %w", err)
	}
	return nil
}

func (c *redisClient) DeleteOffenseRecord(ctx context.Context, userID int64) error {
	member := strconv.FormatInt(userID, 10)
	if _, err := c.deleteIndexed(ctx, offenseIndexKey, []string{member}, []string{offenseKey(userID)}); err != nil {
		return fmt.Errorf("failed to delete offense record: %w", err)
	}
	return nil
}

func (c *redisClient) DeleteOffenseRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	members, err := c.staleMembers(ctx, offenseIndexKey, cutoff)
	if err != nil || len(members) == 0 {
		return 0, err
	}
	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, keyPrefix+"offense:"+member)
	}
	return c.deleteIndexed(ctx, offenseIndexKey, members, keys)
}

func (c *redisClient) AddSpamFingerprint(ctx context.Context, fp *db.SpamFingerprint) error {
	id, err := c.rdb.Incr(ctx, fingerprintSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate fingerprint id: %w", err)
	}
	fp.ID = id
	payload, err := json.Marshal(fingerprintPayload{
		ID:        fp.ID,
		Kind:      string(fp.Kind),
		Text:      fp.Text,
		ImageHash: fp.ImageHash,
		ChatID:    fp.ChatID,
		MessageID: fp.MessageID,
		CreatedMs: fp.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	key := fingerprintsKey(fp.Kind)
	_, err = c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, maxFingerprintsLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add spam fingerprint: %w", err)
	}
	return nil
}

func (c *redisClient) GetRecentSpamFingerprints(ctx context.Context, kind db.FingerprintKind, limit int) ([]*db.SpamFingerprint, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := c.rdb.LRange(ctx, fingerprintsKey(kind), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get spam fingerprints: %w", err)
	}
	result := make([]*db.SpamFingerprint, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var p fingerprintPayload
		if err := json.Unmarshal([]byte(raw[i]), &p); err != nil {
			continue
		}
		result = append(result, &db.SpamFingerprint{
			ID:        p.ID,
			Kind:      db.FingerprintKind(p.Kind),
			Text:      p.Text,
			ImageHash: p.ImageHash,
			ChatID:    p.ChatID,
			MessageID: p.MessageID,
			CreatedAt: time.UnixMilli(p.CreatedMs),
		})
	}
	return result, nil
}

func (c *redisClient) TrimSpamFingerprints(ctx context.Context, kind db.FingerprintKind, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	key := fingerprintsKey(kind)
	var lenCmd *goredis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		lenCmd = pipe.LLen(ctx, key)
		if keep == 0 {
			pipe.Del(ctx, key)
			return nil
		}
		pipe.LTrim(ctx, key, 0, int64(keep-1))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to trim spam fingerprints: %w", err)
	}
	if removed := lenCmd.Val() - int64(keep); removed > 0 {
		return removed, nil
	}
	return 0, nil
}

func (c *redisClient) GetKV(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, kvKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

func (c *redisClient) SetKV(ctx context.Context, key string, value string) error {
	if err := c.rdb.Set(ctx, kvKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}

type fingerprintPayload struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	ImageHash string `json:"image_hash,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	MessageID int    `json:"message_id,omitempty"`
	CreatedMs int64  `json:"created_ms"`
}

func (c *redisClient) staleMembers(ctx context.Context, index string, cutoff time.Time) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, index, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", index, err)
	}
	return members, nil
}

func (c *redisClient) deleteIndexed(ctx context.Context, index string, members, keys []string) (int64, error) {
	var deleted *goredis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		zMembers := make([]any, 0, len(members))
		for _, m := range members {
			zMembers = append(zMembers, m)
		}
		pipe.ZRem(ctx, index, zMembers...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", index, err)
	}
	return deleted.Val(), nil
}
