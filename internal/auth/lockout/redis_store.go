package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/victorgomez09/sentinel/internal/auth/models"
)

const attemptKeyPrefix = "sentinel:attempts:"

// Push, refresh the TTL and, once the list reaches the threshold, read and
// delete it in the same step.
var recordScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
local n = redis.call('LLEN', KEYS[1])
local threshold = tonumber(ARGV[2])
if threshold > 0 and n >= threshold then
  local items = redis.call('LRANGE', KEYS[1], 0, -1)
  redis.call('DEL', KEYS[1])
  return {1, items}
end
return {0, redis.call('LRANGE', KEYS[1], 0, -1)}
`)

// Trim the head of the list only while it still holds the items the caller
// read as expired. A list deleted by a trip and started again by a newer
// attempt no longer matches, so fresh attempts survive.
var trimScript = redis.NewScript(`
local n = 0
for i = 1, #ARGV do
  if redis.call('LINDEX', KEYS[1], i - 1) ~= ARGV[i] then
    break
  end
  n = i
end
if n > 0 then
  redis.call('LTRIM', KEYS[1], n, -1)
end
return n
`)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisAttemptStore shares attempt records between engine instances. Each
// key is a redis list of JSON encoded attempts in arrival order.
type RedisAttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ AttemptStore = (*RedisAttemptStore)(nil)

// NewRedisAttemptStore expires idle records after ttl.
func NewRedisAttemptStore(client *redis.Client, ttl time.Duration) *RedisAttemptStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisAttemptStore{client: client, ttl: ttl}
}

func (s *RedisAttemptStore) Record(ctx context.Context, key string, attempt models.FailedAttempt, threshold int) (models.AttemptRecord, bool, error) {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return models.AttemptRecord{}, false, err
	}

	res, err := recordScript.Run(ctx, s.client, []string{attemptKeyPrefix + key},
		string(payload), threshold, s.ttl.Milliseconds()).Slice()
	if err != nil {
		return models.AttemptRecord{}, false, fmt.Errorf("record attempt: %w", err)
	}
	if len(res) != 2 {
		return models.AttemptRecord{}, false, fmt.Errorf("record attempt: unexpected reply of %d elements", len(res))
	}

	flag, _ := res[0].(int64)
	items, _ := res[1].([]interface{})
	raw := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			raw = append(raw, str)
		}
	}

	rec, err := decodeRecord(key, raw)
	if err != nil {
		return models.AttemptRecord{}, false, err
	}
	return rec, flag == 1, nil
}

func (s *RedisAttemptStore) Get(ctx context.Context, key string) (models.AttemptRecord, bool, error) {
	raw, err := s.client.LRange(ctx, attemptKeyPrefix+key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AttemptRecord{}, false, nil
		}
		return models.AttemptRecord{}, false, err
	}
	if len(raw) == 0 {
		return models.AttemptRecord{}, false, nil
	}
	rec, err := decodeRecord(key, raw)
	return rec, err == nil, err
}

func (s *RedisAttemptStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, attemptKeyPrefix+key).Err()
}

// Prune trims attempts older than cutoff from the head of each list. The
// expired prefix is read first and removed by trimScript only if the list
// still starts with it.
func (s *RedisAttemptStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	iter := s.client.Scan(ctx, 0, attemptKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		raw, err := s.client.LRange(ctx, redisKey, 0, -1).Result()
		if err != nil {
			return pruned, err
		}

		old := 0
		for _, item := range raw {
			var a models.FailedAttempt
			if err := json.Unmarshal([]byte(item), &a); err != nil || !a.At.Before(cutoff) {
				break
			}
			old++
		}
		if old == 0 {
			continue
		}
		n, err := s.trimHead(ctx, redisKey, raw[:old])
		if err != nil {
			return pruned, err
		}
		pruned += n
	}
	return pruned, iter.Err()
}

// trimHead removes items from the head of redisKey if they are still there
// and returns how many were removed.
func (s *RedisAttemptStore) trimHead(ctx context.Context, redisKey string, items []string) (int, error) {
	args := make([]interface{}, len(items))
	for i, item := range items {
		args[i] = item
	}
	n, err := trimScript.Run(ctx, s.client, []string{redisKey}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("trim attempts: %w", err)
	}
	return n, nil
}

func (s *RedisAttemptStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, attemptKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func decodeRecord(key string, raw []string) (models.AttemptRecord, error) {
	rec := models.AttemptRecord{
		Key:      key,
		IP:       ipOf(key),
		Attempts: make([]models.FailedAttempt, 0, len(raw)),
	}
	for _, item := range raw {
		var a models.FailedAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return models.AttemptRecord{}, fmt.Errorf("decode attempt for %s: %w", key, err)
		}
		rec.Attempts = append(rec.Attempts, a)
	}
	return rec, nil
}
