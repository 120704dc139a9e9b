package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"points-lottery/internal/model"
)

// incrTermScript bumps a field of the term hash only while the hash
// describes the expected term. Returns -1 when nothing was changed.
var incrTermScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'term_id') ~= ARGV[1] then
	return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[3])
`)

// incrPotScript bumps the pot only while the term hash names the expected term
// and the pot key exists.
var incrPotScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'term_id') ~= ARGV[1] then
	return -1
end
if redis.call('EXISTS', KEYS[2]) == 0 then
	return -1
end
return redis.call('INCRBY', KEYS[2], ARGV[2])
`)

// seedScript writes the term hash and the pot together unless the hash
// already holds a newer term or the same term with more tickets.
// Returns 1 when it wrote and 0 otherwise.
var seedScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'term_id', 'ticket_count')
if cur[1] and cur[2] then
	local id, count = tonumber(cur[1]), tonumber(cur[2])
	local sid, scount = tonumber(ARGV[1]), tonumber(ARGV[3])
	if id > sid or (id == sid and count > scount) then
		return 0
	end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'term_id', ARGV[1], 'start_time', ARGV[2], 'ticket_count', ARGV[3])
redis.call('SET', KEYS[2], ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// RedisStore keeps the cache entries in Redis.
type RedisStore struct {
	Client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis. ttl bounds how long a stale entry can live; zero keeps entries forever.
func NewRedisStore(opt *redis.Options, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: redis.NewClient(opt), ttl: ttl}
}

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.Client.Close()
}

// Term returns the cached snapshot of the open term. A partial hash is a miss.
func (s *RedisStore) Term(ctx context.Context) (model.TermSnapshot, bool, error) {
	vals, err := s.Client.HGetAll(ctx, KeyTerm).Result()
	if err != nil {
		return model.TermSnapshot{}, false, fmt.Errorf("failed to read %s: %w", KeyTerm, err)
	}
	if len(vals) == 0 {
		return model.TermSnapshot{}, false, nil
	}

	var snap model.TermSnapshot
	fields := map[string]*int64{
		"term_id":      &snap.TermID,
		"start_time":   &snap.StartTime,
		"ticket_count": &snap.TicketCount,
	}
	for name, dst := range fields {
		raw, ok := vals[name]
		if !ok {
			// A partial hash is treated as a miss and rebuilt from the database.
			return model.TermSnapshot{}, false, nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.TermSnapshot{}, false, fmt.Errorf("corrupt %s.%s: %w", KeyTerm, name, err)
		}
		*dst = n
	}
	return snap, true, nil
}

// SetTerm replaces the term hash.
func (s *RedisStore) SetTerm(ctx context.Context, snap model.TermSnapshot) error {
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, KeyTerm)
		pipe.HSet(ctx, KeyTerm,
			"term_id", snap.TermID,
			"start_time", snap.StartTime,
			"ticket_count", snap.TicketCount,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, KeyTerm, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyTerm, err)
	}
	return nil
}

// Seed writes the term hash and the pot unless a newer snapshot is cached.
func (s *RedisStore) Seed(ctx context.Context, snap model.TermSnapshot, pot int64) (bool, error) {
	wrote, err := seedScript.Run(ctx, s.Client, []string{KeyTerm, KeyPot},
		snap.TermID, snap.StartTime, snap.TicketCount, pot, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to seed lottery cache: %w", err)
	}
	return wrote == 1, nil
}

// IncrTicketCount adds delta to the cached ticket count while the hash holds termID.
func (s *RedisStore) IncrTicketCount(ctx context.Context, termID, delta int64) error {
	err := incrTermScript.Run(ctx, s.Client, []string{KeyTerm}, termID, "ticket_count", delta).Err()
	if err != nil {
		return fmt.Errorf("failed to increment ticket count: %w", err)
	}
	return nil
}

// Pot returns the cached pot.
func (s *RedisStore) Pot(ctx context.Context) (int64, bool, error) {
	pot, err := s.Client.Get(ctx, KeyPot).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s: %w", KeyPot, err)
	}
	return pot, true, nil
}

// SetPot replaces the cached pot.
func (s *RedisStore) SetPot(ctx context.Context, pot int64) error {
	if err := s.Client.Set(ctx, KeyPot, pot, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", KeyPot, err)
	}
	return nil
}

// IncrPot adds delta to the cached pot while the hash holds termID.
func (s *RedisStore) IncrPot(ctx context.Context, termID, delta int64) error {
	err := incrPotScript.Run(ctx, s.Client, []string{KeyTerm, KeyPot}, termID, delta).Err()
	if err != nil {
		return fmt.Errorf("failed to increment pot: %w", err)
	}
	return nil
}

// Reset drops both keys.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.Client.Del(ctx, KeyTerm, KeyPot).Err(); err != nil {
		return fmt.Errorf("failed to reset lottery cache: %w", err)
	}
	return nil
}
