package relay

import (
	"context"
	"sort"
	"strings"
	"time"

	cm "github.com/mosaicnetworks/walkie/src/common"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to the Redis keys of every topic.
const DefaultRedisPrefix = "walkie:relay:"

// RedisStore is a Store backed by Redis. Every topic is a hash mapping record
// keys to JSON-encoded records.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore connects to the Redis server at addr and checks that it
// answers.
func NewRedisStore(addr, password string, db int, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{
		client:  client,
		prefix:  DefaultRedisPrefix,
		timeout: timeout,
	}, nil
}

// SetPrefix changes the prefix of the Redis keys. Tests use it to isolate
// their data.
func (s *RedisStore) SetPrefix(prefix string) {
	s.prefix = prefix
}

// Put implements the Store interface.
func (s *RedisStore) Put(topic string, rec Record) error {
	val, err := cm.EncodeJSON(rec)
	if err != nil {
		return err
	}

	ctx, cancel := s.context()
	defer cancel()

	return s.client.HSet(ctx, s.prefix+topic, rec.Key, val).Err()
}

// Delete implements the Store interface.
func (s *RedisStore) Delete(topic string, key string) (Record, bool, error) {
	var rec Record

	ctx, cancel := s.context()
	defer cancel()

	val, err := s.client.HGet(ctx, s.prefix+topic, key).Bytes()
	if err == redis.Nil {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}

	if err := cm.DecodeJSON(val, &rec); err != nil {
		return rec, false, err
	}

	n, err := s.client.HDel(ctx, s.prefix+topic, key).Result()
	if err != nil {
		return rec, false, err
	}

	return rec, n > 0, nil
}

// List implements the Store interface.
func (s *RedisStore) List(topic string) ([]Record, error) {
	ctx, cancel := s.context()
	defer cancel()

	vals, err := s.client.HGetAll(ctx, s.prefix+topic).Result()
	if err != nil {
		return nil, err
	}

	res := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := cm.DecodeJSON([]byte(v), &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })

	return res, nil
}

// Topics implements the Store interface.
func (s *RedisStore) Topics() (map[string]int, error) {
	ctx, cancel := s.context()
	defer cancel()

	res := make(map[string]int)

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.HLen(ctx, iter.Val()).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			res[strings.TrimPrefix(iter.Val(), s.prefix)] = int(n)
		}
	}

	return res, iter.Err()
}

// Close implements the Store interface.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
