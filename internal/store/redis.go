package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/codec"
)

const (
	redisUserKeyPrefix = "user:"
	redisIndexKey      = "users"
	redisPageSize      = 100
	redisInsertRetries = 5
)

// RedisStore is an implementation of UserStore backed by Redis.  Each user
// is stored as a JSON document at "user:<id>" and the "users" list keeps
// the ids in insertion order, which is the order List walks.
type RedisStore struct {
	client   *redis.Client
	pageSize int64
}

// NewRedisStore connects to a Redis instance at the provided address.  A
// ping is performed to verify connectivity.
func NewRedisStore(ctx context.Context, addr string, password string, tlsCfg *tls.Config) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password, // empty string means no auth
		DB:       0,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	if tlsCfg != nil {
		opts.TLSConfig = tlsCfg
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, pageSize: redisPageSize}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisUser struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	DateOfBirth  time.Time       `json:"dateOfBirth"`
	PasswordHash string          `json:"passwordHash"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func marshalRecord(r *Record) ([]byte, error) {
	meta, err := codec.EncodeStruct(r.Metadata)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(redisUser{
		ID:           r.ID,
		Email:        r.Email,
		DateOfBirth:  r.DateOfBirth,
		PasswordHash: r.PasswordHash,
		Metadata:     meta,
		CreatedAt:    r.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user %s: %w", r.ID, err)
	}
	return data, nil
}

func unmarshalRecord(data []byte) (*Record, error) {
	var u redisUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user json: %w", err)
	}
	meta, err := codec.DecodeStruct(u.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata of user %s: %w", u.ID, err)
	}
	return &Record{
		ID:           u.ID,
		Email:        u.Email,
		DateOfBirth:  u.DateOfBirth,
		PasswordHash: u.PasswordHash,
		Metadata:     meta,
		CreatedAt:    u.CreatedAt,
	}, nil
}

// Insert writes the user document and appends its id to the index in one
// MULTI/EXEC transaction guarded by WATCH on the document key, so a
// concurrent insert of the same id cannot leave a duplicate index entry.
func (s *RedisStore) Insert(ctx context.Context, rec *Record) (*Record, error) {
	r := prepare(rec)
	data, err := marshalRecord(r)
	if err != nil {
		return nil, err
	}
	key := redisUserKeyPrefix + r.ID

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis exists failed: %w", err)
		}
		if n > 0 {
			return ErrDuplicateID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.RPush(ctx, redisIndexKey, r.ID)
			return nil
		})
		return err
	}

	for i := 0; i < redisInsertRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrDuplicateID) {
				return nil, err
			}
			return nil, fmt.Errorf("redis insert failed: %w", err)
		}
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("redis insert failed: %w", err)
}

// Get retrieves a user by id.  It returns (nil, nil) if the user does not
// exist.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, redisUserKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return unmarshalRecord(data)
}

// List returns a cursor over the index list.  The length of the list is
// captured up front so records inserted during iteration are not visited.
func (s *RedisStore) List(ctx context.Context) (Cursor, error) {
	n, err := s.client.LLen(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis llen failed: %w", err)
	}
	return &redisCursor{store: s, end: n}, nil
}

// redisCursor pages through the index with LRANGE and resolves each page
// with a single MGET.  The next page is requested only once the current
// one has been consumed.
type redisCursor struct {
	store  *RedisStore
	end    int64
	next   int64
	page   []*Record
	cur    *Record
	err    error
	closed bool
}

func (c *redisCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	for len(c.page) == 0 {
		if c.next >= c.end {
			c.cur = nil
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return false
		}
	}
	c.cur, c.page = c.page[0], c.page[1:]
	return true
}

func (c *redisCursor) fetch(ctx context.Context) error {
	stop := c.next + c.store.pageSize - 1
	if stop >= c.end {
		stop = c.end - 1
	}
	ids, err := c.store.client.LRange(ctx, redisIndexKey, c.next, stop).Result()
	if err != nil {
		return fmt.Errorf("redis lrange failed: %w", err)
	}
	c.next = stop + 1
	if len(ids) == 0 {
		// The list shrank underneath us; nothing more to read.
		c.end = c.next
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisUserKeyPrefix + id
	}
	vals, err := c.store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("redis mget failed: %w", err)
	}
	page := make([]*Record, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		r, err := unmarshalRecord([]byte(str))
		if err != nil {
			return err
		}
		page = append(page, r)
	}
	c.page = page
	return nil
}

func (c *redisCursor) Record() *Record { return c.cur }

func (c *redisCursor) Err() error { return c.err }

func (c *redisCursor) Close() error {
	c.closed = true
	c.page = nil
	c.cur = nil
	return nil
}
