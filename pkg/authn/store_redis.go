package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const (
	redisAuthRequestPrefix = "skyview:authreq:"
	redisSessionPrefix     = "skyview:session:"
)

// redisStateStore persists authorization request state in Redis with a
// native key TTL. Records are CBOR-encoded.
type redisStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStateStore(rdb *redis.Client, ttl time.Duration) StateStore {
	return &redisStateStore{rdb: rdb, ttl: ttl}
}

func (s *redisStateStore) PutAuthRequest(ctx context.Context, data *AuthRequestData) error {
	encoded, err := cbor.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode auth request: %w", err)
	}

	if err := s.rdb.Set(ctx, redisAuthRequestPrefix+data.State, encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("store auth request: %w", err)
	}
	return nil
}

func (s *redisStateStore) GetAuthRequest(ctx context.Context, state string) (*AuthRequestData, error) {
	encoded, err := s.rdb.Get(ctx, redisAuthRequestPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auth request: %w", err)
	}

	var data AuthRequestData
	if err := cbor.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("decode auth request: %w", err)
	}
	return &data, nil
}

func (s *redisStateStore) DeleteAuthRequest(ctx context.Context, state string) error {
	if err := s.rdb.Del(ctx, redisAuthRequestPrefix+state).Err(); err != nil {
		return fmt.Errorf("delete auth request: %w", err)
	}
	return nil
}

// redisSessionStore persists sessions in Redis, one key per subject
// DID. ttl of zero means sessions only go away on logout.
type redisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{rdb: rdb, ttl: ttl}
}

func (s *redisSessionStore) PutSession(ctx context.Context, data *SessionData) error {
	encoded, err := cbor.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := s.rdb.Set(ctx, redisSessionPrefix+data.DID, encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *redisSessionStore) GetSession(ctx context.Context, did string) (*SessionData, error) {
	encoded, err := s.rdb.Get(ctx, redisSessionPrefix+did).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var data SessionData
	if err := cbor.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &data, nil
}

func (s *redisSessionStore) DeleteSession(ctx context.Context, did string) error {
	if err := s.rdb.Del(ctx, redisSessionPrefix+did).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
