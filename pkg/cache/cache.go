package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrWrongType = errors.New("cache: operation against a key holding the wrong kind of value")
)

// Service is the key/value and set surface used by the order log.
type Service interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	// SAdd adds members to the set at key and resets its expiry when ttl > 0.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SMembers returns the set's members sorted; a missing key is an empty set.
	SMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

// MGetTyped retrieves multiple keys and unmarshals each JSON value into T.
// Keys that are missing or hold invalid JSON are left out of the result.
func MGetTyped[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	if len(keys) == 0 {
		return make(map[string]T), nil
	}

	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(raw))
	for key, v := range raw {
		var obj T
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			continue
		}
		out[key] = obj
	}
	return out, nil
}

// encode turns a value into its stored form: strings and bytes verbatim, everything else as JSON.
func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

// decode is the inverse of encode.
func decode(data []byte, dest any) error {
	if s, ok := dest.(*string); ok {
		*s = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}
