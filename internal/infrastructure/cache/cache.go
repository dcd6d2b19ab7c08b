package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Store caches encoded query results.
type Store interface {
	// Get returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes all keys starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Loader reads through a Store and coalesces concurrent loads of one key.
// A nil Loader or one without a Store always loads.
type Loader struct {
	Store Store
	group singleflight.Group
}

func NewLoader(s Store) *Loader {
	return &Loader{Store: s}
}

// Invalidate drops every key under prefix. Failures are logged, not returned:
// entries expire on their own.
func (l *Loader) Invalidate(ctx context.Context, prefix string) {
	if l == nil || l.Store == nil {
		return
	}
	if err := l.Store.DeletePrefix(ctx, prefix); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("cache: invalidate failed")
	}
}

// Remember returns the cached value for key or stores the result of load.
// Cache errors degrade to calling load.
func Remember[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if l == nil || l.Store == nil {
		return load(ctx)
	}
	b, err := l.Store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: get failed")
	} else if b != nil {
		var v T
		if err := Decode(b, &v); err == nil {
			return v, nil
		}
		log.Warn().Err(err).Str("key", key).Msg("cache: dropping undecodable entry")
	}

	res, err, _ := l.group.Do(key, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if b, err := Encode(v); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: encode failed")
		} else if err := l.Store.Set(ctx, key, b, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: set failed")
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Encode serializes v with msgpack using json field names.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
