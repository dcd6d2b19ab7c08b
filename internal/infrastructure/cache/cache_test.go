package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedis(rdb)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := Dial(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Dial(ctx, "not a url")
	assert.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = Dial(ctx, "redis://"+addr)
	assert.Error(t, err)
}

func TestRedis_GetSetDelete(t *testing.T) {
	mr, s := newRedis(t)
	ctx := context.Background()

	b, err := s.Get(ctx, "catalog:missing")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, s.Set(ctx, "catalog:a", []byte("1"), time.Minute))
	b, err = s.Get(ctx, "catalog:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), b)

	mr.FastForward(2 * time.Minute)
	b, err = s.Get(ctx, "catalog:a")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, s.Set(ctx, "catalog:b", []byte("2"), 0))
	mr.FastForward(time.Hour)
	assert.True(t, mr.Exists("catalog:b"))
	require.NoError(t, s.Delete(ctx, "catalog:b"))
	assert.False(t, mr.Exists("catalog:b"))
}

func TestRedis_DeletePrefix(t *testing.T) {
	mr, s := newRedis(t)
	ctx := context.Background()

	for i := 0; i < 2*scanBatch+7; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("catalog:stats:%d", i), "x"))
	}
	require.NoError(t, mr.Set("health:global:req_total", "3"))

	require.NoError(t, s.DeletePrefix(ctx, "catalog:"))
	assert.Equal(t, []string{"health:global:req_total"}, mr.Keys())

	require.NoError(t, s.DeletePrefix(ctx, "catalog:"))
}

func TestRedis_DeletePrefixExactBatch(t *testing.T) {
	mr, s := newRedis(t)
	ctx := context.Background()

	for i := 0; i < scanBatch; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("catalog:listing:%03d", i), "x"))
		require.NoError(t, mr.Set(fmt.Sprintf("other:%03d", i), "x"))
	}

	require.NoError(t, s.DeletePrefix(ctx, "catalog:listing:"))
	assert.Len(t, mr.Keys(), scanBatch)
	for _, k := range mr.Keys() {
		assert.True(t, strings.HasPrefix(k, "other:"), k)
	}
}

type listingSummary struct {
	Title string           `json:"title"`
	Price decimal.Decimal  `json:"price"`
	Avg   *float64         `json:"avg"`
	Min   *decimal.Decimal `json:"min"`
}

func TestRemember(t *testing.T) {
	mr, s := newRedis(t)
	l := NewLoader(s)
	ctx := context.Background()

	avg := 19500.25
	min := decimal.RequireFromString("12999.99")
	want := &listingSummary{Title: "Corolla", Price: decimal.RequireFromString("18000.50"), Avg: &avg, Min: &min}

	var loads int32
	load := func(ctx context.Context) (*listingSummary, error) {
		atomic.AddInt32(&loads, 1)
		return want, nil
	}

	got, err := Remember(ctx, l, "catalog:listing:1", time.Minute, load)
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.True(t, mr.Exists("catalog:listing:1"))

	got, err = Remember(ctx, l, "catalog:listing:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.Equal(t, "Corolla", got.Title)
	assert.True(t, want.Price.Equal(got.Price))
	require.NotNil(t, got.Avg)
	assert.Equal(t, avg, *got.Avg)
	require.NotNil(t, got.Min)
	assert.True(t, min.Equal(*got.Min))

	l.Invalidate(ctx, "catalog:")
	assert.False(t, mr.Exists("catalog:listing:1"))
	_, err = Remember(ctx, l, "catalog:listing:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestRemember_ErrorsAreNotCached(t *testing.T) {
	mr, s := newRedis(t)
	l := NewLoader(s)
	boom := errors.New("boom")

	_, err := Remember(context.Background(), l, "catalog:x", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("catalog:x"))
}

func TestRemember_DropsUndecodableEntries(t *testing.T) {
	mr, s := newRedis(t)
	l := NewLoader(s)
	require.NoError(t, mr.Set("catalog:x", "\xc1not msgpack"))

	got, err := Remember(context.Background(), l, "catalog:x", time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (brokenStore) Delete(context.Context, string) error       { return errors.New("down") }
func (brokenStore) DeletePrefix(context.Context, string) error { return errors.New("down") }

func TestRemember_DegradesToLoad(t *testing.T) {
	ctx := context.Background()
	load := func(context.Context) (string, error) { return "db", nil }

	got, err := Remember(ctx, NewLoader(brokenStore{}), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "db", got)

	var nilLoader *Loader
	got, err = Remember(ctx, nilLoader, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "db", got)

	assert.NotPanics(t, func() {
		nilLoader.Invalidate(ctx, "catalog:")
		NewLoader(brokenStore{}).Invalidate(ctx, "catalog:")
	})
}

func TestRemember_Concurrent(t *testing.T) {
	_, s := newRedis(t)
	l := NewLoader(s)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Remember(context.Background(), l, "catalog:n", time.Minute, func(context.Context) (int, error) {
				time.Sleep(10 * time.Millisecond)
				return 42, nil
			})
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, map[int]bool{42: true}, seen)
}
