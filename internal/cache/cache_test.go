package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgdrive/qdrop/internal/config"
)

type entry struct {
	Name string
	Data []byte
}

func exerciseCache(t *testing.T, c Cacher) {
	value := entry{Name: "qr.png", Data: []byte{0x89, 'P', 'N', 'G'}}
	var result entry

	require.NoError(t, c.Set("key", value, time.Minute))
	require.NoError(t, c.Get("key", &result))
	assert.Equal(t, value, result)

	assert.Error(t, c.Get("missing", &result))
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache(1<<20))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("QDROP_TEST_REDIS")
	if addr == "" {
		t.Skip("QDROP_TEST_REDIS not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisOptions{Addr: addr})
	require.NoError(t, err)
	c := NewRedisCache(ctx, client)
	defer c.Close()
	exerciseCache(t, c)
}

func TestNewCacheDefaultsToMemory(t *testing.T) {
	c, err := NewCache(context.Background(), &config.CacheConfig{MaxSize: 1 << 20})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
}

func TestNewCacheUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := NewCache(ctx, &config.CacheConfig{RedisAddr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "ping redis 127.0.0.1:1")
}

func TestFetch(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	calls := 0
	render := func() ([]byte, error) {
		calls++
		return []byte("png"), nil
	}

	for range 3 {
		got, err := Fetch(c, KeyQR("http://h/s/abc"), time.Minute, render)
		require.NoError(t, err)
		assert.Equal(t, []byte("png"), got)
	}
	assert.Equal(t, 1, calls)

	_, err := Fetch(c, KeyQR("http://h/s/other"), time.Minute, func() ([]byte, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
}

func TestFetchSkipsShortLivedValues(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	calls := 0
	render := func() (string, error) {
		calls++
		return "v", nil
	}
	for range 2 {
		_, err := Fetch(c, "k", 500*time.Millisecond, render)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "qr:http://h/s/abc", KeyQR("http://h/s/abc"))
	assert.Equal(t, "a:1:true", Key("a", 1, true))
}
