package testpipeline

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbradb/umbra/internal/config"
	"github.com/umbradb/umbra/internal/logger"
	"github.com/umbradb/umbra/internal/server"
	"github.com/umbradb/umbra/internal/store"
)

// startServer boots a full server on an ephemeral port and returns its address
func startServer(t *testing.T) string {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{ReadBufferSize: 1024},
		GC: config.GCConfig{
			Enabled:         true,
			Interval:        50 * time.Millisecond,
			SamplesPerCheck: 20,
			MatchThreshold:  0.25,
			MaxRounds:       10,
		},
	}
	log := logger.New("error", "console")
	engine := server.NewEngine(store.New(), cfg, log)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go server.NewSession(conn, cfg.Server.ReadBufferSize, log).Serve(engine)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		engine.Shutdown()
	})

	return listener.Addr().String()
}

func newClient(t *testing.T, addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		DisableIdentity: true,
		Protocol:        2,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCommandsEndToEnd(t *testing.T) {
	addr := startServer(t)
	rdb := newClient(t, addr)
	ctx := context.Background()

	pong, err := rdb.Ping(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	echo, err := rdb.Echo(ctx, "hello").Result()
	require.NoError(t, err)
	assert.Equal(t, "hello", echo)

	require.NoError(t, rdb.Set(ctx, "k", "v", 0).Err())
	val, err := rdb.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	_, err = rdb.Get(ctx, "missing").Result()
	assert.Equal(t, redis.Nil, err)

	n, err := rdb.Exists(ctx, "k", "missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rdb.Del(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rdb.IncrBy(ctx, "counter", 41).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)
	n, err = rdb.Incr(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, rdb.Set(ctx, "word", "banana", 0).Err())
	err = rdb.Incr(ctx, "word").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")

	n, err = rdb.RPush(ctx, "list", "b", "c").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = rdb.LPush(ctx, "list", "a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	elems, err := rdb.LRange(ctx, "list", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, elems)
}

func TestExpirationEndToEnd(t *testing.T) {
	addr := startServer(t)
	rdb := newClient(t, addr)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "short", "v", 100*time.Millisecond).Err())

	val, err := rdb.Get(ctx, "short").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	time.Sleep(150 * time.Millisecond)

	_, err = rdb.Get(ctx, "short").Result()
	assert.Equal(t, redis.Nil, err)
	n, err := rdb.Exists(ctx, "short").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestConcurrentIncrEndToEnd(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()

	const clients = 8
	const perClient = 500

	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		go func() {
			defer wg.Done()
			rdb := redis.NewClient(&redis.Options{
				Addr:            addr,
				DisableIdentity: true,
				Protocol:        2,
			})
			defer rdb.Close()

			for j := 0; j < perClient; j++ {
				if err := rdb.Incr(ctx, "shared").Err(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	rdb := newClient(t, addr)
	n, err := rdb.Get(ctx, "shared").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(clients*perClient), n)
}

func TestPipelining(t *testing.T) {
	addr := startServer(t)
	rdb := newClient(t, addr)
	ctx := context.Background()

	count := 1000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		val := fmt.Sprintf("val_%d", i)
		pipe.Set(ctx, key, val, 0)
	}

	getResults := make([]*redis.StringCmd, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		getResults[i] = pipe.Get(ctx, key)
	}

	_, err := pipe.Exec(ctx)
	require.NoError(t, err, "Pipeline execution failed")

	for i := 0; i < count; i++ {
		expected := fmt.Sprintf("val_%d", i)
		val, err := getResults[i].Result()

		assert.NoError(t, err)
		assert.Equal(t, expected, val, "Key %d mismatch", i)
	}
}
