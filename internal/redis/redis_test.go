package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to REDIS_ADDR and skips when it is not set.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("set REDIS_ADDR to run redis tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := NewClientWithBackoff(ctx, Config{Addr: addr}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func uniqueKey(t *testing.T, prefix string) string {
	return fmt.Sprintf("test:%s:%s:%d", prefix, t.Name(), time.Now().UnixNano())
}

func TestNewClientWithBackoff_GivesUpOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := NewClientWithBackoff(ctx, Config{Addr: "127.0.0.1:1"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsBusyGroup(t *testing.T) {
	assert.False(t, isBusyGroup(nil))
	assert.True(t, isBusyGroup(fmt.Errorf("BUSYGROUP Consumer Group name already exists")))
}

func TestMessage_Decode(t *testing.T) {
	var v struct{ Site string }
	require.NoError(t, Message{ID: "1-0", Data: []byte(`{"Site":"sgx-rubber"}`)}.Decode(&v))
	assert.Equal(t, "sgx-rubber", v.Site)
	require.Error(t, Message{ID: "1-0"}.Decode(&v))
}

func TestStreams_RoundTrip(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	stream := uniqueKey(t, "stream")
	t.Cleanup(func() { rdb.Del(ctx, stream) })

	require.NoError(t, EnsureGroup(ctx, rdb, stream, "cg"))
	require.NoError(t, EnsureGroup(ctx, rdb, stream, "cg"), "second create is a no-op")

	_, err := XAddJSON(ctx, rdb, stream, 100, map[string]string{"site": "rubber-india"})
	require.NoError(t, err)

	msgs, err := XReadGroupJSON(ctx, rdb, ReadOptions{Stream: stream, ConsumerGroup: "cg", ConsumerName: "c1", Count: 10, Block: -1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var body map[string]string
	require.NoError(t, msgs[0].Decode(&body))
	assert.Equal(t, "rubber-india", body["site"])

	n, err := Ack(ctx, rdb, stream, "cg", msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err = XReadGroupJSON(ctx, rdb, ReadOptions{Stream: stream, ConsumerGroup: "cg", ConsumerName: "c1", Block: -1})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tail, err := Tail(ctx, rdb, stream, 5)
	require.NoError(t, err)
	require.Len(t, tail, 1)
}

func TestRateCache(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := &RateCache{RDB: rdb, Key: uniqueKey(t, "fx")}
	t.Cleanup(func() { rdb.Del(ctx, c.Key) })

	_, ok, err := c.GetRate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetRate(ctx, decimal.RequireFromString("86.91"), time.Minute))
	rate, ok, err := c.GetRate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "86.91", rate.String())
}
