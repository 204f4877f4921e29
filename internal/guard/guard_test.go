package guard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-messenger/internal/orders"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	path := filepath.Join(t.TempDir(), "sent-messages.json")
	file, err := NewFileStore(path)
	require.NoError(t, err)

	return New(client, file, zap.NewNop()), mr, path
}

func TestKeysDerivation(t *testing.T) {
	keys := Keys(" A-1 ", orders.TypeNewOrder, "+20 123-456-7890", " سارة ")
	assert.Equal(t, []string{
		"msg:order:newOrder:A-1",
		"msg:phone:newOrder:201234567890",
		"msg:name:newOrder:سارة",
	}, keys)

	assert.Len(t, Keys("A-1", orders.TypeNewOrder, "", ""), 1)
	assert.Empty(t, Keys("", orders.TypeNewOrder, "", "  "))
}

func TestShouldSendThenMark(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	assert.True(t, g.ShouldSend(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))
	require.NoError(t, g.MarkSent(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))
	assert.False(t, g.ShouldSend(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))

	// a different type for the same order is still allowed
	assert.True(t, g.ShouldSend(ctx, "A-1", orders.TypeShipped, "201234567890", "سارة"))
}

func TestAnyKeyHitBlocks(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.MarkSent(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))

	// order-ID churn: new ID, same phone
	assert.False(t, g.ShouldSend(ctx, "B-9", orders.TypeNewOrder, "201234567890", "منى"))
	// new ID and phone, same name
	assert.False(t, g.ShouldSend(ctx, "C-3", orders.TypeNewOrder, "201000000000", "سارة"))
}

func TestSurvivesRestart(t *testing.T) {
	g, _, path := newTestGuard(t)
	ctx := context.Background()
	require.NoError(t, g.MarkSent(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))

	// a fresh process with no Redis still blocks via the file tier
	file, err := NewFileStore(path)
	require.NoError(t, err)
	fresh := New(nil, file, zap.NewNop())
	assert.False(t, fresh.ShouldSend(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))
}

func TestRedisOutageFallsBackToFile(t *testing.T) {
	g, mr, _ := newTestGuard(t)
	ctx := context.Background()
	require.NoError(t, g.MarkSent(ctx, "A-1", orders.TypeNewOrder, "", ""))

	mr.Close()
	assert.False(t, g.ShouldSend(ctx, "A-1", orders.TypeNewOrder, "", ""))
	// marking during the outage still succeeds through the file
	require.NoError(t, g.MarkSent(ctx, "A-2", orders.TypeNewOrder, "", ""))
	assert.False(t, g.ShouldSend(ctx, "A-2", orders.TypeNewOrder, "", ""))
}

func TestRedisHitBlocksWithoutFileEntry(t *testing.T) {
	g, mr, _ := newTestGuard(t)
	ctx := context.Background()

	// key written by another instance, present only in Redis
	mr.Set("msg:order:newOrder:A-7", "1")
	assert.False(t, g.ShouldSend(ctx, "A-7", orders.TypeNewOrder, "", ""))
}

func TestReset(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.MarkSent(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))
	require.NoError(t, g.Reset(ctx))
	assert.True(t, g.ShouldSend(ctx, "A-1", orders.TypeNewOrder, "201234567890", "سارة"))
}

func TestFileStoreAtomicRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "sent.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Add("a", "b"))
	require.NoError(t, s.Add("a")) // no-op rewrite
	assert.Equal(t, 2, s.Len())

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Has("a"))
	assert.True(t, reloaded.Has("b"))
	assert.False(t, reloaded.Has("c"))
}
