package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseIdempotencyStore(t *testing.T, store IdempotencyStore) {
	ctx := context.Background()

	stored, reserved, err := store.Begin(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Nil(t, stored)

	stored, reserved, err = store.Begin(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, reserved, "in-flight key must not be reserved twice")
	assert.Nil(t, stored)

	resp := StoredResponse{StatusCode: 201, Body: json.RawMessage(`{"receiptId":"r1"}`)}
	require.NoError(t, store.Complete(ctx, "k1", resp))

	stored, reserved, err = store.Begin(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, reserved)
	require.NotNil(t, stored)
	assert.Equal(t, 201, stored.StatusCode)
	assert.JSONEq(t, `{"receiptId":"r1"}`, string(stored.Body))

	_, reserved, err = store.Begin(ctx, "k2")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, store.Abort(ctx, "k2"))
	_, reserved, err = store.Begin(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, reserved, "aborted key can be retried")
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr, rc := newLockRedis(t)
	exerciseIdempotencyStore(t, NewRedisIdempotencyStore(rc, time.Hour))
	assert.True(t, mr.Exists("t_idempotency:k1"))

	mr.FastForward(2 * time.Hour)
	_, reserved, err := NewRedisIdempotencyStore(rc, time.Hour).Begin(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestInMemoryIdempotencyStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()
	exerciseIdempotencyStore(t, store)

	now := time.Now()
	store.mu.Lock()
	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	store.mu.Unlock()

	store.cleanup()
	store.mu.Lock()
	assert.Empty(t, store.entries)
	store.mu.Unlock()

	_, reserved, err := store.Begin(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, reserved)
	require.NoError(t, store.Close())
}
