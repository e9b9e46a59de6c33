package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistsAndClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	defer rdb.Close()
	ctx := context.Background()

	ok, err := Exists(ctx, rdb, "dedup:inventory:e1")
	require.NoError(t, err)
	assert.False(t, ok)

	won, err := Claim(ctx, rdb, "dedup:inventory:e1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = Claim(ctx, rdb, "dedup:inventory:e1", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	ok, err = Exists(ctx, rdb, "dedup:inventory:e1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, _ = Exists(ctx, rdb, "dedup:inventory:e1")
	assert.False(t, ok)
}
