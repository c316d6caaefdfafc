package loomws

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	conn := &Conn{}

	// Unenrolled connections are never limited.
	assert.True(t, rl.allow(conn))

	rl.addClient(conn)
	assert.True(t, rl.allow(conn), "first message within burst")
	assert.True(t, rl.allow(conn), "second message within burst")
	assert.False(t, rl.allow(conn), "burst exhausted")

	rl.removeClient(conn)
	assert.True(t, rl.allow(conn), "removed connections are unlimited again")
}

func TestRateLimiterOnLimit(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	conn := &Conn{}

	// Default behavior: report the violation as an error.
	require.ErrorIs(t, rl.onLimit(conn), ErrRateLimitExceeded)

	// A hook returning nil tolerates the overage.
	rl.OnLimit = func(c *Conn) error { return nil }
	require.NoError(t, rl.onLimit(conn))

	custom := errors.New("kicked")
	rl.OnLimit = func(c *Conn) error { return custom }
	require.ErrorIs(t, rl.onLimit(conn), custom)
}

func TestRateLimiterIsPerConnection(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	c1, c2 := &Conn{}, &Conn{}
	rl.addClient(c1)
	rl.addClient(c2)

	assert.True(t, rl.allow(c1))
	assert.False(t, rl.allow(c1))
	assert.True(t, rl.allow(c2), "c2 has its own bucket")
}
