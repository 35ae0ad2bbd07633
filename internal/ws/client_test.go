package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEnqueueDropsOldestWhenFull(t *testing.T) {
	c := NewClient(ConnInfo{ConnID: "c1", UserID: 1}, nil, ClientConfig{SendBuffer: 2})

	ok, displaced := c.Enqueue([]byte("1"))
	assert.True(t, ok)
	assert.Zero(t, displaced)
	c.Enqueue([]byte("2"))

	ok, displaced = c.Enqueue([]byte("3"))
	assert.True(t, ok)
	assert.Equal(t, 1, displaced)

	assert.Equal(t, "2", string(<-c.Outbound()))
	assert.Equal(t, "3", string(<-c.Outbound()))
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient(ConnInfo{ConnID: "c1", UserID: 1}, nil, ClientConfig{SendBuffer: 1})

	c.Close()
	require.NotPanics(t, c.Close)
	assert.True(t, c.IsClosed())

	ok, _ := c.Enqueue([]byte("late"))
	assert.False(t, ok)

	_, open := <-c.Outbound()
	assert.False(t, open)
}

func TestClientDefaultsBuffer(t *testing.T) {
	c := NewClient(ConnInfo{ConnID: "c1", UserID: 1}, nil, ClientConfig{})
	assert.Equal(t, DefaultClientConfig().SendBuffer, cap(c.send))
}
