package loomws

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	reg := NewRegistry()
	server, _ := pipeConns(t, nil, nil)

	reg.Register(server)
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get(server.ID)
	require.True(t, ok)
	assert.Same(t, server, got)

	require.NoError(t, reg.Unregister(server.ID))
	assert.Equal(t, 0, reg.Len())

	_, ok = reg.Get(server.ID)
	assert.False(t, ok)

	require.ErrorIs(t, reg.Unregister(server.ID), ErrConnNotFound)
	require.ErrorIs(t, reg.Unregister(uuid.New()), ErrConnNotFound)
}

func TestRegistryUnregistersOnClose(t *testing.T) {
	reg := NewRegistry()

	var (
		mu           sync.Mutex
		disconnected []uuid.UUID
	)
	reg.OnDisconnect = func(id uuid.UUID, conn *Conn) {
		mu.Lock()
		disconnected = append(disconnected, id)
		mu.Unlock()
	}

	server, client := pipeConns(t, nil, nil)
	go discardAll(client)
	reg.Register(server)

	server.Close()

	assert.Equal(t, 0, reg.Len())
	mu.Lock()
	assert.Equal(t, []uuid.UUID{server.ID}, disconnected)
	mu.Unlock()
}

func TestRegistryBroadcast(t *testing.T) {
	reg := NewRegistry()

	const clients = 3
	received := make(chan string, clients)

	for i := 0; i < clients; i++ {
		server, client := pipeConns(t, nil, nil)
		reg.Register(server)

		go func() {
			text, err := client.ReadText()
			if err != nil {
				received <- "error: " + err.Error()
				return
			}
			received <- text
		}()
	}

	n := reg.Broadcast(context.Background(), OpcodeText, []byte("fanout"))
	assert.Equal(t, clients, n)

	for i := 0; i < clients; i++ {
		assert.Equal(t, "fanout", <-received)
	}
}

func TestRegistryBroadcastEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Broadcast(context.Background(), OpcodeText, []byte("void")))
}

func TestRegistryBroadcastWorkerSizing(t *testing.T) {
	reg := NewRegistry()
	reg.BroadcastWorkers = func(count int) int { return 1 }

	server, client := pipeConns(t, nil, nil)
	reg.Register(server)
	go discardAll(client)

	n := reg.Broadcast(context.Background(), OpcodeText, []byte("solo"))
	assert.Equal(t, 1, n)
}

// discardAll drains inbound messages on conn until it fails.
func discardAll(conn *Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
