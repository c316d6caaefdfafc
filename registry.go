package loomws

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry tracks live connections by their ID. Connections are fully
// isolated from each other; the registry only exists so owners can look
// them up and fan messages out.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn

	// OnDisconnect runs after a connection is unregistered.
	OnDisconnect func(id uuid.UUID, conn *Conn)

	// BroadcastWorkers sizes the worker pool used by Broadcast given the
	// current connection count. If nil, (count / 10) + 2 is used.
	BroadcastWorkers func(count int) int
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]*Conn),
	}
}

// Register adds conn and arranges for it to unregister itself on close.
func (reg *Registry) Register(conn *Conn) {
	reg.mu.Lock()
	reg.conns[conn.ID] = conn
	reg.mu.Unlock()

	conn.onClose = append(conn.onClose, func(c *Conn) {
		_ = reg.Unregister(c.ID)
	})
}

func (reg *Registry) Unregister(id uuid.UUID) error {
	reg.mu.Lock()

	conn, ok := reg.conns[id]
	if !ok {
		reg.mu.Unlock()
		return ErrConnNotFound
	}
	delete(reg.conns, id)

	reg.mu.Unlock()

	if reg.OnDisconnect != nil {
		reg.OnDisconnect(id, conn)
	}

	return nil
}

func (reg *Registry) Get(id uuid.UUID) (*Conn, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conn, ok := reg.conns[id]
	return conn, ok
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.conns)
}

func (reg *Registry) snapshot() []*Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conns := make([]*Conn, 0, len(reg.conns))
	for _, c := range reg.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends one message to every registered connection through a
// bounded worker pool and returns the number of successful sends. Failed
// connections are skipped, not retried; their own read loops tear them
// down.
func (reg *Registry) Broadcast(ctx context.Context, opcode uint8, data []byte) int {
	conns := reg.snapshot()
	if len(conns) == 0 {
		return 0
	}

	workers := (len(conns) / 10) + 2
	if reg.BroadcastWorkers != nil {
		workers = reg.BroadcastWorkers(len(conns))
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(conns) {
		workers = len(conns)
	}

	var (
		wg sync.WaitGroup
		n  atomic.Int64
	)
	ch := make(chan *Conn)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range ch {
				if ctx.Err() != nil {
					return
				}
				if err := conn.WriteMessage(opcode, data); err == nil {
					n.Add(1)
				}
			}
		}()
	}

	for _, conn := range conns {
		select {
		case <-ctx.Done():
		case ch <- conn:
			continue
		}
		break
	}
	close(ch)
	wg.Wait()

	return int(n.Load())
}
