package transport

import (
	"sync"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

// connIndex maps a connection id to its live transport.Connection, letting
// the delivery layer resolve an Outbox and the cleaner probe liveness
// without either package depending on transport directly.
type connIndex struct {
	mu    sync.RWMutex
	byID  map[domain.ConnID]*Connection
}

func newConnIndex() *connIndex {
	return &connIndex{byID: make(map[domain.ConnID]*Connection)}
}

func (idx *connIndex) put(c *Connection) {
	idx.mu.Lock()
	idx.byID[c.ID] = c
	idx.mu.Unlock()
}

func (idx *connIndex) remove(id domain.ConnID) {
	idx.mu.Lock()
	delete(idx.byID, id)
	idx.mu.Unlock()
}

func (idx *connIndex) get(id domain.ConnID) (*Connection, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.byID[id]
	return c, ok
}
