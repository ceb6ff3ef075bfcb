package proxy

import (
	"sync"
	"time"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

type pendingEntry struct {
	method string
	at     time.Time
}

type evictedEntry struct {
	id     protocol.ID
	method string
	age    time.Duration
}

// pendingTable tracks requests forwarded to the server that have not been
// answered yet. It is the only state shared between the two forwarding
// loops: the client loop records, the server loop resolves.
type pendingTable struct {
	mu      sync.Mutex
	entries map[protocol.ID]pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[protocol.ID]pendingEntry),
	}
}

// record stores the method for an in-flight id. If the id is already
// tracked, the newer request replaces the older one and the previous
// method is returned for logging.
func (t *pendingTable) record(id protocol.ID, method string) (prev string, dup bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[id]; ok {
		prev, dup = old.method, true
	}
	t.entries[id] = pendingEntry{method: method, at: time.Now()}
	return prev, dup
}

// resolve removes and returns the method recorded for id.
func (t *pendingTable) resolve(id protocol.ID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return "", false
	}
	delete(t.entries, id)
	return e.method, true
}

// evict drops every entry recorded before cutoff and reports what was
// dropped. A response arriving after eviction is treated as unmatched.
func (t *pendingTable) evict(cutoff time.Time) []evictedEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []evictedEntry
	for id, e := range t.entries {
		if e.at.Before(cutoff) {
			dropped = append(dropped, evictedEntry{id: id, method: e.method, age: time.Since(e.at)})
			delete(t.entries, id)
		}
	}
	return dropped
}

func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
