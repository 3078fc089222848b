package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// inflightRegistry tracks the cancel functions of running tool calls by
// their JSON-RPC id. Ids are not required to be unique, so one key can hold
// several calls.
type inflightRegistry struct {
	mu    sync.Mutex
	seq   uint64
	calls map[string]map[uint64]context.CancelFunc
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{calls: make(map[string]map[uint64]context.CancelFunc)}
}

// add registers cancel under id and returns a func that removes it again.
// Calls with a null id are not tracked and cannot be cancelled.
func (r *inflightRegistry) add(id json.RawMessage, cancel context.CancelFunc) (release func()) {
	key, ok := idKey(id)
	if !ok {
		return func() {}
	}

	r.mu.Lock()
	r.seq++
	n := r.seq
	if r.calls[key] == nil {
		r.calls[key] = make(map[uint64]context.CancelFunc)
	}
	r.calls[key][n] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.calls[key], n)
		if len(r.calls[key]) == 0 {
			delete(r.calls, key)
		}
	}
}

// cancel aborts every live call registered under id and returns how many
// were found. Unknown and completed ids are a no-op.
func (r *inflightRegistry) cancel(id json.RawMessage) int {
	key, ok := idKey(id)
	if !ok {
		return 0
	}

	r.mu.Lock()
	calls := r.calls[key]
	delete(r.calls, key)
	r.mu.Unlock()

	for _, cancel := range calls {
		cancel()
	}
	return len(calls)
}

// len returns the number of tracked calls.
func (r *inflightRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, calls := range r.calls {
		n += len(calls)
	}
	return n
}

// idKey returns the canonical form of a JSON-RPC id. 1 and "1" are distinct.
func idKey(id json.RawMessage) (string, bool) {
	if len(id) == 0 {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return "", false
	}
	if buf.String() == "null" {
		return "", false
	}
	return buf.String(), true
}
