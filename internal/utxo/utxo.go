// Package utxo implements the in-memory unspent-output cache the
// connected iterator maintains while streaming the chain (spec.md §4.G,
// §5 "UTXO map sizing"). At mainnet tip this holds on the order of 10^8
// entries, so the map is sharded by the first byte of the txid to keep
// any single lock's critical section small and to spread GC pressure
// across 256 independent Go maps instead of one giant one.
package utxo

import "sync"

// Outpoint is the compact (32-byte txid + 4-byte index) cache key.
type Outpoint [36]byte

// NewOutpoint packs a txid and output index into a cache key.
func NewOutpoint(txid [32]byte, index uint32) Outpoint {
	var o Outpoint
	copy(o[:32], txid[:])
	o[32] = byte(index)
	o[33] = byte(index >> 8)
	o[34] = byte(index >> 16)
	o[35] = byte(index >> 24)
	return o
}

// Entry is spec.md's UtxoEntry.
type Entry struct {
	Value    int64
	PkScript []byte
	Height   uint32
	Coinbase bool
}

const shardCount = 256

type shard struct {
	mu sync.Mutex
	m  map[Outpoint]Entry
}

// Map is the sharded UTXO cache. The zero value is not usable; use New.
// Map is owned exclusively by the iterator's sequencer goroutine
// (spec.md §5): worker lanes never touch it, so the sharding here
// guards against false contention within a single goroutine's map
// operations, not against concurrent writers.
type Map struct {
	shards [shardCount]*shard
}

// New creates an empty UTXO cache.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{m: make(map[Outpoint]Entry)}
	}
	return m
}

func (m *Map) shardFor(o Outpoint) *shard {
	return m.shards[o[0]]
}

// Put adds or overwrites the entry at o.
func (m *Map) Put(o Outpoint, e Entry) {
	s := m.shardFor(o)
	s.mu.Lock()
	s.m[o] = e
	s.mu.Unlock()
}

// Take removes and returns the entry at o, reporting whether it was present.
func (m *Map) Take(o Outpoint) (Entry, bool) {
	s := m.shardFor(o)
	s.mu.Lock()
	e, ok := s.m[o]
	if ok {
		delete(s.m, o)
	}
	s.mu.Unlock()
	return e, ok
}

// Len returns the total number of entries across all shards. Intended
// for tests and diagnostics, not the hot path (it locks every shard).
func (m *Map) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
