package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miniroha/miniroha/types"
)

// DefaultMaxSize is the default pool capacity.
const DefaultMaxSize = 10000

var (
	// ErrAlreadyExists is returned when a transaction with an identical
	// hash already resides in the pool.
	ErrAlreadyExists = errors.New("mempool: transaction already exists")
	// ErrConflict is returned when a pending entry already holds the
	// same (signer_id, nonce) pair.
	ErrConflict = errors.New("mempool: conflicting (signer_id, nonce) already pending")
)

// Mempool is an in-memory pool of validated transactions keyed by
// transaction hash, ordered for block production by ascending nonce
// with insertion-order tiebreak.
type Mempool struct {
	mu sync.Mutex

	maxSize int
	nextSeq uint64

	entries       map[string]*Entry            // hash -> entry
	bySignerNonce map[string]map[uint64]string // signer_id -> nonce -> hash
}

// New returns an empty pool with the given capacity. A maxSize <= 0
// falls back to DefaultMaxSize.
func New(maxSize int) *Mempool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Mempool{
		maxSize:       maxSize,
		entries:       make(map[string]*Entry),
		bySignerNonce: make(map[string]map[uint64]string),
	}
}

// Insert admits a validated transaction (already hashed by the
// caller) into the pool. At capacity, the oldest entry in nonce order
// is evicted first to make room.
func (m *Mempool) Insert(tx types.Transaction, hash string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[hash]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, hash)
	}
	if nonces, ok := m.bySignerNonce[tx.Body.SignerID]; ok {
		if existingHash, taken := nonces[tx.Body.Nonce]; taken {
			return nil, fmt.Errorf("%w: signer %q nonce %d already pending as %s",
				ErrConflict, tx.Body.SignerID, tx.Body.Nonce, existingHash)
		}
	}

	if len(m.entries) >= m.maxSize {
		m.evictOldestLocked()
	}

	entry := NewEntry(tx, hash, m.nextSeq)
	m.nextSeq++
	m.entries[hash] = entry
	if m.bySignerNonce[tx.Body.SignerID] == nil {
		m.bySignerNonce[tx.Body.SignerID] = make(map[uint64]string)
	}
	m.bySignerNonce[tx.Body.SignerID][tx.Body.Nonce] = hash
	return entry, nil
}

// evictOldestLocked drops the front of the nonce-sorted sequence.
// Caller must hold m.mu.
func (m *Mempool) evictOldestLocked() {
	ordered := m.orderedLocked()
	if len(ordered) == 0 {
		return
	}
	m.removeLocked(ordered[0].Hash)
}

func (m *Mempool) removeLocked(hash string) {
	entry, ok := m.entries[hash]
	if !ok {
		return
	}
	delete(m.entries, hash)
	if nonces := m.bySignerNonce[entry.Tx.Body.SignerID]; nonces != nil {
		delete(nonces, entry.Tx.Body.Nonce)
		if len(nonces) == 0 {
			delete(m.bySignerNonce, entry.Tx.Body.SignerID)
		}
	}
}

// orderedLocked returns entries sorted by ascending nonce, ties broken
// by insertion order. Caller must hold m.mu.
func (m *Mempool) orderedLocked() []*Entry {
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tx.Body.Nonce != out[j].Tx.Body.Nonce {
			return out[i].Tx.Body.Nonce < out[j].Tx.Body.Nonce
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// TakeForBlock returns a prefix of the ordered sequence bounded by
// both maxCount and maxBytes, without removing anything from the
// pool. Size is measured as the canonical JSON encoding length of the
// transaction.
func (m *Mempool) TakeForBlock(maxCount int, maxBytes int64) ([]types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.orderedLocked()
	var out []types.Transaction
	var total int64
	for _, entry := range ordered {
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
		raw, err := types.Canonical(entry.Tx)
		if err != nil {
			return nil, fmt.Errorf("mempool: canonicalize %s: %w", entry.Hash, err)
		}
		size := int64(len(raw))
		if maxBytes > 0 && total+size > maxBytes {
			break
		}
		total += size
		out = append(out, entry.Tx)
	}
	return out, nil
}

// RemoveCommitted drops entries by hash after their containing block
// has been durably applied.
func (m *Mempool) RemoveCommitted(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		m.removeLocked(h)
	}
}

// EvictOlderThan removes entries whose CreatedAt predates now-age,
// returning the number removed.
func (m *Mempool) EvictOlderThan(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var stale []string
	for hash, entry := range m.entries {
		if entry.CreatedAt.Before(cutoff) {
			stale = append(stale, hash)
		}
	}
	for _, h := range stale {
		m.removeLocked(h)
	}
	return len(stale)
}

// Entries returns every pooled entry in block-production order, for
// the GET /mempool query endpoint.
func (m *Mempool) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderedLocked()
}

// Size returns the current number of pooled transactions.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Has reports whether a transaction hash is currently pooled.
func (m *Mempool) Has(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[hash]
	return ok
}
