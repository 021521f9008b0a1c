package mempool

import (
	"testing"
	"time"

	"github.com/miniroha/miniroha/types"
)

func tx(signer string, nonce uint64) types.Transaction {
	return types.Transaction{Body: types.TxBody{SignerID: signer, Nonce: nonce, ChainID: "c"}}
}

func TestInsertRejectsDuplicateHash(t *testing.T) {
	m := New(10)
	if _, err := m.Insert(tx("alice@root", 1), "h1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := m.Insert(tx("alice@root", 2), "h1"); err == nil {
		t.Fatalf("expected ErrAlreadyExists for duplicate hash")
	}
}

func TestInsertRejectsConflictingNonce(t *testing.T) {
	m := New(10)
	if _, err := m.Insert(tx("alice@root", 1), "h1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := m.Insert(tx("alice@root", 1), "h2"); err == nil {
		t.Fatalf("expected ErrConflict for duplicate (signer, nonce)")
	}
}

func TestTakeForBlockOrdersByNonceThenInsertion(t *testing.T) {
	m := New(10)
	must := func(h string, signer string, nonce uint64) {
		if _, err := m.Insert(tx(signer, nonce), h); err != nil {
			t.Fatalf("Insert %s: %v", h, err)
		}
	}
	must("h3", "bob@root", 3)
	must("h1", "alice@root", 1)
	must("h2", "alice@root", 2)

	txs, err := m.TakeForBlock(0, 0)
	if err != nil {
		t.Fatalf("TakeForBlock: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 txs, got %d", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].Body.Nonce < txs[i-1].Body.Nonce {
			t.Fatalf("expected non-decreasing nonce order, got %v", txs)
		}
	}
}

func TestTakeForBlockDoesNotRemove(t *testing.T) {
	m := New(10)
	m.Insert(tx("alice@root", 1), "h1")
	if _, err := m.TakeForBlock(10, 0); err != nil {
		t.Fatalf("TakeForBlock: %v", err)
	}
	if m.Size() != 1 {
		t.Fatalf("expected TakeForBlock to leave pool untouched, size=%d", m.Size())
	}
}

func TestTakeForBlockRespectsMaxCount(t *testing.T) {
	m := New(10)
	m.Insert(tx("alice@root", 1), "h1")
	m.Insert(tx("alice@root", 2), "h2")
	txs, err := m.TakeForBlock(1, 0)
	if err != nil {
		t.Fatalf("TakeForBlock: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 tx capped by maxCount, got %d", len(txs))
	}
}

func TestRemoveCommittedDropsEntries(t *testing.T) {
	m := New(10)
	m.Insert(tx("alice@root", 1), "h1")
	m.RemoveCommitted([]string{"h1"})
	if m.Size() != 0 {
		t.Fatalf("expected pool empty after RemoveCommitted, size=%d", m.Size())
	}
	// same (signer, nonce) may be resubmitted after removal.
	if _, err := m.Insert(tx("alice@root", 1), "h2"); err != nil {
		t.Fatalf("expected reinsertion to succeed after removal, got %v", err)
	}
}

func TestEvictOlderThanRemovesStaleEntries(t *testing.T) {
	m := New(10)
	entry, err := m.Insert(tx("alice@root", 1), "h1")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	entry.CreatedAt = time.Now().Add(-time.Hour)

	removed := m.EvictOlderThan(time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 entry evicted, got %d", removed)
	}
	if m.Size() != 0 {
		t.Fatalf("expected pool empty after eviction, size=%d", m.Size())
	}
}

func TestCapacityEvictsOldestByNonce(t *testing.T) {
	m := New(2)
	m.Insert(tx("alice@root", 5), "h1")
	m.Insert(tx("bob@root", 1), "h2")
	// pool full at 2; inserting a third evicts the lowest-nonce entry (h2, nonce 1).
	if _, err := m.Insert(tx("carol@root", 9), "h3"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if m.Has("h2") {
		t.Fatalf("expected lowest-nonce entry evicted to make room")
	}
	if !m.Has("h1") || !m.Has("h3") {
		t.Fatalf("expected h1 and h3 to remain")
	}
}
