// Package mempool provides the in-memory pool of validated
// transactions awaiting inclusion in a block.
package mempool

import (
	"time"

	"github.com/google/uuid"

	"github.com/miniroha/miniroha/types"
)

// Entry wraps a validated transaction with mempool bookkeeping: the
// hash it is keyed by, a submission id for tracking, the pool-entry
// time used by the TTL sweep, and an insertion sequence number used as
// the nonce tiebreak.
type Entry struct {
	Hash         string
	SubmissionID string
	Tx           types.Transaction
	CreatedAt    time.Time
	seq          uint64 // insertion order, for stable nonce-tie sort
}

// NewEntry wraps tx under the caller-supplied hash, minting a
// submission id that identifies the entry independent of its content
// hash.
func NewEntry(tx types.Transaction, hash string, seq uint64) *Entry {
	return &Entry{
		Hash:         hash,
		SubmissionID: uuid.NewString(),
		Tx:           tx,
		CreatedAt:    time.Now(),
		seq:          seq,
	}
}
