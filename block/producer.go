package block

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/mempool"
	"github.com/miniroha/miniroha/store"
	"github.com/miniroha/miniroha/types"
)

// Reader is the read side of the store the producer needs.
type Reader interface {
	GetLastHeight() (uint64, error)
	GetBlock(height uint64) (*types.Block, error)
}

// Producer builds candidate blocks from the mempool's ordered entries.
type Producer struct {
	store   Reader
	pool    *mempool.Mempool
	maxTx   int
	maxBytes int64
}

// NewProducer returns a Producer bounded by maxTx transactions and
// maxBytes of canonical-encoded transaction payload per block.
func NewProducer(s *store.Store, pool *mempool.Mempool, maxTx int, maxBytes int64) *Producer {
	return &Producer{store: s, pool: pool, maxTx: maxTx, maxBytes: maxBytes}
}

// Produce takes the mempool's ordered prefix (without removing it) and
// builds+signs the next block for proposerID. Transactions are not
// executed here; one that fails is skipped by Applier.Apply. It
// refuses to produce (ErrEmptyMempool) when the mempool offers
// nothing, per §4.6 — callers vote nil at that point.
func (p *Producer) Produce(proposerID string, priv ed25519.PrivateKey) (types.Block, error) {
	lastHeight, err := p.store.GetLastHeight()
	if err != nil {
		return types.Block{}, err
	}

	prevHash := ""
	if lastHeight > 0 {
		lastBlock, err := p.store.GetBlock(lastHeight)
		if err != nil {
			return types.Block{}, err
		}
		if lastBlock == nil {
			return types.Block{}, fmt.Errorf("%w: height %d", ErrMissingPredecessor, lastHeight)
		}
		prevHash, err = HeaderHash(lastBlock.Header)
		if err != nil {
			return types.Block{}, err
		}
	}

	txs, err := p.pool.TakeForBlock(p.maxTx, p.maxBytes)
	if err != nil {
		return types.Block{}, err
	}
	if len(txs) == 0 {
		return types.Block{}, ErrEmptyMempool
	}

	candidate := types.Block{
		Header: types.BlockHeader{
			Height:    lastHeight + 1,
			PrevHash:  prevHash,
			Timestamp: time.Now().Unix(),
		},
		Transactions: txs,
		ProposerID:   proposerID,
	}

	payload, err := types.BlockSigningPayload(candidate)
	if err != nil {
		return types.Block{}, err
	}
	candidate.Signature = crypto.Sign(priv, payload)
	return candidate, nil
}
