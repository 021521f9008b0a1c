package block

import (
	"fmt"

	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/engine"
	"github.com/miniroha/miniroha/mempool"
	"github.com/miniroha/miniroha/store"
	"github.com/miniroha/miniroha/types"
)

// ValidatorReader resolves a validator's registered public key, the
// only piece of state the applier needs beyond engine.Reader.
type ValidatorReader interface {
	GetValidator(id string) (*types.Validator, error)
}

// Applier verifies and atomically applies blocks to the store.
type Applier struct {
	store *store.Store
	pool  *mempool.Mempool
}

// NewApplier returns an Applier writing to store and draining pool of
// committed transactions after each successful apply.
func NewApplier(s *store.Store, pool *mempool.Mempool) *Applier {
	return &Applier{store: s, pool: pool}
}

// Verify checks a candidate block's signature, prev_hash chaining, and
// height. It reads the store but never writes to it, and does not run
// the instruction engine.
func (a *Applier) Verify(candidate types.Block) error {
	lastHeight, err := a.store.GetLastHeight()
	if err != nil {
		return err
	}
	if candidate.Header.Height != lastHeight+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrHeightMismatch, candidate.Header.Height, lastHeight+1)
	}

	validator, err := a.store.GetValidator(candidate.ProposerID)
	if err != nil {
		return err
	}
	if validator == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProposer, candidate.ProposerID)
	}
	payload, err := types.BlockSigningPayload(candidate)
	if err != nil {
		return err
	}
	if !crypto.Verify(validator.PublicKey, string(payload), candidate.Signature) {
		return ErrInvalidSignature
	}

	if lastHeight == 0 {
		if candidate.Header.PrevHash != "" {
			return fmt.Errorf("%w: genesis successor must have empty prev_hash", ErrPrevHashMismatch)
		}
		return nil
	}
	lastBlock, err := a.store.GetBlock(lastHeight)
	if err != nil {
		return err
	}
	if lastBlock == nil {
		return fmt.Errorf("%w: height %d", ErrMissingPredecessor, lastHeight)
	}
	wantPrevHash, err := HeaderHash(lastBlock.Header)
	if err != nil {
		return err
	}
	if candidate.Header.PrevHash != wantPrevHash {
		return fmt.Errorf("%w: got %q, want %q", ErrPrevHashMismatch, candidate.Header.PrevHash, wantPrevHash)
	}
	return nil
}

// Apply verifies then atomically applies a block: it re-executes every
// transaction's instructions through the engine against working state,
// dropping (not failing the whole block for) any transaction where an
// instruction fails, then commits one batch covering all effects, the
// transaction records, updated nonces, the block itself, and
// last_height. On success it removes the committed transactions from
// the mempool.
func (a *Applier) Apply(candidate types.Block) error {
	if err := a.Verify(candidate); err != nil {
		return err
	}

	blockView := engine.NewView(a.store)
	newNonces := make(map[string]uint64)
	var committedHashes []string

	batch := a.store.NewBatch()

	for _, tx := range candidate.Transactions {
		txView := engine.NewView(blockView)
		succeeded := true
		for _, instr := range tx.Body.Instructions {
			if err := engine.Execute(txView, instr, tx.Body.CreatedAt); err != nil {
				succeeded = false
				break
			}
		}
		if !succeeded {
			continue
		}
		blockView.Merge(txView)

		hash, err := transactionHash(tx)
		if err != nil {
			return err
		}
		if err := batch.PutTransaction(hash, &tx); err != nil {
			return err
		}
		committedHashes = append(committedHashes, hash)
		if tx.Body.Nonce > newNonces[tx.Body.SignerID] {
			newNonces[tx.Body.SignerID] = tx.Body.Nonce
		}
	}

	if err := flushView(batch, blockView); err != nil {
		return err
	}
	for signerID, nonce := range newNonces {
		batch.PutLastSeenNonce(signerID, nonce)
	}

	blockHash, err := Hash(candidate)
	if err != nil {
		return err
	}
	if err := batch.PutBlock(&candidate, blockHash); err != nil {
		return err
	}
	batch.PutLastHeight(candidate.Header.Height)

	if err := a.store.Commit(batch); err != nil {
		return fmt.Errorf("block: commit: %w", err)
	}

	a.pool.RemoveCommitted(committedHashes)
	return nil
}

func transactionHash(tx types.Transaction) (string, error) {
	raw, err := types.Canonical(tx)
	if err != nil {
		return "", err
	}
	return crypto.Hash(raw), nil
}

// flushView translates a block-level engine.View's overlay into batch
// puts, turning a zero balance into a delete. Role definitions are
// never written by the engine's instructions, so the roles overlay is
// normally empty; it is flushed like the other collections.
func flushView(batch *store.Batch, v *engine.View) error {
	for _, d := range v.Domains() {
		if err := batch.PutDomain(d); err != nil {
			return err
		}
	}
	for _, acc := range v.Accounts() {
		if err := batch.PutAccount(acc); err != nil {
			return err
		}
	}
	for accountID, roles := range v.AccountRolesAll() {
		if err := batch.PutAccountRoles(accountID, roles); err != nil {
			return err
		}
	}
	for _, asset := range v.Assets() {
		if err := batch.PutAsset(asset); err != nil {
			return err
		}
	}
	for _, bal := range v.Balances() {
		if bal.Amount == "0" {
			batch.DeleteBalance(bal.AssetID, bal.AccountID)
			continue
		}
		if err := batch.PutBalance(bal); err != nil {
			return err
		}
	}
	for _, role := range v.Roles() {
		if err := batch.PutRole(role); err != nil {
			return err
		}
	}
	return nil
}
