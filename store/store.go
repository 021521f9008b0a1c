// Package store provides the state store façade over a LevelDB-backed
// key-value store: typed point-get/put/delete accessors and an atomic
// write batch, per the miniroha key layout.
//
// The single contract every caller relies on is that a Batch either
// commits in its entirety or leaves the store untouched — LevelDB's
// WriteBatch already gives us that, the way ZWieseDev's
// core/storage.Storage.SaveBlock composes a *leveldb.Batch of
// multiple puts and writes it in one call.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/miniroha/miniroha/types"
)

// ErrNotFound reports a missing record. The accessors in this package
// do not return it: they report absence as nil (or, for balances, as
// amount "0").
var ErrNotFound = errors.New("store: not found")

// Store is the state store façade.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a LevelDB store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func get[T any](s *Store, key []byte) (*T, error) {
	raw, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return &v, nil
}

// GetDomain returns the domain with the given id, or nil if absent.
func (s *Store) GetDomain(id string) (*types.Domain, error) {
	return get[types.Domain](s, domainKey(id))
}

// GetAccount returns the account with the given id (roles omitted;
// see GetAccountRoles), or nil if absent.
func (s *Store) GetAccount(id string) (*types.Account, error) {
	return get[types.Account](s, accountKey(id))
}

// GetAccountRoles returns the ordered role ids granted to an account.
// Absence is reported as an empty, non-nil slice.
func (s *Store) GetAccountRoles(id string) ([]string, error) {
	roles, err := get[[]string](s, accountRolesKey(id))
	if err != nil {
		return nil, err
	}
	if roles == nil {
		return []string{}, nil
	}
	return *roles, nil
}

// GetAsset returns the asset with the given id, or nil if absent.
func (s *Store) GetAsset(id string) (*types.Asset, error) {
	return get[types.Asset](s, assetKey(id))
}

// GetBalance returns the balance for (assetID, accountID). Absence is
// reported as amount "0", per spec: absent key means zero balance.
func (s *Store) GetBalance(assetID, accountID string) (*types.Balance, error) {
	bal, err := get[types.Balance](s, balanceKey(assetID, accountID))
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return &types.Balance{AssetID: assetID, AccountID: accountID, Amount: "0"}, nil
	}
	return bal, nil
}

// GetRole returns the role with the given id, or nil if absent.
func (s *Store) GetRole(id string) (*types.Role, error) {
	return get[types.Role](s, roleKey(id))
}

// GetValidator returns the validator with the given id, or nil if
// absent.
func (s *Store) GetValidator(id string) (*types.Validator, error) {
	return get[types.Validator](s, validatorKey(id))
}

// ListValidators iterates the validators/ key prefix, so cluster size
// is not hard-capped the way a fixed node1..node10 probe would be.
func (s *Store) ListValidators() ([]*types.Validator, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixValidator)), nil)
	defer iter.Release()

	var out []*types.Validator
	for iter.Next() {
		var v types.Validator
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("store: unmarshal validator: %w", err)
		}
		out = append(out, &v)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate validators: %w", err)
	}
	return out, nil
}

// GetBlock returns the block at height, or nil if absent.
func (s *Store) GetBlock(height uint64) (*types.Block, error) {
	return get[types.Block](s, blockKey(height))
}

// GetBlockHeightByHash resolves a block hash to its height.
func (s *Store) GetBlockHeightByHash(hash string) (uint64, bool, error) {
	raw, err := s.db.Get(blockByHashKey(hash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: get block by hash: %w", err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: parse block height: %w", err)
	}
	return h, true, nil
}

// GetTransaction returns the committed transaction record for a tx
// hash, or nil if absent.
func (s *Store) GetTransaction(hash string) (*types.Transaction, error) {
	return get[types.Transaction](s, txKey(hash))
}

// GetChainID returns the stored chain id.
func (s *Store) GetChainID() (string, error) {
	raw, err := s.db.Get([]byte(keyChainID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("store: get chain id: %w", err)
	}
	return string(raw), nil
}

// GetLastHeight returns the highest stored block height, 0 if the
// chain has not been bootstrapped.
func (s *Store) GetLastHeight() (uint64, error) {
	raw, err := s.db.Get([]byte(keyLastHeight), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: get last height: %w", err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse last height: %w", err)
	}
	return h, nil
}

// IsBootstrapped reports whether genesis has run: last_height > 0.
func (s *Store) IsBootstrapped() (bool, error) {
	h, err := s.GetLastHeight()
	if err != nil {
		return false, err
	}
	return h > 0, nil
}

// GetLastSeenNonce returns the highest nonce ever successfully
// applied for a signer, 0 if none.
func (s *Store) GetLastSeenNonce(signerID string) (uint64, error) {
	raw, err := s.db.Get(nonceKey(signerID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: get nonce: %w", err)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse nonce: %w", err)
	}
	return n, nil
}

// RebuildNonces recomputes last-seen nonces from stored blocks,
// starting at fromHeight (inclusive), the way persistence.FileStore
// recomputes its latest height from files on disk rather than
// trusting a single cached counter. Nothing in the node calls it at
// start-up: the validator reads the nonces/ keys, which every applied
// block updates.
func (s *Store) RebuildNonces(fromHeight, toHeight uint64) (map[string]uint64, error) {
	nonces := make(map[string]uint64)
	for h := fromHeight; h <= toHeight; h++ {
		block, err := s.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue
		}
		for _, tx := range block.Transactions {
			if tx.Body.Nonce > nonces[tx.Body.SignerID] {
				nonces[tx.Body.SignerID] = tx.Body.Nonce
			}
		}
	}
	return nonces, nil
}

// Batch accumulates puts and deletes for atomic commit: either the
// whole batch lands, or the store is left completely untouched.
type Batch struct {
	lb *leveldb.Batch
}

// NewBatch returns an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{lb: new(leveldb.Batch)}
}

func putJSON(b *Batch, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	b.lb.Put(key, raw)
	return nil
}

func (b *Batch) PutDomain(d *types.Domain) error { return putJSON(b, domainKey(d.ID), d) }
func (b *Batch) PutAccount(a *types.Account) error {
	return putJSON(b, accountKey(a.ID), a)
}
func (b *Batch) PutAccountRoles(accountID string, roles []string) error {
	return putJSON(b, accountRolesKey(accountID), roles)
}
func (b *Batch) PutAsset(a *types.Asset) error { return putJSON(b, assetKey(a.ID), a) }
func (b *Batch) PutBalance(bal *types.Balance) error {
	return putJSON(b, balanceKey(bal.AssetID, bal.AccountID), bal)
}
func (b *Batch) DeleteBalance(assetID, accountID string) {
	b.lb.Delete(balanceKey(assetID, accountID))
}
func (b *Batch) PutRole(r *types.Role) error           { return putJSON(b, roleKey(r.ID), r) }
func (b *Batch) PutValidator(v *types.Validator) error { return putJSON(b, validatorKey(v.ID), v) }
func (b *Batch) PutBlock(block *types.Block, hash string) error {
	if err := putJSON(b, blockKey(block.Header.Height), block); err != nil {
		return err
	}
	b.lb.Put(blockByHashKey(hash), []byte(strconv.FormatUint(block.Header.Height, 10)))
	return nil
}
func (b *Batch) PutTransaction(hash string, tx *types.Transaction) error {
	return putJSON(b, txKey(hash), tx)
}
func (b *Batch) PutChainID(chainID string) {
	b.lb.Put([]byte(keyChainID), []byte(chainID))
}
func (b *Batch) PutLastHeight(height uint64) {
	b.lb.Put([]byte(keyLastHeight), []byte(strconv.FormatUint(height, 10)))
}
func (b *Batch) PutLastSeenNonce(signerID string, nonce uint64) {
	b.lb.Put(nonceKey(signerID), []byte(strconv.FormatUint(nonce, 10)))
}

// Commit writes the batch atomically. On failure of the underlying
// store, no partial state is observable: LevelDB's WriteBatch is
// all-or-nothing.
func (s *Store) Commit(b *Batch) error {
	if err := s.db.Write(b.lb, nil); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}
