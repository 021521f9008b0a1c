// Package genesis implements the one-time bootstrap that seeds a
// fresh store with its initial domains, accounts, assets, balances,
// roles, and validator set, then creates block 1.
package genesis

import (
	"errors"
	"fmt"

	"github.com/miniroha/miniroha/block"
	"github.com/miniroha/miniroha/engine"
	"github.com/miniroha/miniroha/store"
	"github.com/miniroha/miniroha/types"
)

var (
	ErrAlreadyBootstrapped = errors.New("genesis: chain already bootstrapped")
	ErrMissingValidator    = errors.New("genesis: at least one validator is required")
	ErrMissingAdminRole    = errors.New("genesis: at least one role named \"admin\" with permission \"*\" is required")
	ErrMissingAdminHolder  = errors.New("genesis: at least one account must hold the admin role")
	ErrDanglingReference   = errors.New("genesis: referential integrity violation")
)

// Config is the genesis document: the full initial state of the
// chain, validated for internal referential integrity before it is
// ever written to the store.
type Config struct {
	ChainID    string            `json:"chain_id"`
	Domains    []types.Domain    `json:"domains"`
	Accounts   []types.Account   `json:"accounts"`
	Assets     []types.Asset     `json:"assets"`
	Balances   []types.Balance   `json:"balances"`
	Roles      []types.Role      `json:"roles"`
	Validators []types.Validator `json:"validators"`
}

// Validate checks referential integrity purely within cfg: every
// account's domain and every balance's asset/account must be present
// in the same config, at least one validator must be listed, at least
// one role named "admin" must grant "*", and at least one account must
// hold that role.
func (cfg Config) Validate() error {
	domainSet := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domainSet[d.ID] = true
	}
	accountSet := make(map[string]bool, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		_, domain, ok := types.ParseAccountID(a.ID)
		if !ok {
			return fmt.Errorf("%w: account id %q malformed", ErrDanglingReference, a.ID)
		}
		if !domainSet[domain] {
			return fmt.Errorf("%w: account %q references unknown domain %q", ErrDanglingReference, a.ID, domain)
		}
		accountSet[a.ID] = true
	}
	assetSet := make(map[string]bool, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		_, domain, ok := types.ParseAssetID(asset.ID)
		if !ok {
			return fmt.Errorf("%w: asset id %q malformed", ErrDanglingReference, asset.ID)
		}
		if !domainSet[domain] {
			return fmt.Errorf("%w: asset %q references unknown domain %q", ErrDanglingReference, asset.ID, domain)
		}
		assetSet[asset.ID] = true
	}
	for _, bal := range cfg.Balances {
		if !assetSet[bal.AssetID] {
			return fmt.Errorf("%w: balance references unknown asset %q", ErrDanglingReference, bal.AssetID)
		}
		if !accountSet[bal.AccountID] {
			return fmt.Errorf("%w: balance references unknown account %q", ErrDanglingReference, bal.AccountID)
		}
	}
	roleSet := make(map[string]*types.Role, len(cfg.Roles))
	for i := range cfg.Roles {
		roleSet[cfg.Roles[i].ID] = &cfg.Roles[i]
	}
	for _, a := range cfg.Accounts {
		for _, roleID := range a.Roles {
			if roleSet[roleID] == nil {
				return fmt.Errorf("%w: account %q references unknown role %q", ErrDanglingReference, a.ID, roleID)
			}
		}
	}

	if len(cfg.Validators) == 0 {
		return ErrMissingValidator
	}

	adminRoleID := ""
	for _, r := range cfg.Roles {
		if r.ID != "admin" {
			continue
		}
		for _, p := range r.Permissions {
			if p == "*" {
				adminRoleID = r.ID
			}
		}
	}
	if adminRoleID == "" {
		return ErrMissingAdminRole
	}
	for _, a := range cfg.Accounts {
		for _, roleID := range a.Roles {
			if roleID == adminRoleID {
				return nil
			}
		}
	}
	return ErrMissingAdminHolder
}

// Bootstrap validates cfg, then composes and commits a single atomic
// batch writing every entity plus block 1 (empty transactions,
// proposer "genesis", prev_hash ""). It refuses to run twice.
func Bootstrap(s *store.Store, cfg Config) error {
	bootstrapped, err := s.IsBootstrapped()
	if err != nil {
		return err
	}
	if bootstrapped {
		return ErrAlreadyBootstrapped
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	batch := s.NewBatch()
	for i := range cfg.Domains {
		if err := batch.PutDomain(&cfg.Domains[i]); err != nil {
			return err
		}
	}
	accountRoles := make(map[string][]string, len(cfg.Accounts))
	for i := range cfg.Accounts {
		acc := cfg.Accounts[i]
		roles := acc.Roles
		acc.Roles = nil
		if err := batch.PutAccount(&acc); err != nil {
			return err
		}
		if roles == nil {
			roles = []string{}
		}
		accountRoles[acc.ID] = roles
	}
	for accountID, roles := range accountRoles {
		if err := batch.PutAccountRoles(accountID, roles); err != nil {
			return err
		}
	}
	for i := range cfg.Assets {
		if err := batch.PutAsset(&cfg.Assets[i]); err != nil {
			return err
		}
	}
	for i := range cfg.Balances {
		bal := cfg.Balances[i]
		if _, err := engine.ParseBalance(bal.Amount); err != nil {
			return err
		}
		if err := batch.PutBalance(&bal); err != nil {
			return err
		}
	}
	for i := range cfg.Roles {
		if err := batch.PutRole(&cfg.Roles[i]); err != nil {
			return err
		}
	}
	for i := range cfg.Validators {
		if err := batch.PutValidator(&cfg.Validators[i]); err != nil {
			return err
		}
	}

	genesisBlock := &types.Block{
		Header:     types.BlockHeader{Height: 1, PrevHash: ""},
		ProposerID: "genesis",
	}
	genesisHash, err := block.HeaderHash(genesisBlock.Header)
	if err != nil {
		return err
	}
	if err := batch.PutBlock(genesisBlock, genesisHash); err != nil {
		return err
	}
	batch.PutChainID(cfg.ChainID)
	batch.PutLastHeight(1)

	if err := s.Commit(batch); err != nil {
		return fmt.Errorf("genesis: commit: %w", err)
	}
	return nil
}
