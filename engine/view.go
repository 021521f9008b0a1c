package engine

import "github.com/miniroha/miniroha/types"

// Reader is the read side of the state store façade that the
// instruction engine needs. *store.Store and *View both satisfy it,
// which lets a View be layered on top of another View — one layer per
// transaction, one layer per block, both eventually backed by the
// durable store.
type Reader interface {
	GetDomain(id string) (*types.Domain, error)
	GetAccount(id string) (*types.Account, error)
	GetAccountRoles(id string) ([]string, error)
	GetAsset(id string) (*types.Asset, error)
	GetBalance(assetID, accountID string) (*types.Balance, error)
	GetRole(id string) (*types.Role, error)
}

// View is an in-memory copy-on-write overlay over a Reader. Writes
// issued by the instruction engine land in the overlay; reads consult
// the overlay first and fall back to the parent. A View whose owner
// decides its writes should not take effect (a failed transaction) is
// simply discarded; a View whose writes should take effect is merged
// into its parent.
type View struct {
	parent Reader

	domains      map[string]*types.Domain
	accounts     map[string]*types.Account
	accountRoles map[string][]string
	assets       map[string]*types.Asset
	balances     map[string]*types.Balance
	roles        map[string]*types.Role
}

// NewView creates an overlay on top of parent.
func NewView(parent Reader) *View {
	return &View{
		parent:       parent,
		domains:      make(map[string]*types.Domain),
		accounts:     make(map[string]*types.Account),
		accountRoles: make(map[string][]string),
		assets:       make(map[string]*types.Asset),
		balances:     make(map[string]*types.Balance),
		roles:        make(map[string]*types.Role),
	}
}

func balanceOverlayKey(assetID, accountID string) string {
	return assetID + "/" + accountID
}

func (v *View) GetDomain(id string) (*types.Domain, error) {
	if d, ok := v.domains[id]; ok {
		return d, nil
	}
	return v.parent.GetDomain(id)
}

func (v *View) GetAccount(id string) (*types.Account, error) {
	if a, ok := v.accounts[id]; ok {
		return a, nil
	}
	return v.parent.GetAccount(id)
}

func (v *View) GetAccountRoles(id string) ([]string, error) {
	if r, ok := v.accountRoles[id]; ok {
		out := make([]string, len(r))
		copy(out, r)
		return out, nil
	}
	return v.parent.GetAccountRoles(id)
}

func (v *View) GetAsset(id string) (*types.Asset, error) {
	if a, ok := v.assets[id]; ok {
		return a, nil
	}
	return v.parent.GetAsset(id)
}

func (v *View) GetBalance(assetID, accountID string) (*types.Balance, error) {
	if b, ok := v.balances[balanceOverlayKey(assetID, accountID)]; ok {
		return b, nil
	}
	return v.parent.GetBalance(assetID, accountID)
}

func (v *View) GetRole(id string) (*types.Role, error) {
	if r, ok := v.roles[id]; ok {
		return r, nil
	}
	return v.parent.GetRole(id)
}

func (v *View) putDomain(d *types.Domain)   { v.domains[d.ID] = d }
func (v *View) putAccount(a *types.Account) { v.accounts[a.ID] = a }
func (v *View) putAccountRoles(accountID string, roles []string) {
	v.accountRoles[accountID] = roles
}
func (v *View) putAsset(a *types.Asset) { v.assets[a.ID] = a }
func (v *View) putBalance(b *types.Balance) {
	v.balances[balanceOverlayKey(b.AssetID, b.AccountID)] = b
}
func (v *View) putRole(r *types.Role) { v.roles[r.ID] = r }

// Merge folds a child view's overlay into v, the way the block
// applier folds a successfully executed transaction's writes into the
// block-wide working state.
func (v *View) Merge(child *View) {
	for k, val := range child.domains {
		v.domains[k] = val
	}
	for k, val := range child.accounts {
		v.accounts[k] = val
	}
	for k, val := range child.accountRoles {
		v.accountRoles[k] = val
	}
	for k, val := range child.assets {
		v.assets[k] = val
	}
	for k, val := range child.balances {
		v.balances[k] = val
	}
	for k, val := range child.roles {
		v.roles[k] = val
	}
}

// Domains, Accounts, AccountRolesAll, Assets, Balances, Roles expose the
// overlay's contents so a caller (the block applier) can translate
// the final block-level view into a store.Batch.
func (v *View) Domains() map[string]*types.Domain           { return v.domains }
func (v *View) Accounts() map[string]*types.Account         { return v.accounts }
func (v *View) AccountRolesAll() map[string][]string         { return v.accountRoles }
func (v *View) Assets() map[string]*types.Asset             { return v.assets }
func (v *View) Balances() map[string]*types.Balance         { return v.balances }
func (v *View) Roles() map[string]*types.Role               { return v.roles }
