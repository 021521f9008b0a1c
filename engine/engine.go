// Package engine implements the instruction engine: the deterministic
// state machine that executes miniroha's eight instruction variants
// against a View, per the RegisterDomain/RegisterAccount/.../RevokeRole
// pre-condition and effect table. It never commits; callers (the block
// applier, genesis bootstrap) gather its writes into a store.Batch.
package engine

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/miniroha/miniroha/types"
)

const (
	maxPrecision = 18
	maxDomainLen = 64
)

// domainIDFormat mirrors the txvalidator's structural check: a domain
// id is printable, non-control characters containing neither "@" nor
// "#". The transaction validator rejects a malformed id before it ever
// reaches Execute, but genesis bootstrap writes domains directly, so
// this precondition holds regardless of caller.
var domainIDFormat = regexp.MustCompile(`^[^\x00-\x1f\x7f@#]+$`)

// Execute runs a single instruction against v, writing its effects
// into v's overlay on success. createdAt is the enclosing transaction
// body's timestamp, stamped onto newly created entities. It is a
// tagged-sum dispatch: the switch names every InstructionKind
// explicitly, and the default arm reports ErrUnknownInstruction rather
// than silently no-opping on an unrecognized or future variant.
func Execute(v *View, instr types.Instruction, createdAt int64) error {
	switch instr.Kind {
	case types.KindRegisterDomain:
		return registerDomain(v, instr, createdAt)
	case types.KindRegisterAccount:
		return registerAccount(v, instr, createdAt)
	case types.KindRegisterAsset:
		return registerAsset(v, instr, createdAt)
	case types.KindMintAsset:
		return mintAsset(v, instr)
	case types.KindBurnAsset:
		return burnAsset(v, instr)
	case types.KindTransferAsset:
		return transferAsset(v, instr)
	case types.KindGrantRole:
		return grantRole(v, instr)
	case types.KindRevokeRole:
		return revokeRole(v, instr)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownInstruction, instr.Kind)
	}
}

func registerDomain(v *View, instr types.Instruction, createdAt int64) error {
	if instr.DomainID == "" || len(instr.DomainID) > maxDomainLen || !domainIDFormat.MatchString(instr.DomainID) {
		return fmt.Errorf("%w: %q", ErrMalformedDomainID, instr.DomainID)
	}
	existing, err := v.GetDomain(instr.DomainID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: domain %q", ErrAlreadyExists, instr.DomainID)
	}
	v.putDomain(&types.Domain{ID: instr.DomainID, CreatedAt: createdAt})
	return nil
}

func registerAccount(v *View, instr types.Instruction, createdAt int64) error {
	_, domain, ok := types.ParseAccountID(instr.AccountID)
	if !ok {
		return fmt.Errorf("%w: account id %q", ErrMalformedID, instr.AccountID)
	}
	d, err := v.GetDomain(domain)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: %q", ErrDomainNotFound, domain)
	}
	existing, err := v.GetAccount(instr.AccountID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: account %q", ErrAlreadyExists, instr.AccountID)
	}
	v.putAccount(&types.Account{
		ID:        instr.AccountID,
		PublicKey: instr.PublicKey,
		Roles:     nil,
		CreatedAt: createdAt,
	})
	v.putAccountRoles(instr.AccountID, []string{})
	return nil
}

func registerAsset(v *View, instr types.Instruction, createdAt int64) error {
	_, domain, ok := types.ParseAssetID(instr.AssetID)
	if !ok {
		return fmt.Errorf("%w: asset id %q", ErrMalformedID, instr.AssetID)
	}
	d, err := v.GetDomain(domain)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: %q", ErrDomainNotFound, domain)
	}
	if instr.Precision < 0 || instr.Precision > maxPrecision {
		return fmt.Errorf("%w: %d", ErrInvalidPrecision, instr.Precision)
	}
	existing, err := v.GetAsset(instr.AssetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: asset %q", ErrAlreadyExists, instr.AssetID)
	}
	v.putAsset(&types.Asset{ID: instr.AssetID, Precision: instr.Precision, CreatedAt: createdAt})
	return nil
}

func mintAsset(v *View, instr types.Instruction) error {
	asset, err := requireAsset(v, instr.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(v, instr.AccountID); err != nil {
		return err
	}
	amount, err := ParseAmount(instr.Amount, asset.Precision)
	if err != nil {
		return err
	}
	current, err := balanceInt(v, instr.AssetID, instr.AccountID)
	if err != nil {
		return err
	}
	current.Add(current, amount)
	v.putBalance(&types.Balance{AssetID: instr.AssetID, AccountID: instr.AccountID, Amount: FormatBalance(current)})
	return nil
}

func burnAsset(v *View, instr types.Instruction) error {
	asset, err := requireAsset(v, instr.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(v, instr.AccountID); err != nil {
		return err
	}
	amount, err := ParseAmount(instr.Amount, asset.Precision)
	if err != nil {
		return err
	}
	current, err := balanceInt(v, instr.AssetID, instr.AccountID)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %q account %q", ErrInsufficientBal, instr.AssetID, instr.AccountID)
	}
	current.Sub(current, amount)
	v.putBalance(&types.Balance{AssetID: instr.AssetID, AccountID: instr.AccountID, Amount: FormatBalance(current)})
	return nil
}

func transferAsset(v *View, instr types.Instruction) error {
	asset, err := requireAsset(v, instr.AssetID)
	if err != nil {
		return err
	}
	if _, err := requireAccount(v, instr.SrcAccountID); err != nil {
		return err
	}
	if _, err := requireAccount(v, instr.DstAccountID); err != nil {
		return err
	}
	amount, err := ParseAmount(instr.Amount, asset.Precision)
	if err != nil {
		return err
	}
	srcBal, err := balanceInt(v, instr.AssetID, instr.SrcAccountID)
	if err != nil {
		return err
	}
	if srcBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset %q account %q", ErrInsufficientBal, instr.AssetID, instr.SrcAccountID)
	}
	dstBal, err := balanceInt(v, instr.AssetID, instr.DstAccountID)
	if err != nil {
		return err
	}
	srcBal.Sub(srcBal, amount)
	dstBal.Add(dstBal, amount)
	v.putBalance(&types.Balance{AssetID: instr.AssetID, AccountID: instr.SrcAccountID, Amount: FormatBalance(srcBal)})
	v.putBalance(&types.Balance{AssetID: instr.AssetID, AccountID: instr.DstAccountID, Amount: FormatBalance(dstBal)})
	return nil
}

func grantRole(v *View, instr types.Instruction) error {
	if _, err := requireRole(v, instr.RoleID); err != nil {
		return err
	}
	if _, err := requireAccount(v, instr.AccountID); err != nil {
		return err
	}
	roles, err := v.GetAccountRoles(instr.AccountID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r == instr.RoleID {
			v.putAccountRoles(instr.AccountID, roles)
			return nil
		}
	}
	v.putAccountRoles(instr.AccountID, append(roles, instr.RoleID))
	return nil
}

func revokeRole(v *View, instr types.Instruction) error {
	if _, err := requireAccount(v, instr.AccountID); err != nil {
		return err
	}
	roles, err := v.GetAccountRoles(instr.AccountID)
	if err != nil {
		return err
	}
	out := roles[:0:0]
	for _, r := range roles {
		if r != instr.RoleID {
			out = append(out, r)
		}
	}
	v.putAccountRoles(instr.AccountID, out)
	return nil
}

func requireAsset(v *View, id string) (*types.Asset, error) {
	a, err := v.GetAsset(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: asset %q", ErrNotFound, id)
	}
	return a, nil
}

func requireAccount(v *View, id string) (*types.Account, error) {
	a, err := v.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: account %q", ErrNotFound, id)
	}
	return a, nil
}

func requireRole(v *View, id string) (*types.Role, error) {
	r, err := v.GetRole(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, id)
	}
	return r, nil
}

func balanceInt(v *View, assetID, accountID string) (*big.Int, error) {
	bal, err := v.GetBalance(assetID, accountID)
	if err != nil {
		return nil, err
	}
	amt, err := ParseBalance(bal.Amount)
	if err != nil {
		return nil, err
	}
	return amt, nil
}
