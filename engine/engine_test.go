package engine

import (
	"errors"
	"testing"

	"github.com/miniroha/miniroha/types"
)

// emptyReader is a Reader with nothing in it, the base case for a
// top-level View in tests (mirrors production code layering a View
// straight over a fresh store).
type emptyReader struct{}

func (emptyReader) GetDomain(string) (*types.Domain, error)             { return nil, nil }
func (emptyReader) GetAccount(string) (*types.Account, error)           { return nil, nil }
func (emptyReader) GetAccountRoles(string) ([]string, error)            { return []string{}, nil }
func (emptyReader) GetAsset(string) (*types.Asset, error)               { return nil, nil }
func (emptyReader) GetRole(string) (*types.Role, error)                 { return nil, nil }
func (emptyReader) GetBalance(assetID, accountID string) (*types.Balance, error) {
	return &types.Balance{AssetID: assetID, AccountID: accountID, Amount: "0"}, nil
}

func freshView() *View { return NewView(emptyReader{}) }

func mustExec(t *testing.T, v *View, instr types.Instruction) {
	t.Helper()
	if err := Execute(v, instr, 1000); err != nil {
		t.Fatalf("Execute(%v): unexpected error: %v", instr.Kind, err)
	}
}

func TestRegisterDomainOkThenDuplicate(t *testing.T) {
	v := freshView()
	mustExec(t, v, types.Instruction{Kind: types.KindRegisterDomain, DomainID: "root"})

	err := Execute(v, types.Instruction{Kind: types.KindRegisterDomain, DomainID: "root"}, 1000)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterAccountRequiresExistingDomain(t *testing.T) {
	v := freshView()
	err := Execute(v, types.Instruction{Kind: types.KindRegisterAccount, AccountID: "alice@root", PublicKey: "ed25519:x"}, 1000)
	if !errors.Is(err, ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}
}

func TestRegisterAccountMalformedID(t *testing.T) {
	v := freshView()
	err := Execute(v, types.Instruction{Kind: types.KindRegisterAccount, AccountID: "not-an-account-id"}, 1000)
	if !errors.Is(err, ErrMalformedID) {
		t.Fatalf("expected ErrMalformedID, got %v", err)
	}
}

func setupDomainAccountAsset(t *testing.T, v *View) {
	t.Helper()
	mustExec(t, v, types.Instruction{Kind: types.KindRegisterDomain, DomainID: "root"})
	mustExec(t, v, types.Instruction{Kind: types.KindRegisterAccount, AccountID: "alice@root", PublicKey: "ed25519:a"})
	mustExec(t, v, types.Instruction{Kind: types.KindRegisterAccount, AccountID: "bob@root", PublicKey: "ed25519:b"})
	mustExec(t, v, types.Instruction{Kind: types.KindRegisterAsset, AssetID: "usd#root", Precision: 2})
}

func TestMintThenBalance(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)

	mustExec(t, v, types.Instruction{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "1000.00"})

	bal, err := v.GetBalance("usd#root", "alice@root")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Amount != "100000" {
		t.Fatalf("expected 100000 smallest units, got %s", bal.Amount)
	}
}

func TestMintUnknownAssetFails(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)

	err := Execute(v, types.Instruction{Kind: types.KindMintAsset, AssetID: "eur#root", AccountID: "alice@root", Amount: "5.00"}, 1000)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBurnInsufficientBalance(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	mustExec(t, v, types.Instruction{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "10.00"})

	err := Execute(v, types.Instruction{Kind: types.KindBurnAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "20.00"}, 1000)
	if !errors.Is(err, ErrInsufficientBal) {
		t.Fatalf("expected ErrInsufficientBal, got %v", err)
	}
}

func TestBurnToZeroLeavesZeroBalance(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	mustExec(t, v, types.Instruction{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "10.00"})
	mustExec(t, v, types.Instruction{Kind: types.KindBurnAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "10.00"})

	bal, err := v.GetBalance("usd#root", "alice@root")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Amount != "0" {
		t.Fatalf("expected zero balance, got %s", bal.Amount)
	}
}

func TestTransferMovesFunds(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	mustExec(t, v, types.Instruction{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "100.00"})

	mustExec(t, v, types.Instruction{
		Kind: types.KindTransferAsset, AssetID: "usd#root",
		SrcAccountID: "alice@root", DstAccountID: "bob@root", Amount: "40.00",
	})

	aliceBal, _ := v.GetBalance("usd#root", "alice@root")
	bobBal, _ := v.GetBalance("usd#root", "bob@root")
	if aliceBal.Amount != "6000" {
		t.Fatalf("expected alice 6000, got %s", aliceBal.Amount)
	}
	if bobBal.Amount != "4000" {
		t.Fatalf("expected bob 4000, got %s", bobBal.Amount)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)

	err := Execute(v, types.Instruction{
		Kind: types.KindTransferAsset, AssetID: "usd#root",
		SrcAccountID: "alice@root", DstAccountID: "bob@root", Amount: "1.00",
	}, 1000)
	if !errors.Is(err, ErrInsufficientBal) {
		t.Fatalf("expected ErrInsufficientBal, got %v", err)
	}
}

func TestGrantRoleIsSetSemantics(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	v.putRole(&types.Role{ID: "user", Permissions: []string{"TransferAsset"}})

	mustExec(t, v, types.Instruction{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"})
	mustExec(t, v, types.Instruction{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"})

	roles, err := v.GetAccountRoles("alice@root")
	if err != nil {
		t.Fatalf("GetAccountRoles: %v", err)
	}
	if len(roles) != 1 || roles[0] != "user" {
		t.Fatalf("expected exactly one \"user\" role, got %v", roles)
	}
}

func TestGrantRoleUnknownRoleFails(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)

	err := Execute(v, types.Instruction{Kind: types.KindGrantRole, RoleID: "ghost", AccountID: "alice@root"}, 1000)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRoleRemovesIfPresent(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	v.putRole(&types.Role{ID: "user", Permissions: []string{"TransferAsset"}})
	mustExec(t, v, types.Instruction{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"})

	mustExec(t, v, types.Instruction{Kind: types.KindRevokeRole, RoleID: "user", AccountID: "alice@root"})

	roles, _ := v.GetAccountRoles("alice@root")
	if len(roles) != 0 {
		t.Fatalf("expected no roles after revoke, got %v", roles)
	}
}

func TestRevokeRoleAbsentIsNoop(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)

	if err := Execute(v, types.Instruction{Kind: types.KindRevokeRole, RoleID: "never-granted", AccountID: "alice@root"}, 1000); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestUnknownInstructionKindRejected(t *testing.T) {
	v := freshView()
	err := Execute(v, types.Instruction{Kind: types.InstructionKind("Nonsense")}, 1000)
	if !errors.Is(err, ErrUnknownInstruction) {
		t.Fatalf("expected ErrUnknownInstruction, got %v", err)
	}
}

func TestFailedInstructionLeavesViewUnchanged(t *testing.T) {
	v := freshView()
	setupDomainAccountAsset(t, v)
	mustExec(t, v, types.Instruction{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "50.00"})

	// A transaction-scoped child view whose single instruction fails
	// must not leak any partial write into the parent when discarded,
	// the way the block applier discards a failed transaction's view.
	tx := NewView(v)
	err := Execute(tx, types.Instruction{
		Kind: types.KindTransferAsset, AssetID: "usd#root",
		SrcAccountID: "alice@root", DstAccountID: "bob@root", Amount: "999999.00",
	}, 1000)
	if !errors.Is(err, ErrInsufficientBal) {
		t.Fatalf("expected ErrInsufficientBal, got %v", err)
	}

	bal, _ := v.GetBalance("usd#root", "alice@root")
	if bal.Amount != "5000" {
		t.Fatalf("parent view mutated by discarded child: %s", bal.Amount)
	}
}
