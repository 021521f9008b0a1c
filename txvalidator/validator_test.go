package txvalidator

import (
	"errors"
	"testing"

	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/types"
)

type fakeStore struct {
	accounts map[string]*types.Account
	roles    map[string][]string
	rolesDef map[string]*types.Role
	nonces   map[string]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*types.Account{},
		roles:    map[string][]string{},
		rolesDef: map[string]*types.Role{},
		nonces:   map[string]uint64{},
	}
}

func (f *fakeStore) GetAccount(id string) (*types.Account, error) { return f.accounts[id], nil }
func (f *fakeStore) GetAccountRoles(id string) ([]string, error)  { return f.roles[id], nil }
func (f *fakeStore) GetRole(id string) (*types.Role, error)       { return f.rolesDef[id], nil }
func (f *fakeStore) GetLastSeenNonce(signerID string) (uint64, error) {
	return f.nonces[signerID], nil
}

func signedTx(t *testing.T, kp *crypto.KeyPair, body types.TxBody) types.Transaction {
	t.Helper()
	payload, err := types.TxSigningPayload(body)
	if err != nil {
		t.Fatalf("TxSigningPayload: %v", err)
	}
	return types.Transaction{Body: body, Signature: crypto.Sign(kp.PrivateKey, payload)}
}

func TestValidateAcceptsWellFormedTx(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	store := newFakeStore()
	store.accounts["alice@root"] = &types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(kp.PublicKey)}
	store.roles["alice@root"] = []string{"user"}
	store.rolesDef["user"] = &types.Role{ID: "user", Permissions: []string{"TransferAsset"}}

	body := types.TxBody{
		ChainID:  "miniroha-test",
		SignerID: "alice@root",
		Nonce:    1,
		CreatedAt: 1000,
		Instructions: []types.Instruction{
			{Kind: types.KindTransferAsset, AssetID: "usd#root", SrcAccountID: "alice@root", DstAccountID: "bob@root", Amount: "10.00"},
		},
	}
	tx := signedTx(t, kp, body)

	if err := New(store).Validate(tx); err != nil {
		t.Fatalf("expected valid tx to pass, got %v", err)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	other, _ := crypto.GenerateKeyPair()
	store := newFakeStore()
	store.accounts["alice@root"] = &types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(kp.PublicKey)}

	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "alice@root", Nonce: 1, CreatedAt: 1000,
		Instructions: []types.Instruction{{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"}},
	}
	tx := signedTx(t, other, body) // signed with the wrong key

	err := New(store).Validate(tx)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestValidateRejectsUnknownSigner(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	store := newFakeStore()

	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "ghost@root", Nonce: 1, CreatedAt: 1000,
		Instructions: []types.Instruction{{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"}},
	}
	tx := signedTx(t, kp, body)

	err := New(store).Validate(tx)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE for unknown signer, got %v", err)
	}
}

func TestValidateRejectsStaleNonce(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	store := newFakeStore()
	store.accounts["alice@root"] = &types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(kp.PublicKey)}
	store.roles["alice@root"] = []string{"admin"}
	store.rolesDef["admin"] = &types.Role{ID: "admin", Permissions: []string{"*"}}
	store.nonces["alice@root"] = 5

	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "alice@root", Nonce: 5, CreatedAt: 1000,
		Instructions: []types.Instruction{{Kind: types.KindGrantRole, RoleID: "user", AccountID: "alice@root"}},
	}
	tx := signedTx(t, kp, body)

	err := New(store).Validate(tx)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodeInvalidNonce {
		t.Fatalf("expected INVALID_NONCE, got %v", err)
	}
}

func TestValidateRejectsMissingPermission(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	store := newFakeStore()
	store.accounts["alice@root"] = &types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(kp.PublicKey)}
	store.roles["alice@root"] = []string{"user"}
	store.rolesDef["user"] = &types.Role{ID: "user", Permissions: []string{"TransferAsset"}}

	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "alice@root", Nonce: 1, CreatedAt: 1000,
		Instructions: []types.Instruction{{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "10.00"}},
	}
	tx := signedTx(t, kp, body)

	err := New(store).Validate(tx)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}

func TestValidateRejectsMalformedAmount(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	store := newFakeStore()
	store.accounts["alice@root"] = &types.Account{ID: "alice@root", PublicKey: crypto.EncodePublicKey(kp.PublicKey)}
	store.roles["alice@root"] = []string{"admin"}
	store.rolesDef["admin"] = &types.Role{ID: "admin", Permissions: []string{"*"}}

	body := types.TxBody{
		ChainID: "miniroha-test", SignerID: "alice@root", Nonce: 1, CreatedAt: 1000,
		Instructions: []types.Instruction{{Kind: types.KindMintAsset, AssetID: "usd#root", AccountID: "alice@root", Amount: "not-a-number"}},
	}
	tx := signedTx(t, kp, body)

	err := New(store).Validate(tx)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodeInvalidAmountFmt {
		t.Fatalf("expected INVALID_AMOUNT_FORMAT, got %v", err)
	}
}
