package txvalidator

import (
	"regexp"

	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/types"
)

const (
	maxDomainLen  = 64
	maxAccountLen = 128
	maxAssetLen   = 128
	maxPrecision  = 18
)

var amountFormat = regexp.MustCompile(`^\d+(\.\d+)?$`)

// domainIDFormat enforces the data-model invariant that a domain id is
// made of printable, non-control characters containing neither "@" nor
// "#", so it can never be mistaken for the domain half of an account or
// asset id.
var domainIDFormat = regexp.MustCompile(`^[^\x00-\x1f\x7f@#]+$`)

// Reader is the read side of state the validator needs. *store.Store
// satisfies it.
type Reader interface {
	GetAccount(id string) (*types.Account, error)
	GetAccountRoles(id string) ([]string, error)
	GetRole(id string) (*types.Role, error)
	GetLastSeenNonce(signerID string) (uint64, error)
}

// Validator runs the five ordered read-only checks against a Reader.
type Validator struct {
	store Reader
}

// New returns a Validator reading from store.
func New(store Reader) *Validator {
	return &Validator{store: store}
}

// Validate runs all five checks in order, stopping at the first
// failure, and never mutates state.
func (v *Validator) Validate(tx types.Transaction) error {
	account, err := v.checkSignature(tx)
	if err != nil {
		return err
	}
	if err := checkStructure(tx.Body); err != nil {
		return err
	}
	if err := v.checkNonce(tx.Body); err != nil {
		return err
	}
	permissions, err := v.permissionSet(account)
	if err != nil {
		return err
	}
	if err := checkPermissions(tx.Body.Instructions, permissions); err != nil {
		return err
	}
	for _, instr := range tx.Body.Instructions {
		if err := checkInstructionStructure(instr); err != nil {
			return err
		}
	}
	return nil
}

// checkSignature requires the signer account to already exist in
// state (genesis paths do not traverse this validator) and its
// registered public key to verify the signature over canonical(body).
func (v *Validator) checkSignature(tx types.Transaction) (*types.Account, error) {
	if tx.Body.SignerID == "" {
		return nil, fail(CodeMissingSignerID, "signer_id is empty")
	}
	account, err := v.store.GetAccount(tx.Body.SignerID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fail(CodeInvalidSignature, "unknown signer %q", tx.Body.SignerID)
	}
	payload, err := types.TxSigningPayload(tx.Body)
	if err != nil {
		return nil, fail(CodeInvalidSignature, "could not compute signing payload: %v", err)
	}
	if !crypto.Verify(account.PublicKey, string(payload), tx.Signature) {
		return nil, fail(CodeInvalidSignature, "signature does not verify for signer %q", tx.Body.SignerID)
	}
	return account, nil
}

func checkStructure(body types.TxBody) error {
	if body.ChainID == "" {
		return fail(CodeMissingChainID, "chain_id is empty")
	}
	if body.SignerID == "" {
		return fail(CodeMissingSignerID, "signer_id is empty")
	}
	if _, domain, ok := types.ParseAccountID(body.SignerID); !ok {
		return fail(CodeInvalidSignerFormat, "signer_id %q does not parse as name@domain", body.SignerID)
	} else if len(domain) > maxDomainLen {
		return fail(CodeInvalidDomainLength, "signer domain %q exceeds %d characters", domain, maxDomainLen)
	}
	if len(body.Instructions) == 0 {
		return fail(CodeInvalidInstructions, "instructions list is empty")
	}
	if body.CreatedAt <= 0 {
		return fail(CodeInvalidCreatedAt, "created_at must be positive, got %d", body.CreatedAt)
	}
	return nil
}

// checkNonce enforces strict per-signer monotonicity against the
// persisted last-seen nonce.
func (v *Validator) checkNonce(body types.TxBody) error {
	last, err := v.store.GetLastSeenNonce(body.SignerID)
	if err != nil {
		return err
	}
	if body.Nonce <= last {
		return fail(CodeInvalidNonce, "nonce %d is not greater than last seen nonce %d for %q", body.Nonce, last, body.SignerID)
	}
	return nil
}

// permissionSet is the union of permissions across every role held by
// the signer.
func (v *Validator) permissionSet(account *types.Account) (map[string]bool, error) {
	roleIDs, err := v.store.GetAccountRoles(account.ID)
	if err != nil {
		return nil, err
	}
	perms := make(map[string]bool)
	for _, roleID := range roleIDs {
		role, err := v.store.GetRole(roleID)
		if err != nil {
			return nil, err
		}
		if role == nil {
			continue
		}
		for _, p := range role.Permissions {
			perms[p] = true
		}
	}
	return perms, nil
}

func checkPermissions(instructions []types.Instruction, perms map[string]bool) error {
	if perms["*"] {
		return nil
	}
	for _, instr := range instructions {
		if !perms[instr.RequiredPermission()] {
			return fail(CodePermissionDenied, "missing permission %q", instr.RequiredPermission())
		}
	}
	return nil
}

// checkInstructionStructure validates identifier shapes, precision,
// and amount format per instruction variant.
func checkInstructionStructure(instr types.Instruction) error {
	switch instr.Kind {
	case types.KindRegisterDomain:
		return checkDomainID(instr.DomainID)
	case types.KindRegisterAccount:
		if err := checkAccountID(instr.AccountID); err != nil {
			return err
		}
		if instr.PublicKey == "" {
			return fail(CodeInvalidPublicKey, "public_key is empty")
		}
		return nil
	case types.KindRegisterAsset:
		if err := checkAssetID(instr.AssetID); err != nil {
			return err
		}
		if instr.Precision < 0 || instr.Precision > maxPrecision {
			return fail(CodeInvalidPrecision, "precision %d out of range [0,%d]", instr.Precision, maxPrecision)
		}
		return nil
	case types.KindMintAsset, types.KindBurnAsset:
		if err := checkAssetID(instr.AssetID); err != nil {
			return err
		}
		if err := checkAccountID(instr.AccountID); err != nil {
			return err
		}
		return checkAmount(instr.Amount)
	case types.KindTransferAsset:
		if err := checkAssetID(instr.AssetID); err != nil {
			return err
		}
		if err := checkAccountIDAs(instr.SrcAccountID, CodeInvalidSrcAccount); err != nil {
			return err
		}
		if err := checkAccountIDAs(instr.DstAccountID, CodeInvalidDestAccount); err != nil {
			return err
		}
		return checkAmount(instr.Amount)
	case types.KindGrantRole, types.KindRevokeRole:
		if instr.RoleID == "" {
			return fail(CodeInvalidRoleID, "role_id is empty")
		}
		return checkAccountID(instr.AccountID)
	default:
		return fail(CodeUnknownInstruction, "unrecognized instruction kind %q", instr.Kind)
	}
}

func checkDomainID(id string) error {
	if id == "" {
		return fail(CodeInvalidDomainID, "domain id is empty")
	}
	if len(id) > maxDomainLen {
		return fail(CodeInvalidDomainLength, "domain id %q exceeds %d characters", id, maxDomainLen)
	}
	if !domainIDFormat.MatchString(id) {
		return fail(CodeInvalidDomainID, "domain id %q must be printable characters without \"@\" or \"#\"", id)
	}
	return nil
}

func checkAccountID(id string) error { return checkAccountIDAs(id, CodeInvalidAccountID) }

func checkAccountIDAs(id string, code Code) error {
	name, domain, ok := types.ParseAccountID(id)
	if !ok {
		return fail(CodeInvalidAccountFmt, "account id %q does not parse as name@domain", id)
	}
	if len(name)+len(domain) > maxAccountLen {
		return fail(code, "account id %q exceeds %d characters", id, maxAccountLen)
	}
	return nil
}

func checkAssetID(id string) error {
	symbol, domain, ok := types.ParseAssetID(id)
	if !ok {
		return fail(CodeInvalidAssetFmt, "asset id %q does not parse as symbol#domain", id)
	}
	if len(symbol)+len(domain) > maxAssetLen {
		return fail(CodeInvalidAssetID, "asset id %q exceeds %d characters", id, maxAssetLen)
	}
	return nil
}

func checkAmount(amount string) error {
	if !amountFormat.MatchString(amount) {
		return fail(CodeInvalidAmountFmt, "amount %q is not a valid decimal", amount)
	}
	return nil
}
