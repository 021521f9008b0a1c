// Package types defines the core data model of the miniroha ledger:
// domains, accounts, assets, balances, roles, validators, blocks and
// transactions, plus the canonical serialization used to sign and hash
// them.
package types

import (
	"fmt"
	"strings"
)

// Domain is a top-level namespace containing accounts and assets.
type Domain struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Account is a named identity within a domain, bound to a public key
// and a set of roles. Its ID is written "name@domain".
type Account struct {
	ID        string   `json:"id"`
	PublicKey string   `json:"public_key"`
	Roles     []string `json:"roles"`
	CreatedAt int64    `json:"created_at"`
}

// Asset is a fungible token class scoped to a domain, written
// "symbol#domain", with a fixed decimal precision in [0, 18].
type Asset struct {
	ID        string `json:"id"`
	Precision int    `json:"precision"`
	CreatedAt int64  `json:"created_at"`
}

// Balance is a per-account holding of a specific asset, measured in
// the asset's smallest unit. A balance that would reach zero is
// removed from the store rather than stored as zero.
type Balance struct {
	AssetID   string `json:"asset_id"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"` // decimal string, arbitrary precision
}

// Role is a named set of permissions granted to accounts. A
// permission is either the literal wildcard "*" or the exact name of
// an instruction variant.
type Role struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions"`
}

// Validator is a node participating in BFT consensus.
type Validator struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// BlockHeader carries a block's metadata.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	PrevHash  string `json:"prev_hash"`
	Timestamp int64  `json:"timestamp"`
	TxRoot    string `json:"tx_root,omitempty"`
	StateRoot string `json:"state_root,omitempty"`
}

// Block is a signed, ordered list of transactions chained to its
// predecessor by the hash of the predecessor's header.
type Block struct {
	Header       BlockHeader   `json:"header"`
	Transactions []Transaction `json:"transactions"`
	ProposerID   string        `json:"proposer_id"`
	Signature    string        `json:"signature"`
}

// TxBody is the signed content of a transaction.
type TxBody struct {
	ChainID      string        `json:"chain_id"`
	SignerID     string        `json:"signer_id"`
	Nonce        uint64        `json:"nonce"`
	CreatedAt    int64         `json:"created_at"`
	Instructions []Instruction `json:"instructions"`
}

// Transaction is a signed envelope carrying a nonced, chain-scoped
// list of instructions from one signer.
type Transaction struct {
	Body      TxBody `json:"body"`
	Signature string `json:"signature"`
}

// InstructionKind discriminates the eight instruction variants.
type InstructionKind string

const (
	KindRegisterDomain  InstructionKind = "RegisterDomain"
	KindRegisterAccount InstructionKind = "RegisterAccount"
	KindRegisterAsset   InstructionKind = "RegisterAsset"
	KindMintAsset       InstructionKind = "MintAsset"
	KindBurnAsset       InstructionKind = "BurnAsset"
	KindTransferAsset   InstructionKind = "TransferAsset"
	KindGrantRole       InstructionKind = "GrantRole"
	KindRevokeRole      InstructionKind = "RevokeRole"
)

// Instruction is a tagged sum over the eight instruction variants.
// Fields not meaningful for a given Kind are left zero-valued.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	// RegisterDomain
	DomainID string `json:"domain_id,omitempty"`

	// RegisterAccount
	AccountID string `json:"account_id,omitempty"`
	PublicKey string `json:"public_key,omitempty"`

	// RegisterAsset
	AssetID   string `json:"asset_id,omitempty"`
	Precision int    `json:"precision,omitempty"`

	// MintAsset / BurnAsset (AssetID, AccountID above, Amount below)
	Amount string `json:"amount,omitempty"`

	// TransferAsset
	SrcAccountID string `json:"src_account_id,omitempty"`
	DstAccountID string `json:"dst_account_id,omitempty"`

	// GrantRole / RevokeRole
	RoleID string `json:"role_id,omitempty"`
}

// RequiredPermission returns the permission token an instruction
// requires: the exact name of its variant.
func (i Instruction) RequiredPermission() string {
	return string(i.Kind)
}

// ParseAccountID splits "name@domain" into its parts.
func ParseAccountID(id string) (name, domain string, ok bool) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseAssetID splits "symbol#domain" into its parts.
func ParseAssetID(id string) (symbol, domain string, ok bool) {
	parts := strings.SplitN(id, "#", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// AccountID composes a "name@domain" account identifier.
func AccountID(name, domain string) string {
	return fmt.Sprintf("%s@%s", name, domain)
}

// AssetTypeID composes a "symbol#domain" asset identifier.
func AssetTypeID(symbol, domain string) string {
	return fmt.Sprintf("%s#%s", symbol, domain)
}

// ValidatorSet is the static set of validators participating in
// consensus, sorted by ID so every honest node agrees on proposer
// rotation order.
type ValidatorSet struct {
	byID    map[string]*Validator
	ordered []string
}

// NewValidatorSet builds a validator set from an unordered slice,
// sorting IDs so all nodes derive the same proposer schedule.
func NewValidatorSet(validators []*Validator) *ValidatorSet {
	vs := &ValidatorSet{byID: make(map[string]*Validator, len(validators))}
	for _, v := range validators {
		vs.byID[v.ID] = v
	}
	vs.ordered = make([]string, 0, len(vs.byID))
	for id := range vs.byID {
		vs.ordered = append(vs.ordered, id)
	}
	sortStrings(vs.ordered)
	return vs
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Size returns the number of validators.
func (vs *ValidatorSet) Size() int { return len(vs.ordered) }

// ByID returns a validator by ID, or nil if unknown.
func (vs *ValidatorSet) ByID(id string) *Validator { return vs.byID[id] }

// IDs returns the validator IDs in canonical (sorted) order.
func (vs *ValidatorSet) IDs() []string {
	out := make([]string, len(vs.ordered))
	copy(out, vs.ordered)
	return out
}

// ProposerAt returns the proposer ID for height h, round r:
// sorted_validator_ids[(h + r) mod n].
func (vs *ValidatorSet) ProposerAt(height, round uint64) string {
	n := uint64(len(vs.ordered))
	if n == 0 {
		return ""
	}
	return vs.ordered[(height+round)%n]
}

// FaultTolerance returns f = floor((n-1)/3).
func (vs *ValidatorSet) FaultTolerance() int {
	n := len(vs.ordered)
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// Quorum returns Q = 2f+1.
func (vs *ValidatorSet) Quorum() int {
	return 2*vs.FaultTolerance() + 1
}
