// Package txvalidator implements the read-only transaction validator:
// five ordered checks (signature, structure, nonce, permissions,
// per-instruction structure), stopping at the first failure.
package txvalidator

import "fmt"

// Code is one of the flat ValidationError taxonomy members.
type Code string

const (
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeMissingChainID      Code = "MISSING_CHAIN_ID"
	CodeMissingSignerID     Code = "MISSING_SIGNER_ID"
	CodeInvalidNonce        Code = "INVALID_NONCE"
	CodeInvalidCreatedAt    Code = "INVALID_CREATED_AT"
	CodeInvalidInstructions Code = "INVALID_INSTRUCTIONS"
	CodeInvalidSignerFormat Code = "INVALID_SIGNER_FORMAT"
	CodeInvalidDomainID     Code = "INVALID_DOMAIN_ID"
	CodeInvalidDomainLength Code = "INVALID_DOMAIN_LENGTH"
	CodeInvalidAccountID    Code = "INVALID_ACCOUNT_ID"
	CodeInvalidAccountFmt   Code = "INVALID_ACCOUNT_FORMAT"
	CodeInvalidPublicKey    Code = "INVALID_PUBLIC_KEY"
	CodeInvalidAssetID      Code = "INVALID_ASSET_ID"
	CodeInvalidAssetFmt     Code = "INVALID_ASSET_FORMAT"
	CodeInvalidPrecision    Code = "INVALID_PRECISION"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeInvalidAmountFmt    Code = "INVALID_AMOUNT_FORMAT"
	CodeInvalidSrcAccount   Code = "INVALID_SRC_ACCOUNT"
	CodeInvalidDestAccount  Code = "INVALID_DEST_ACCOUNT"
	CodeInvalidRoleID       Code = "INVALID_ROLE_ID"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeUnknownInstruction  Code = "UNKNOWN_INSTRUCTION"
)

// Error is a single validation failure carrying a stable code, the way
// the API surface reports {error, message|details} to callers.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func fail(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
