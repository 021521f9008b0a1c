package bft

import (
	"github.com/miniroha/miniroha/types"
)

// Proposal is broadcast by the round's proposer.
type Proposal struct {
	Height      uint64      `json:"height"`
	Round       uint64      `json:"round"`
	ValidatorID string      `json:"validator_id"`
	BlockHash   string      `json:"block_hash"`
	Block       types.Block `json:"block"`
	Signature   string      `json:"signature"`
}

// PreVote is a validator's vote in the prevote step. An empty
// BlockHash denotes a nil vote.
type PreVote struct {
	Height      uint64 `json:"height"`
	Round       uint64 `json:"round"`
	ValidatorID string `json:"validator_id"`
	BlockHash   string `json:"block_hash,omitempty"`
	Signature   string `json:"signature"`
}

// PreCommit is a validator's vote in the precommit step. An empty
// BlockHash denotes a nil vote.
type PreCommit struct {
	Height      uint64 `json:"height"`
	Round       uint64 `json:"round"`
	ValidatorID string `json:"validator_id"`
	BlockHash   string `json:"block_hash,omitempty"`
	Signature   string `json:"signature"`
}

// Envelope carries exactly one of the three message kinds across the
// wire (gRPC between validators, or the /consensus HTTP endpoint).
type Envelope struct {
	Kind      string     `json:"kind"` // "proposal" | "prevote" | "precommit"
	Proposal  *Proposal  `json:"proposal,omitempty"`
	PreVote   *PreVote   `json:"prevote,omitempty"`
	PreCommit *PreCommit `json:"precommit,omitempty"`
}

const (
	KindProposal  = "proposal"
	KindPreVote   = "prevote"
	KindPreCommit = "precommit"
)

// votePayload is the canonical shape signed by prevotes and
// precommits: canonical({type, height, round, block_hash}).
type votePayload struct {
	Type      string `json:"type"`
	Height    uint64 `json:"height"`
	Round     uint64 `json:"round"`
	BlockHash string `json:"block_hash"`
}

func voteSigningPayload(kind string, height, round uint64, blockHash string) ([]byte, error) {
	return types.Canonical(votePayload{Type: kind, Height: height, Round: round, BlockHash: blockHash})
}

// Transport delivers this node's messages to the rest of the
// validator set. Implementations (transport.Node) do not know about
// the engine's internals, only how to move an Envelope.
type Transport interface {
	Broadcast(Envelope) error
}
