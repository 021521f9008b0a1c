package block

import (
	"github.com/miniroha/miniroha/crypto"
	"github.com/miniroha/miniroha/types"
)

// Hash returns the content hash identifying a block for consensus
// purposes: hash(canonical({header, transactions, proposer_id})).
func Hash(b types.Block) (string, error) {
	payload, err := types.BlockSigningPayload(b)
	if err != nil {
		return "", err
	}
	return crypto.Hash(payload), nil
}

// HeaderHash returns hash(canonical(header)), the value a block's
// prev_hash points at.
func HeaderHash(h types.BlockHeader) (string, error) {
	payload, err := types.BlockHeaderPayload(h)
	if err != nil {
		return "", err
	}
	return crypto.Hash(payload), nil
}
