package store

import "fmt"

// Key layout, per the miniroha state store contract. Every component
// reads and writes through these helpers rather than composing keys
// inline, so the layout stays in one place.
const (
	prefixDomain       = "domains/"
	prefixAccount      = "accounts/"
	prefixAccountRoles = "account_roles/"
	prefixAsset        = "assets/"
	prefixBalance      = "balances/"
	prefixRole         = "roles/"
	prefixValidator    = "validators/"
	prefixBlock        = "blocks/"
	prefixBlockByHash  = "blocks_by_hash/"
	prefixTx           = "txs/"
	prefixNonce        = "nonces/"

	keyChainID    = "chain_id"
	keyLastHeight = "last_height"
)

func domainKey(id string) []byte  { return []byte(prefixDomain + id) }
func accountKey(id string) []byte { return []byte(prefixAccount + id) }
func accountRolesKey(id string) []byte {
	return []byte(prefixAccountRoles + id)
}
func assetKey(id string) []byte { return []byte(prefixAsset + id) }
func balanceKey(assetID, accountID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixBalance, assetID, accountID))
}
func roleKey(id string) []byte      { return []byte(prefixRole + id) }
func validatorKey(id string) []byte { return []byte(prefixValidator + id) }
func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixBlock, height))
}
func blockByHashKey(hash string) []byte { return []byte(prefixBlockByHash + hash) }
func txKey(hash string) []byte          { return []byte(prefixTx + hash) }
func nonceKey(signerID string) []byte   { return []byte(prefixNonce + signerID) }
