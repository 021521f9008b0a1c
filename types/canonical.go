package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical produces the deterministic byte encoding used for signing
// and hashing: JSON text in which every object's keys appear in
// ascending lexicographic order at every nesting level. Arrays
// preserve source order.
//
// The teacher's shallow, top-level-only key sort (Object.keys(obj).sort())
// is not replicated here: nested objects in signed payloads (block
// headers embedded in blocks, instructions embedded in tx bodies) are
// not flat, so a shallow sort would not be deterministic across
// semantically-equal values with different field insertion order.
// This implementation sorts recursively, per spec.md's stated safer
// choice.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: unmarshal: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// TxSigningPayload returns the canonical bytes signed by a
// transaction's signer: canonical(body).
func TxSigningPayload(body TxBody) ([]byte, error) {
	return Canonical(body)
}

// blockSigningPayload is the shape signed by a block's proposer:
// canonical({header, transactions, proposer_id}).
type blockSigningPayload struct {
	Header       BlockHeader   `json:"header"`
	Transactions []Transaction `json:"transactions"`
	ProposerID   string        `json:"proposer_id"`
}

// BlockSigningPayload returns the canonical bytes signed by a block's
// proposer.
func BlockSigningPayload(b Block) ([]byte, error) {
	return Canonical(blockSigningPayload{
		Header:       b.Header,
		Transactions: b.Transactions,
		ProposerID:   b.ProposerID,
	})
}

// BlockHeaderPayload returns the canonical bytes hashed to produce a
// block's header hash, the value its successor's prev_hash holds:
// canonical(header).
func BlockHeaderPayload(h BlockHeader) ([]byte, error) {
	return Canonical(h)
}
