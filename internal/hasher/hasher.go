// Package hasher computes the canonical SHA-256 digest of a block.
//
// A block is serialised as compact JSON with its fields written in
// lexicographic key order (index, previous_hash, proof, timestamp,
// transactions) and each transaction as (amount, recipient, sender).
// Transactions keep the order in which they were stored on the block.
// The field order is part of the digest contract and must not change.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jmerrifield20/powledger/internal/model"
)

// canonicalTx and canonicalBlock fix the serialised key order.
// Keep the struct fields sorted by their JSON name.
type canonicalTx struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	Sender    string  `json:"sender"`
}

type canonicalBlock struct {
	Index        int           `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Proof        int64         `json:"proof"`
	Timestamp    float64       `json:"timestamp"`
	Transactions []canonicalTx `json:"transactions"`
}

// Encode returns the canonical byte representation of b that Hash digests.
func Encode(b model.Block) ([]byte, error) {
	txs := make([]canonicalTx, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		txs = append(txs, canonicalTx{
			Amount:    tx.Amount,
			Recipient: tx.Recipient,
			Sender:    tx.Sender,
		})
	}
	return json.Marshal(canonicalBlock{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		Proof:        b.Proof,
		Timestamp:    b.Timestamp,
		Transactions: txs,
	})
}

// Hash returns the lowercase hex SHA-256 digest of the canonical encoding of b.
//
// Blocks reaching Hash have passed transaction validation, so every amount is
// finite and Encode cannot fail. Should it ever do so, Hash panics rather than
// return a digest that does not cover the block content.
func Hash(b model.Block) string {
	data, err := Encode(b)
	if err != nil {
		panic("hasher: encode block: " + err.Error())
	}
	return Sum(data)
}

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
