package model

import "time"

// Transaction is a single transfer waiting for, or embedded in, a block.
// No signature or balance check is attached to it.
type Transaction struct {
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
}

// Block is one sealed link of the chain. Blocks are never mutated once they
// have been appended; readers always receive copies.
type Block struct {
	Index        int           `json:"index"`     // 1-based position in the chain
	Timestamp    float64       `json:"timestamp"` // seconds since the Unix epoch
	Transactions []Transaction `json:"transactions"`
	Proof        int64         `json:"proof"`
	PreviousHash string        `json:"previous_hash"`
}

// Time returns the block timestamp as a time.Time in UTC.
func (b Block) Time() time.Time {
	sec := int64(b.Timestamp)
	nsec := int64((b.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Clone returns a deep copy of b. The copy never shares its transaction
// slice with the original, and always carries a non-nil slice.
func (b Block) Clone() Block {
	out := b
	out.Transactions = CloneTransactions(b.Transactions)
	return out
}

// CloneTransactions copies txs into a fresh, non-nil slice.
func CloneTransactions(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out
}

// Timestamp converts t into the float seconds representation stored on blocks.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
