package ledger

import (
	"fmt"

	"github.com/jmerrifield20/powledger/internal/hasher"
	"github.com/jmerrifield20/powledger/internal/model"
	"github.com/jmerrifield20/powledger/internal/pow"
)

// IntegrityError describes the first rule a chain breaks.
type IntegrityError struct {
	Index  int // 1-based position of the offending block; 0 for an empty chain
	Reason string

	cause error
}

func (e *IntegrityError) Error() string {
	if e.Index == 0 {
		return "chain integrity violation: " + e.Reason
	}
	return fmt.Sprintf("chain integrity violation at block %d: %s", e.Index, e.Reason)
}

// Unwrap exposes the sentinel behind the violation, if any (ErrEmptyChain).
func (e *IntegrityError) Unwrap() error { return e.cause }

// VerifyChain walks chain and returns an *IntegrityError for the first block
// that breaks a rule, or nil if the chain is intact:
//   - the chain is not empty;
//   - block i carries index i;
//   - every proof is non-negative;
//   - every non-genesis block's PreviousHash equals the digest of its predecessor;
//   - every non-genesis block's proof is valid against its predecessor's proof.
//
// The genesis block's PreviousHash is a sentinel and is not checked.
func VerifyChain(chain []model.Block, p *pow.ProofOfWork) error {
	if len(chain) == 0 {
		return &IntegrityError{Reason: "chain is empty", cause: ErrEmptyChain}
	}
	if p == nil {
		return &IntegrityError{Reason: "no proof-of-work configured"}
	}

	for i, curr := range chain {
		pos := i + 1
		if curr.Index != pos {
			return &IntegrityError{Index: pos, Reason: fmt.Sprintf("stored index %d", curr.Index)}
		}
		if curr.Proof < 0 {
			return &IntegrityError{Index: pos, Reason: fmt.Sprintf("negative proof %d", curr.Proof)}
		}
		if i == 0 {
			continue
		}

		prev := chain[i-1]
		data, err := hasher.Encode(prev)
		if err != nil {
			return &IntegrityError{Index: pos - 1, Reason: "block cannot be encoded: " + err.Error()}
		}
		if curr.PreviousHash != hasher.Sum(data) {
			return &IntegrityError{Index: pos, Reason: "previous hash does not match predecessor"}
		}
		if !p.IsValid(prev.Proof, curr.Proof) {
			return &IntegrityError{Index: pos, Reason: fmt.Sprintf("proof %d does not solve %d", curr.Proof, prev.Proof)}
		}
	}
	return nil
}
