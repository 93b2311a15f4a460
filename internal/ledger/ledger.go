// Package ledger implements an append-only chain of proof-of-work blocks and
// the pool of transactions waiting for the next block.
//
// The chain begins with a genesis block whose PreviousHash is the sentinel
// GenesisPreviousHash. Every later block records the hasher digest of its
// predecessor and carries a proof that solves the puzzle posed by the
// predecessor's proof, making any tampering detectable via VerifyChain.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/powledger/internal/hasher"
	"github.com/jmerrifield20/powledger/internal/model"
	"github.com/jmerrifield20/powledger/internal/pow"
	"go.uber.org/zap"
)

const (
	// GenesisPreviousHash is the sentinel predecessor hash of the genesis block.
	GenesisPreviousHash = "1"

	// GenesisProof seeds the proof-of-work sequence.
	GenesisProof int64 = 100
)

// Errors returned by Ledger methods. Callers can recover from
// ErrInvalidProof, ErrInvalidTransaction and ErrPreviousHashMismatch by
// fixing the input and retrying.
var (
	ErrInvalidProof         = errors.New("invalid proof")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrEmptyChain           = errors.New("chain is empty")
	ErrPreviousHashMismatch = errors.New("previous hash does not match last block")
	ErrBlockNotFound        = errors.New("block not found")
)

// Ledger owns the chain and the pending transaction pool. All methods are
// safe for concurrent use; each mutating call holds the write lock for its
// full duration.
type Ledger struct {
	mu      sync.RWMutex
	chain   []model.Block
	pending []model.Transaction

	pow    *pow.ProofOfWork
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to timestamp new blocks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger whose chain holds only the genesis block.
// p decides which proofs NewBlock accepts.
func New(p *pow.ProofOfWork, opts ...Option) *Ledger {
	l := &Ledger{
		pow:    p,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	genesis := l.seal(GenesisProof, GenesisPreviousHash)
	l.logger.Debug("genesis block created",
		zap.Int("index", genesis.Index),
		zap.Int64("proof", genesis.Proof),
	)
	return l
}

// NewTransaction adds a transaction to the pending pool and returns the index
// of the block expected to contain it. The index is advisory: it reflects the
// chain at call time only.
func (l *Ledger) NewTransaction(sender, recipient string, amount float64) (int, error) {
	tx := model.Transaction{Sender: sender, Recipient: recipient, Amount: amount}
	if err := ValidateTransaction(tx); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.chain) == 0 {
		return 0, ErrEmptyChain
	}
	l.pending = append(l.pending, tx)
	return l.chain[len(l.chain)-1].Index + 1, nil
}

// NewBlock seals the pending transactions into a new block carrying proof.
//
// proof must solve the puzzle posed by the last block's proof, otherwise
// ErrInvalidProof is returned. previousHash may be empty, in which case it is
// computed from the last block; a non-empty value must equal that hash or
// ErrPreviousHashMismatch is returned. On error neither the chain nor the
// pending pool is modified.
func (l *Ledger) NewBlock(proof int64, previousHash string) (model.Block, error) {
	return l.newBlock(proof, previousHash, nil)
}

// NewBlockWithReward is like NewBlock but appends reward after the pending
// transactions of the sealed block. The reward never enters the pending pool.
func (l *Ledger) NewBlockWithReward(proof int64, previousHash string, reward model.Transaction) (model.Block, error) {
	if err := ValidateTransaction(reward); err != nil {
		return model.Block{}, fmt.Errorf("reward: %w", err)
	}
	return l.newBlock(proof, previousHash, &reward)
}

func (l *Ledger) newBlock(proof int64, previousHash string, reward *model.Transaction) (model.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.chain) == 0 {
		return model.Block{}, ErrEmptyChain
	}
	last := l.chain[len(l.chain)-1]

	if proof < 0 {
		return model.Block{}, fmt.Errorf("%w: negative proof %d", ErrInvalidProof, proof)
	}
	if !l.pow.IsValid(last.Proof, proof) {
		return model.Block{}, fmt.Errorf("%w: %d does not solve last proof %d at difficulty %d",
			ErrInvalidProof, proof, last.Proof, l.pow.Difficulty())
	}

	lastHash := hasher.Hash(last)
	if previousHash == "" {
		previousHash = lastHash
	} else if previousHash != lastHash {
		return model.Block{}, fmt.Errorf("%w: got %q, last block %d hashes to %q",
			ErrPreviousHashMismatch, previousHash, last.Index, lastHash)
	}

	if reward != nil {
		l.pending = append(l.pending, *reward)
	}
	block := l.seal(proof, previousHash)

	l.logger.Info("block sealed",
		zap.Int("index", block.Index),
		zap.Int64("proof", block.Proof),
		zap.Int("transactions", len(block.Transactions)),
		zap.String("previous_hash", block.PreviousHash),
	)
	return block.Clone(), nil
}

// seal snapshots the pending pool into a new block, clears the pool and
// appends the block. Callers must hold l.mu or own l exclusively.
func (l *Ledger) seal(proof int64, previousHash string) model.Block {
	block := model.Block{
		Index:        len(l.chain) + 1,
		Timestamp:    model.Timestamp(l.now()),
		Transactions: model.CloneTransactions(l.pending),
		Proof:        proof,
		PreviousHash: previousHash,
	}
	l.pending = nil
	l.chain = append(l.chain, block)
	return block
}

// LastBlock returns the most recently appended block.
func (l *Ledger) LastBlock() (model.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.chain) == 0 {
		return model.Block{}, ErrEmptyChain
	}
	return l.chain[len(l.chain)-1].Clone(), nil
}

// Block returns the block at the given 1-based index.
func (l *Ledger) Block(index int) (model.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 1 || index > len(l.chain) {
		return model.Block{}, fmt.Errorf("%w: index %d", ErrBlockNotFound, index)
	}
	return l.chain[index-1].Clone(), nil
}

// Chain returns a deep copy of the whole chain, genesis first.
func (l *Ledger) Chain() []model.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = b.Clone()
	}
	return out
}

// Len returns the number of blocks, including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// PendingTransactions returns a copy of the pending pool in insertion order.
func (l *Ledger) PendingTransactions() []model.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return model.CloneTransactions(l.pending)
}

// Hash returns the digest of b. See package hasher.
//
// Blocks read from the ledger always hash. A caller-built block holding a
// non-finite amount cannot be encoded and makes Hash panic; use VerifyChain
// to check untrusted blocks, which reports that case as an error.
func (l *Ledger) Hash(b model.Block) string {
	return hasher.Hash(b)
}

// ProofOfWork returns the puzzle this ledger enforces.
func (l *Ledger) ProofOfWork() *pow.ProofOfWork {
	return l.pow
}

// IsChainValid reports whether chain satisfies the linkage, indexing and
// proof rules under this ledger's difficulty.
func (l *Ledger) IsChainValid(chain []model.Block) bool {
	return VerifyChain(chain, l.pow) == nil
}

// Verify checks the ledger's own chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyChain(l.chain, l.pow)
}

// ValidateTransaction checks that both parties are named and that the amount
// is a finite, non-negative number.
func ValidateTransaction(tx model.Transaction) error {
	switch {
	case strings.TrimSpace(tx.Sender) == "":
		return fmt.Errorf("%w: sender is empty", ErrInvalidTransaction)
	case strings.TrimSpace(tx.Recipient) == "":
		return fmt.Errorf("%w: recipient is empty", ErrInvalidTransaction)
	case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0):
		return fmt.Errorf("%w: amount is not a finite number", ErrInvalidTransaction)
	case tx.Amount < 0:
		return fmt.Errorf("%w: amount %v is negative", ErrInvalidTransaction, tx.Amount)
	}
	return nil
}
