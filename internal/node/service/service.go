// Package service runs a mining node on top of a ledger: it accepts
// transactions, searches for proofs off the ledger's lock, and credits the
// node with a reward for every block it seals.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/model"
	"github.com/jmerrifield20/powledger/internal/pow"
	"go.uber.org/zap"
)

// RewardSender is the sender of the reward transaction a node credits to
// itself for sealing a block.
const RewardSender = "0"

// DefaultReward is the amount credited per sealed block.
const DefaultReward = 1.0

// ErrMiningCancelled wraps a context error that aborted the proof search.
var ErrMiningCancelled = errors.New("mining cancelled")

// Config holds node service configuration.
type Config struct {
	NodeID       string        // reward recipient; a random UUID when empty
	Reward       float64       // amount credited per block; 0 = DefaultReward
	SolveTimeout time.Duration // upper bound on a single proof search; 0 = none
}

// MineResult is returned by Mine.
type MineResult struct {
	Block    model.Block
	Attempts uint64
	Elapsed  time.Duration
}

// MinedRecordFunc is an optional callback invoked after each sealed block.
type MinedRecordFunc func(attempts uint64, elapsed time.Duration)

// PoolRecordFunc is an optional callback invoked whenever the pending pool
// or the chain changes size.
type PoolRecordFunc func(pending, chainLen int)

// Service is a single mining node.
type Service struct {
	ledger *ledger.Ledger
	pow    *pow.ProofOfWork
	cfg    Config

	// mineMu serialises Mine calls. It is never held together with the
	// ledger lock across the proof search.
	mineMu sync.Mutex

	onMined MinedRecordFunc
	onPool  PoolRecordFunc
	logger  *zap.Logger
}

// New creates a Service. The ledger and the service must share p.
func New(l *ledger.Ledger, cfg Config, logger *zap.Logger) *Service {
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.Reward == 0 {
		cfg.Reward = DefaultReward
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger: l,
		pow:    l.ProofOfWork(),
		cfg:    cfg,
		logger: logger,
	}
}

// SetMinedRecorder configures the block-mined metrics callback.
func (s *Service) SetMinedRecorder(fn MinedRecordFunc) {
	s.onMined = fn
}

// SetPoolRecorder configures the pool/chain size metrics callback.
func (s *Service) SetPoolRecorder(fn PoolRecordFunc) {
	s.onPool = fn
	s.recordPool()
}

// NodeID returns the identifier credited with mining rewards.
func (s *Service) NodeID() string { return s.cfg.NodeID }

// Reward returns the amount credited per sealed block.
func (s *Service) Reward() float64 { return s.cfg.Reward }

// Difficulty returns the proof-of-work difficulty the node mines at.
func (s *Service) Difficulty() int { return s.pow.Difficulty() }

// Ledger returns the underlying ledger for read access.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// SubmitTransaction adds a transaction to the pending pool and returns the
// index of the block expected to contain it.
func (s *Service) SubmitTransaction(_ context.Context, sender, recipient string, amount float64) (int, error) {
	idx, err := s.ledger.NewTransaction(sender, recipient, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("transaction accepted",
		zap.String("sender", sender),
		zap.String("recipient", recipient),
		zap.Float64("amount", amount),
		zap.Int("block_index", idx),
	)
	s.recordPool()
	return idx, nil
}

// Mine searches for a proof against the current tip on a worker goroutine,
// then seals the pending transactions plus a reward for this node.
//
// Transactions may still be submitted while the search runs; they are
// included in the block if they arrive before it is sealed. The block is
// sealed only if the tip is unchanged since the search started.
func (s *Service) Mine(ctx context.Context) (*MineResult, error) {
	s.mineMu.Lock()
	defer s.mineMu.Unlock()

	if s.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SolveTimeout)
		defer cancel()
	}

	tip, err := s.ledger.LastBlock()
	if err != nil {
		return nil, fmt.Errorf("read tip: %w", err)
	}
	tipHash := s.ledger.Hash(tip)

	s.logger.Info("mining started",
		zap.Int("next_index", tip.Index+1),
		zap.Int64("last_proof", tip.Proof),
		zap.Int("difficulty", s.pow.Difficulty()),
	)

	res := <-s.pow.SolveAsync(ctx, tip.Proof)
	if res.Err != nil {
		s.logger.Warn("mining aborted", zap.Error(res.Err), zap.Duration("elapsed", res.Elapsed))
		return nil, fmt.Errorf("%w: %w", ErrMiningCancelled, res.Err)
	}

	reward := model.Transaction{
		Sender:    RewardSender,
		Recipient: s.cfg.NodeID,
		Amount:    s.cfg.Reward,
	}
	block, err := s.ledger.NewBlockWithReward(res.Proof, tipHash, reward)
	if err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}

	s.logger.Info("block mined",
		zap.Int("index", block.Index),
		zap.Int64("proof", block.Proof),
		zap.Uint64("attempts", res.Attempts),
		zap.Duration("elapsed", res.Elapsed),
	)
	if s.onMined != nil {
		s.onMined(res.Attempts, res.Elapsed)
	}
	s.recordPool()

	return &MineResult{Block: block, Attempts: res.Attempts, Elapsed: res.Elapsed}, nil
}

// Verify checks the node's chain.
func (s *Service) Verify(_ context.Context) error {
	return s.ledger.Verify()
}

func (s *Service) recordPool() {
	if s.onPool != nil {
		s.onPool(len(s.ledger.PendingTransactions()), s.ledger.Len())
	}
}
