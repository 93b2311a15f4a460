// Package pow implements the proof-of-work puzzle that gates block creation.
//
// A candidate proof p is valid against the previous proof q when the hex
// SHA-256 digest of the decimal string q||p starts with Difficulty '0'
// characters. Each extra zero multiplies the expected search cost by 16,
// while checking a solution always costs a single hash.
package pow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmerrifield20/powledger/internal/hasher"
)

const (
	// DefaultDifficulty is the number of leading zero hex digits required
	// when Config.Difficulty is left at its zero value by DefaultConfig.
	DefaultDifficulty = 4

	// DefaultCheckInterval is how many candidates Solve tests between
	// cancellation checks.
	DefaultCheckInterval = 1024

	// MaxDifficulty is the length of a hex SHA-256 digest.
	MaxDifficulty = 64
)

var (
	// ErrInvalidDifficulty is returned by New for a difficulty outside [0, MaxDifficulty].
	ErrInvalidDifficulty = errors.New("invalid difficulty")

	// ErrSearchExhausted is returned by Solve when every non-negative int64
	// candidate has been tried without success.
	ErrSearchExhausted = errors.New("proof search space exhausted")
)

// Config holds proof-of-work parameters.
type Config struct {
	Difficulty    int    // required leading '0' hex digits
	CheckInterval uint64 // candidates tested between cancellation checks; 0 = DefaultCheckInterval
}

// DefaultConfig returns the configuration used by the reference network.
func DefaultConfig() Config {
	return Config{Difficulty: DefaultDifficulty, CheckInterval: DefaultCheckInterval}
}

// ProofOfWork solves and verifies proofs for a fixed difficulty.
// It holds no mutable state and is safe for concurrent use.
type ProofOfWork struct {
	difficulty    int
	prefix        string
	checkInterval uint64
}

// New creates a ProofOfWork from cfg.
func New(cfg Config) (*ProofOfWork, error) {
	if cfg.Difficulty < 0 || cfg.Difficulty > MaxDifficulty {
		return nil, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidDifficulty, cfg.Difficulty, MaxDifficulty)
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &ProofOfWork{
		difficulty:    cfg.Difficulty,
		prefix:        strings.Repeat("0", cfg.Difficulty),
		checkInterval: cfg.CheckInterval,
	}, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(cfg Config) *ProofOfWork {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Difficulty returns the number of leading zero hex digits a proof must produce.
func (p *ProofOfWork) Difficulty() int {
	return p.difficulty
}

// IsValid reports whether proof solves the puzzle posed by lastProof.
func (p *ProofOfWork) IsValid(lastProof, proof int64) bool {
	return strings.HasPrefix(p.digest(lastProof, proof), p.prefix)
}

// digest hashes the decimal concatenation of lastProof and proof.
func (p *ProofOfWork) digest(lastProof, proof int64) string {
	guess := make([]byte, 0, 40)
	guess = strconv.AppendInt(guess, lastProof, 10)
	guess = strconv.AppendInt(guess, proof, 10)
	return hasher.Sum(guess)
}

// Solve searches candidates 0, 1, 2, ... and returns the first one that is
// valid against lastProof. Every CheckInterval candidates it checks ctx and
// returns ctx.Err() if the context is done.
func (p *ProofOfWork) Solve(ctx context.Context, lastProof int64) (int64, error) {
	since := p.checkInterval
	for proof := int64(0); ; proof++ {
		if since == p.checkInterval {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			since = 0
		}
		since++

		if p.IsValid(lastProof, proof) {
			return proof, nil
		}
		if proof == math.MaxInt64 {
			return 0, ErrSearchExhausted
		}
	}
}
