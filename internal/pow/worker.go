package pow

import (
	"context"
	"time"
)

// Result is the outcome of an asynchronous search.
type Result struct {
	Proof    int64
	Attempts uint64 // candidates tested, Proof+1 on success
	Elapsed  time.Duration
	Err      error
}

// SolveAsync runs Solve on its own goroutine and delivers exactly one Result
// on the returned channel. The channel is buffered, so the worker never
// blocks if the caller stops listening. Cancel ctx to abort the search.
func (p *ProofOfWork) SolveAsync(ctx context.Context, lastProof int64) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		start := time.Now()
		proof, err := p.Solve(ctx, lastProof)
		res := Result{Proof: proof, Elapsed: time.Since(start), Err: err}
		if err == nil {
			res.Attempts = uint64(proof) + 1
		}
		out <- res
	}()
	return out
}
