// Package audit periodically re-verifies chains and reports when one stops
// verifying. A source can be the node's own ledger or a remote node.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/model"
	"github.com/jmerrifield20/powledger/internal/pow"
	"go.uber.org/zap"
)

// Status of an audited source.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds audit configuration.
type Config struct {
	Interval      time.Duration
	FetchTimeout  time.Duration
	FailThreshold int // consecutive failures before a source is degraded
}

// ChainSource yields a chain to audit. *client.Client satisfies it.
type ChainSource interface {
	Chain(ctx context.Context) ([]model.Block, error)
}

// ChainSourceFunc adapts a function to ChainSource.
type ChainSourceFunc func(ctx context.Context) ([]model.Block, error)

// Chain implements ChainSource.
func (f ChainSourceFunc) Chain(ctx context.Context) ([]model.Block, error) { return f(ctx) }

// LedgerSource audits a local ledger.
func LedgerSource(l *ledger.Ledger) ChainSource {
	return ChainSourceFunc(func(context.Context) ([]model.Block, error) {
		return l.Chain(), nil
	})
}

// DegradedFunc is an optional callback for sources that cross the failure threshold.
type DegradedFunc func(name string, err error)

// MetricsRecordFunc is an optional callback for recording audit results.
type MetricsRecordFunc func(success bool)

// Auditor runs periodic integrity checks over named chain sources.
type Auditor struct {
	pow     *pow.ProofOfWork
	sources map[string]ChainSource

	mu         sync.Mutex
	failCounts map[string]int
	lastErr    map[string]error

	cfg        Config
	onDegraded DegradedFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates an Auditor that verifies chains under p's difficulty.
func New(p *pow.ProofOfWork, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Auditor{
		pow:        p,
		sources:    make(map[string]ChainSource),
		failCounts: make(map[string]int),
		lastErr:    make(map[string]error),
		cfg:        cfg,
		logger:     logger,
	}
}

// AddSource registers src under name. Call before Start.
func (a *Auditor) AddSource(name string, src ChainSource) {
	a.sources[name] = src
}

// SetDegradedCallback configures the degraded-source callback.
func (a *Auditor) SetDegradedCallback(fn DegradedFunc) {
	a.onDegraded = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// Start runs the audit loop until ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll audits every source concurrently and waits for all of them.
func (a *Auditor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, src := range a.sources {
		wg.Add(1)
		go func(name string, src ChainSource) {
			defer wg.Done()
			a.check(ctx, name, src)
		}(name, src)
	}
	wg.Wait()
}

// Status returns the current status of name and the last audit error, if any.
func (a *Auditor) Status(name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCounts[name] >= a.cfg.FailThreshold {
		return StatusDegraded, a.lastErr[name]
	}
	return StatusHealthy, a.lastErr[name]
}

func (a *Auditor) check(ctx context.Context, name string, src ChainSource) {
	err := a.audit(ctx, src)
	success := err == nil

	if a.onMetrics != nil {
		a.onMetrics(success)
	}

	a.mu.Lock()
	prevCount := a.failCounts[name]
	if success {
		a.failCounts[name] = 0
	} else {
		a.failCounts[name]++
	}
	count := a.failCounts[name]
	a.lastErr[name] = err
	a.mu.Unlock()

	switch {
	case success && prevCount >= a.cfg.FailThreshold:
		a.logger.Info("audit: recovered", zap.String("source", name))
	case !success && count == a.cfg.FailThreshold:
		a.logger.Warn("audit: degraded",
			zap.String("source", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
		if a.onDegraded != nil {
			a.onDegraded(name, err)
		}
	case !success:
		a.logger.Debug("audit: failed", zap.String("source", name), zap.Error(err))
	}
}

func (a *Auditor) audit(ctx context.Context, src ChainSource) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	chain, err := src.Chain(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain: %w", err)
	}
	return ledger.VerifyChain(chain, a.pow)
}
