package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/model"
	"github.com/jmerrifield20/powledger/internal/node/handler"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"github.com/jmerrifield20/powledger/internal/pow"
	"github.com/jmerrifield20/powledger/pkg/client"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubSource struct {
	mu    sync.Mutex
	chain []model.Block
	err   error
}

func (s *stubSource) Chain(_ context.Context) ([]model.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Block, len(s.chain))
	for i, b := range s.chain {
		out[i] = b.Clone()
	}
	return out, nil
}

func minedChain(t *testing.T, p *pow.ProofOfWork, blocks int) []model.Block {
	t.Helper()
	l := ledger.New(p)
	for i := 0; i < blocks; i++ {
		last, _ := l.LastBlock()
		proof, err := p.Solve(context.Background(), last.Proof)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := l.NewBlock(proof, ""); err != nil {
			t.Fatal(err)
		}
	}
	return l.Chain()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheckAll_healthyLedger(t *testing.T) {
	p := pow.MustNew(pow.Config{Difficulty: 1})
	l := ledger.New(p)

	var results []bool
	a := New(p, Config{}, zap.NewNop())
	a.AddSource("local", LedgerSource(l))
	a.SetMetricsRecord(func(ok bool) { results = append(results, ok) })

	a.CheckAll(context.Background())

	if status, err := a.Status("local"); status != StatusHealthy || err != nil {
		t.Errorf("expected healthy, got %s (%v)", status, err)
	}
	if len(results) != 1 || !results[0] {
		t.Errorf("expected one successful audit recorded, got %v", results)
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	p := pow.MustNew(pow.Config{Difficulty: 1})
	chain := minedChain(t, p, 3)
	chain[1].Proof += 1000
	src := &stubSource{chain: chain}

	var degraded []string
	a := New(p, Config{FailThreshold: 3}, zap.NewNop())
	a.AddSource("tampered", src)
	a.SetDegradedCallback(func(name string, err error) {
		degraded = append(degraded, name)
		var ie *ledger.IntegrityError
		if !errors.As(err, &ie) {
			t.Errorf("expected *IntegrityError, got %v", err)
		}
	})

	for i := 0; i < 2; i++ {
		a.CheckAll(context.Background())
	}
	if status, _ := a.Status("tampered"); status != StatusHealthy {
		t.Errorf("expected healthy before threshold, got %s", status)
	}

	a.CheckAll(context.Background())
	if status, _ := a.Status("tampered"); status != StatusDegraded {
		t.Errorf("expected degraded at threshold, got %s", status)
	}
	if len(degraded) != 1 {
		t.Errorf("expected exactly one degraded callback, got %d", len(degraded))
	}

	a.CheckAll(context.Background())
	if len(degraded) != 1 {
		t.Errorf("callback should fire only on the transition, got %d", len(degraded))
	}
}

func TestCheckAll_recovers(t *testing.T) {
	p := pow.MustNew(pow.Config{Difficulty: 1})
	src := &stubSource{err: errors.New("connection refused")}

	a := New(p, Config{}, zap.NewNop())
	a.AddSource("peer", src)
	a.CheckAll(context.Background())
	if status, _ := a.Status("peer"); status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status)
	}

	src.mu.Lock()
	src.err = nil
	src.chain = minedChain(t, p, 1)
	src.mu.Unlock()

	a.CheckAll(context.Background())
	if status, err := a.Status("peer"); status != StatusHealthy || err != nil {
		t.Errorf("expected recovery, got %s (%v)", status, err)
	}
}

func TestCheckAll_remoteNode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := pow.MustNew(pow.Config{Difficulty: 1})
	svc := service.New(ledger.New(p), service.Config{}, zap.NewNop())
	if _, err := svc.Mine(ctx); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler.NewRouter(ctx, svc, handler.RouterConfig{}, zap.NewNop()))
	defer srv.Close()

	a := New(p, Config{}, zap.NewNop())
	a.AddSource("remote", client.MustNew(srv.URL))
	a.CheckAll(ctx)

	if status, err := a.Status("remote"); status != StatusHealthy {
		t.Errorf("expected remote node healthy, got %s (%v)", status, err)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	p := pow.MustNew(pow.Config{Difficulty: 1})
	a := New(p, Config{Interval: 5 * time.Millisecond}, zap.NewNop())

	var mu sync.Mutex
	var runs int
	a.AddSource("local", LedgerSource(ledger.New(p)))
	a.SetMetricsRecord(func(bool) {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if runs == 0 {
		t.Error("expected at least one audit run")
	}
}
