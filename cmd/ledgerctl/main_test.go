package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/node/handler"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"github.com/jmerrifield20/powledger/internal/pow"
	"go.uber.org/zap"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	nodeURL, outputFormat = "", "text"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func testNode(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := ledger.New(pow.MustNew(pow.Config{Difficulty: 1}))
	svc := service.New(l, service.Config{NodeID: "cli-node"}, zap.NewNop())
	srv := httptest.NewServer(handler.NewRouter(ctx, svc, handler.RouterConfig{}, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSolve_localSearch(t *testing.T) {
	out, err := execute(t, "solve", "--last-proof", "100", "--difficulty", "2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "proof=226") {
		t.Errorf("expected proof=226 in output, got %q", out)
	}
}

func TestSolve_invalidDifficulty(t *testing.T) {
	if _, err := execute(t, "solve", "--difficulty", "65"); err == nil {
		t.Error("expected error for difficulty 65")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "ledgerctl ") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestRoot_rejectsUnknownFormat(t *testing.T) {
	if _, err := execute(t, "version", "--format", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTxMineChain_againstNode(t *testing.T) {
	url := testNode(t)

	out, err := execute(t, "--node", url, "tx", "alice", "bob", "50")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "block 2") {
		t.Errorf("tx output: %q", out)
	}

	if out, err = execute(t, "--node", url, "mine"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Block 2 forged") {
		t.Errorf("mine output: %q", out)
	}

	out, err = execute(t, "--node", url, "--format", "json", "chain")
	if err != nil {
		t.Fatal(err)
	}
	var chain []map[string]any
	if err := json.Unmarshal([]byte(out), &chain); err != nil {
		t.Fatalf("decode chain output %q: %v", out, err)
	}
	if len(chain) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(chain))
	}

	if out, err = execute(t, "--node", url, "verify"); err != nil {
		t.Fatalf("verify: %v (%s)", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("verify output: %q", out)
	}
}

func TestBlock_rejectsBadIndex(t *testing.T) {
	if _, err := execute(t, "--node", "http://127.0.0.1:1", "block", "zero"); err == nil {
		t.Error("expected error for non-numeric index")
	}
}
