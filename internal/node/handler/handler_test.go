package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
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

func setupRouter(t *testing.T, difficulty int, cfg handler.RouterConfig) (*gin.Engine, *service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := ledger.New(pow.MustNew(pow.Config{Difficulty: difficulty, CheckInterval: 16}))
	svc := service.New(l, service.Config{NodeID: "node-test"}, zap.NewNop())
	return handler.NewRouter(ctx, svc, cfg, zap.NewNop()), svc
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthz_200(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})
	if w := do(t, router, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChain_genesisOnly(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})

	w := do(t, router, http.MethodGet, "/api/v1/chain", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if int(resp["length"].(float64)) != 1 {
		t.Errorf("expected length 1, got %v", resp["length"])
	}
	chain := resp["chain"].([]any)
	genesis := chain[0].(map[string]any)
	if genesis["previous_hash"] != ledger.GenesisPreviousHash {
		t.Errorf("genesis previous_hash: got %v", genesis["previous_hash"])
	}
}

func TestCreateTransaction_201(t *testing.T) {
	router, svc := setupRouter(t, 1, handler.RouterConfig{})

	w := do(t, router, http.MethodPost, "/api/v1/transactions", `{"sender":"alice","recipient":"bob","amount":50}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if idx := int(decode(t, w)["index"].(float64)); idx != 2 {
		t.Errorf("expected index 2, got %d", idx)
	}
	if n := len(svc.Ledger().PendingTransactions()); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
}

func TestCreateTransaction_400(t *testing.T) {
	cases := map[string]string{
		"missing amount":  `{"sender":"alice","recipient":"bob"}`,
		"empty sender":    `{"sender":"","recipient":"bob","amount":10}`,
		"blank recipient": `{"sender":"alice","recipient":"  ","amount":10}`,
		"negative amount": `{"sender":"alice","recipient":"bob","amount":-5}`,
		"malformed json":  `{"sender":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			router, svc := setupRouter(t, 1, handler.RouterConfig{})
			w := do(t, router, http.MethodPost, "/api/v1/transactions", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if n := len(svc.Ledger().PendingTransactions()); n != 0 {
				t.Errorf("pool changed: %d", n)
			}
		})
	}
}

func TestPending_listsTransactions(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})
	do(t, router, http.MethodPost, "/api/v1/transactions", `{"sender":"alice","recipient":"bob","amount":1}`)
	do(t, router, http.MethodPost, "/api/v1/transactions", `{"sender":"bob","recipient":"carol","amount":2}`)

	resp := decode(t, do(t, router, http.MethodGet, "/api/v1/transactions/pending", ""))
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("expected 2 pending, got %v", resp["count"])
	}
	first := resp["transactions"].([]any)[0].(map[string]any)
	if first["sender"] != "alice" {
		t.Errorf("insertion order lost: first sender %v", first["sender"])
	}
}

func TestMine_200(t *testing.T) {
	router, svc := setupRouter(t, 2, handler.RouterConfig{})
	do(t, router, http.MethodPost, "/api/v1/transactions", `{"sender":"alice","recipient":"bob","amount":50}`)

	w := do(t, router, http.MethodPost, "/api/v1/mine", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	block := decode(t, w)["block"].(map[string]any)
	if int(block["index"].(float64)) != 2 {
		t.Errorf("expected block 2, got %v", block["index"])
	}
	txs := block["transactions"].([]any)
	if len(txs) != 2 {
		t.Fatalf("expected submitted + reward transactions, got %d", len(txs))
	}
	if reward := txs[1].(map[string]any); reward["recipient"] != "node-test" || reward["sender"] != service.RewardSender {
		t.Errorf("unexpected reward transaction: %v", reward)
	}
	if svc.Ledger().Len() != 2 {
		t.Errorf("expected chain length 2, got %d", svc.Ledger().Len())
	}
}

func TestMine_503_whenCancelled(t *testing.T) {
	router, _ := setupRouter(t, pow.MaxDifficulty, handler.RouterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mine", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_200(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})
	do(t, router, http.MethodPost, "/api/v1/mine", "")

	resp := decode(t, do(t, router, http.MethodGet, "/api/v1/chain/verify", ""))
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp)
	}
}

func TestGetBlock(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})

	cases := []struct {
		path string
		code int
	}{
		{"/api/v1/blocks/1", http.StatusOK},
		{"/api/v1/blocks/2", http.StatusNotFound},
		{"/api/v1/blocks/0", http.StatusBadRequest},
		{"/api/v1/blocks/abc", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := do(t, router, http.MethodGet, tc.path, ""); w.Code != tc.code {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.code, w.Code)
		}
	}
}

func TestNodeInfo(t *testing.T) {
	router, _ := setupRouter(t, 3, handler.RouterConfig{})

	resp := decode(t, do(t, router, http.MethodGet, "/api/v1/node", ""))
	if resp["node_id"] != "node-test" {
		t.Errorf("node_id: got %v", resp["node_id"])
	}
	if int(resp["difficulty"].(float64)) != 3 {
		t.Errorf("difficulty: got %v", resp["difficulty"])
	}
}

func TestRateLimiter_429(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{RateLimitRPS: 1})

	var limited bool
	for i := 0; i < 10; i++ {
		if w := do(t, router, http.MethodGet, "/healthz", ""); w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the burst")
	}
}

func TestMetrics_exposed(t *testing.T) {
	router, _ := setupRouter(t, 1, handler.RouterConfig{})
	handler.RecordBlockMined(10, 0)
	handler.SetPoolGauges(0, 2)

	w := do(t, router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, name := range []string{"ledger_blocks_mined_total", "ledger_chain_length", "ledger_pow_attempts_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}
