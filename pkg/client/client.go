package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmerrifield20/powledger/internal/model"
)

// ErrNotFound is returned when the node answers 404.
var ErrNotFound = errors.New("not found")

// Block and Transaction are the node's wire types.
type (
	Block       = model.Block
	Transaction = model.Transaction
)

// MineResult is returned by Mine.
type MineResult struct {
	Message   string `json:"message"`
	Block     Block  `json:"block"`
	Attempts  uint64 `json:"attempts"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// VerifyResult is returned by Verify.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NodeInfo describes the node's identity and mining parameters.
type NodeInfo struct {
	NodeID     string  `json:"node_id"`
	Difficulty int     `json:"difficulty"`
	Reward     float64 `json:"reward"`
	Length     int     `json:"length"`
}

// Client talks to a single node.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout. Mining requests run until the
// node finds a proof, so the default of 0 means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative: %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the node at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SubmitTransaction adds a transaction to the node's pending pool and
// returns the index of the block expected to contain it.
func (c *Client) SubmitTransaction(ctx context.Context, sender, recipient string, amount float64) (int, error) {
	var resp struct {
		Index int `json:"index"`
	}
	body := Transaction{Sender: sender, Recipient: recipient, Amount: amount}
	if err := c.call(ctx, http.MethodPost, "/api/v1/transactions", body, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

// PendingTransactions returns the node's pending pool.
func (c *Client) PendingTransactions(ctx context.Context) ([]Transaction, error) {
	var resp struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/transactions/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Mine asks the node to solve the next proof and seal a block.
func (c *Client) Mine(ctx context.Context) (*MineResult, error) {
	var resp MineResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/mine", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chain returns the node's full chain, genesis first.
func (c *Client) Chain(ctx context.Context) ([]Block, error) {
	var resp struct {
		Chain  []Block `json:"chain"`
		Length int     `json:"length"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Length != len(resp.Chain) {
		return nil, fmt.Errorf("chain length mismatch: reported %d, received %d", resp.Length, len(resp.Chain))
	}
	return resp.Chain, nil
}

// Block returns the block at the given 1-based index.
func (c *Client) Block(ctx context.Context, index int) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodGet, "/api/v1/blocks/"+strconv.Itoa(index), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Verify asks the node to check its own chain.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NodeInfo returns the node's identity and mining parameters.
func (c *Client) NodeInfo(ctx context.Context) (*NodeInfo, error) {
	var resp NodeInfo
	if err := c.call(ctx, http.MethodGet, "/api/v1/node", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call sends reqBody (if non-nil) as JSON and decodes a 2xx reply into out.
func (c *Client) call(ctx context.Context, method, path string, reqBody, out any) error {
	var rdr io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
