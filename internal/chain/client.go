// Package chain provides a JSON-RPC client for the external transaction ledger.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/settlement_layer/internal/httputil"
)

// Cluster names a ledger network.
type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
)

// ParseCluster normalizes a cluster name. Empty means devnet.
func ParseCluster(s string) (Cluster, error) {
	switch s {
	case "", "devnet":
		return ClusterDevnet, nil
	case "mainnet", "mainnet-beta":
		return ClusterMainnet, nil
	default:
		return "", fmt.Errorf("unknown cluster %q", s)
	}
}

// PublicDevnetRPC is polled as a fallback on devnet.
const PublicDevnetRPC = "https://api.devnet.solana.com"

// LamportsPerUnit converts base units to whole currency units.
const LamportsPerUnit = 1_000_000_000

// Client provides ledger RPC functionality.
type Client struct {
	endpoints    []string
	http         *httputil.Client
	commitment   string
	pollInterval time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL       string
	FallbackURLs []string
	Timeout      time.Duration
	MaxRetries   int
	Commitment   string // confirmed or finalized
	PollInterval time.Duration
}

// NewClient creates a new ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	endpoints := []string{cfg.RPCURL}
	for _, u := range cfg.FallbackURLs {
		if u != "" && u != cfg.RPCURL {
			endpoints = append(endpoints, u)
		}
	}

	return &Client{
		endpoints: endpoints,
		http: httputil.NewClient(httputil.ClientConfig{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		commitment:   commitment,
		pollInterval: poll,
	}, nil
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call against endpoint and returns the raw result.
func (c *Client) Call(ctx context.Context, endpoint, method string, params []interface{}) (gjson.Result, error) {
	body, err := c.http.PostJSON(ctx, endpoint, RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON response", method)
	}

	resp := gjson.ParseBytes(body)
	if e := resp.Get("error"); e.Exists() && e.Type != gjson.Null {
		rpcErr := &RPCError{}
		if err := json.Unmarshal([]byte(e.Raw), rpcErr); err != nil {
			return gjson.Result{}, fmt.Errorf("%s: malformed error: %s", method, e.Raw)
		}
		return gjson.Result{}, rpcErr
	}
	return resp.Get("result"), nil
}

// callFirst tries each endpoint until one returns a non-null result.
// A null result everywhere is reported as ok=false with a nil error.
func (c *Client) callFirst(ctx context.Context, method string, params []interface{}) (gjson.Result, bool, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		res, err := c.Call(ctx, endpoint, method, params)
		if err != nil {
			if ctx.Err() != nil {
				return gjson.Result{}, false, err
			}
			lastErr = err
			continue
		}
		if res.Exists() && res.Type != gjson.Null {
			return res, true, nil
		}
	}
	if lastErr != nil {
		return gjson.Result{}, false, lastErr
	}
	return gjson.Result{}, false, nil
}

// =============================================================================
// Transactions
// =============================================================================

// Transaction is the raw balance view of a transaction.
type Transaction struct {
	Signature    string
	Failed       bool
	ErrDetail    string
	BlockTime    *time.Time
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
}

// IndexOf returns the position of address in the full account key list, or -1.
func (t *Transaction) IndexOf(address string) int {
	for i, k := range t.AccountKeys {
		if k == address {
			return i
		}
	}
	return -1
}

// Transfer is a decoded native transfer instruction.
type Transfer struct {
	Source      string
	Destination string
	Lamports    uint64
	Inner       bool
}

// ParsedTransaction is the instruction-decoded view of a transaction.
type ParsedTransaction struct {
	Signature string
	Failed    bool
	BlockTime *time.Time
	Transfers []Transfer
}

// GetTransaction fetches a transaction with raw balance arrays.
// It returns nil, nil when no endpoint knows the transaction yet.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	res, ok, err := c.callFirst(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil || !ok {
		return nil, err
	}
	return decodeTransaction(signature, res), nil
}

// GetTransactionParsed fetches the jsonParsed view and extracts native transfers
// from both top-level and inner instructions.
func (c *Client) GetTransactionParsed(ctx context.Context, signature string) (*ParsedTransaction, error) {
	res, ok, err := c.callFirst(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil || !ok {
		return nil, err
	}
	return decodeParsedTransaction(signature, res), nil
}

func decodeTransaction(signature string, res gjson.Result) *Transaction {
	tx := &Transaction{Signature: signature, BlockTime: blockTime(res)}

	if e := res.Get("meta.err"); e.Exists() && e.Type != gjson.Null {
		tx.Failed = true
		tx.ErrDetail = e.Raw
	}

	for _, k := range res.Get("transaction.message.accountKeys").Array() {
		tx.AccountKeys = append(tx.AccountKeys, keyString(k))
	}
	// Address-lookup-table accounts follow the static keys: writable, then readonly.
	for _, k := range res.Get("meta.loadedAddresses.writable").Array() {
		tx.AccountKeys = append(tx.AccountKeys, k.String())
	}
	for _, k := range res.Get("meta.loadedAddresses.readonly").Array() {
		tx.AccountKeys = append(tx.AccountKeys, k.String())
	}

	for _, b := range res.Get("meta.preBalances").Array() {
		tx.PreBalances = append(tx.PreBalances, b.Uint())
	}
	for _, b := range res.Get("meta.postBalances").Array() {
		tx.PostBalances = append(tx.PostBalances, b.Uint())
	}
	return tx
}

func decodeParsedTransaction(signature string, res gjson.Result) *ParsedTransaction {
	ptx := &ParsedTransaction{Signature: signature, BlockTime: blockTime(res)}
	if e := res.Get("meta.err"); e.Exists() && e.Type != gjson.Null {
		ptx.Failed = true
	}

	for _, ix := range res.Get("transaction.message.instructions").Array() {
		if t, ok := decodeTransfer(ix); ok {
			ptx.Transfers = append(ptx.Transfers, t)
		}
	}
	for _, group := range res.Get("meta.innerInstructions").Array() {
		for _, ix := range group.Get("instructions").Array() {
			if t, ok := decodeTransfer(ix); ok {
				t.Inner = true
				ptx.Transfers = append(ptx.Transfers, t)
			}
		}
	}
	return ptx
}

func decodeTransfer(ix gjson.Result) (Transfer, bool) {
	if ix.Get("program").String() != "system" {
		return Transfer{}, false
	}
	kind := ix.Get("parsed.type").String()
	if kind != "transfer" && kind != "transferWithSeed" {
		return Transfer{}, false
	}
	info := ix.Get("parsed.info")
	return Transfer{
		Source:      info.Get("source").String(),
		Destination: info.Get("destination").String(),
		Lamports:    info.Get("lamports").Uint(),
	}, true
}

func keyString(k gjson.Result) string {
	if k.IsObject() {
		return k.Get("pubkey").String()
	}
	return k.String()
}

func blockTime(res gjson.Result) *time.Time {
	bt := res.Get("blockTime")
	if !bt.Exists() || bt.Type == gjson.Null {
		return nil
	}
	t := time.Unix(bt.Int(), 0).UTC()
	return &t
}

// =============================================================================
// Confirmation
// =============================================================================

// DefaultPollInterval is the default interval for polling signature status.
const DefaultPollInterval = 2 * time.Second

// ErrTransactionFailed is returned when the ledger reports the transaction failed.
var ErrTransactionFailed = errors.New("transaction failed on ledger")

// SignatureStatus is the confirmation state of a transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string
	Failed             bool
}

// Confirmed reports whether the status is at least "confirmed".
func (s *SignatureStatus) Confirmed() bool {
	return s != nil && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}

// GetSignatureStatus returns the status of signature, or nil if unknown.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	res, ok, err := c.callFirst(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	})
	if err != nil || !ok {
		return nil, err
	}
	v := res.Get("value.0")
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	e := v.Get("err")
	return &SignatureStatus{
		Slot:               v.Get("slot").Uint(),
		ConfirmationStatus: v.Get("confirmationStatus").String(),
		Failed:             e.Exists() && e.Type != gjson.Null,
	}, nil
}

// WaitForConfirmation polls until the signature is confirmed or ctx is done.
// An unknown signature is treated as transient. A failed transaction stops the
// wait with ErrTransactionFailed.
func (c *Client) WaitForConfirmation(ctx context.Context, signature string) (*SignatureStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && status != nil {
			if status.Failed {
				return status, ErrTransactionFailed
			}
			if status.Confirmed() {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
