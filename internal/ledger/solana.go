// Package ledger reads settled transactions from a Solana JSON-RPC node.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bursar/internal/payments"
)

// Client talks to a Solana RPC endpoint. It only reads finalized state
// and never signs or submits anything.
type Client struct {
	rpcURL string
	client *http.Client
}

type Option func(*Client)

func NewClient(rpcURL string, opts ...Option) *Client {
	c := &Client{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

var _ payments.Ledger = (*Client)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Error  *rpcError       `json:"error"`
	Result json.RawMessage `json:"result"`
}

type accountKey struct {
	Pubkey string `json:"pubkey"`
}

type tokenAmount struct {
	Amount string `json:"amount"`
}

type tokenBalance struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UITokenAmount tokenAmount `json:"uiTokenAmount"`
}

type transactionResult struct {
	Meta *struct {
		Err               interface{}    `json:"err"`
		PreBalances       []int64        `json:"preBalances"`
		PostBalances      []int64        `json:"postBalances"`
		PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []accountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a settled transaction by signature. For a native
// transfer (empty tokenMint) balance deltas are lamport deltas per account
// key; for a token transfer they are base-unit deltas per owner for that
// mint. Reference keys are always the full account key list, which is
// where wallets attach the payment reference.
func (c *Client) GetTransaction(ctx context.Context, signature, tokenMint string) (payments.TxRecord, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	})
	if err != nil {
		return payments.TxRecord{}, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return payments.TxRecord{}, fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return payments.TxRecord{}, fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return payments.TxRecord{}, fmt.Errorf("rpc returned status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return payments.TxRecord{}, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return payments.TxRecord{}, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	// A null result means the signature is unknown to the node, which may
	// just be propagation lag. The caller treats it as indeterminate.
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return payments.TxRecord{Found: false}, nil
	}

	var tx transactionResult
	if err := json.Unmarshal(rpcResp.Result, &tx); err != nil {
		return payments.TxRecord{}, fmt.Errorf("failed to decode transaction: %w", err)
	}

	record := payments.TxRecord{Found: true}
	for _, key := range tx.Transaction.Message.AccountKeys {
		record.ReferenceKeys = append(record.ReferenceKeys, key.Pubkey)
	}
	if tx.Meta == nil {
		return record, nil
	}
	record.Succeeded = tx.Meta.Err == nil

	if tokenMint == "" {
		record.Accounts = record.ReferenceKeys
		for i := range tx.Meta.PostBalances {
			var pre int64
			if i < len(tx.Meta.PreBalances) {
				pre = tx.Meta.PreBalances[i]
			}
			record.BalanceDeltas = append(record.BalanceDeltas, tx.Meta.PostBalances[i]-pre)
		}
		return record, nil
	}

	deltas, order, err := tokenDeltas(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances, tokenMint)
	if err != nil {
		return payments.TxRecord{}, err
	}
	for _, owner := range order {
		record.Accounts = append(record.Accounts, owner)
		record.BalanceDeltas = append(record.BalanceDeltas, deltas[owner])
	}
	return record, nil
}

// tokenDeltas nets pre/post token balances for one mint into per-owner
// base-unit deltas. Order preserves first appearance so results are
// deterministic.
func tokenDeltas(pre, post []tokenBalance, mint string) (map[string]int64, []string, error) {
	deltas := make(map[string]int64)
	var order []string
	record := func(owner string, amount int64) {
		if _, seen := deltas[owner]; !seen {
			order = append(order, owner)
		}
		deltas[owner] += amount
	}

	for _, b := range pre {
		if b.Mint != mint {
			continue
		}
		amount, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid token balance amount %q: %w", b.UITokenAmount.Amount, err)
		}
		record(b.Owner, -amount)
	}
	for _, b := range post {
		if b.Mint != mint {
			continue
		}
		amount, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid token balance amount %q: %w", b.UITokenAmount.Amount, err)
		}
		record(b.Owner, amount)
	}
	return deltas, order, nil
}
