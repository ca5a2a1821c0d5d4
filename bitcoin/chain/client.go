// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harvy-btc/harvy/bitcoin"
)

// DefaultRequestTimeout bounds every call to the UTXO source.
const DefaultRequestTimeout = 15 * time.Second

// BroadcastError carries the upstream rejection text verbatim so the caller
// can distinguish double-spend from malformed-transaction from policy rejection.
type BroadcastError struct {
	StatusCode int
	Message    string
}

// Error returns error description.
func (e *BroadcastError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", bitcoin.ErrBroadcastRejected, e.StatusCode, e.Message)
}

// Is implements comparator method for [errors] package.
func (e *BroadcastError) Is(target error) bool {
	return target == bitcoin.ErrBroadcastRejected
}

// Client talks to a mempool-space compatible REST API. It is the process's
// single source of truth for unspent outputs, raw transactions and broadcast.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient is a constructor for Client. baseURL points at the API root,
// e.g. https://mempool.space/api.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// utxoResponse mirrors the address utxo endpoint payload.
type utxoResponse struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

// UTXOs returns the full current unspent set of the address. Scripts and raw
// transactions are not part of this endpoint, the builder attaches them from
// raw transaction lookups.
func (c *Client) UTXOs(ctx context.Context, address string) ([]bitcoin.UTXO, error) {
	body, err := c.getWithRetry(ctx, fmt.Sprintf("%s/address/%s/utxo", c.baseURL, address))
	if err != nil {
		return nil, err
	}

	var entries []utxoResponse
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode utxo set: %w", err)
	}

	utxos := make([]bitcoin.UTXO, len(entries))
	for i, entry := range entries {
		utxos[i] = bitcoin.UTXO{
			TxHash:  entry.TxID,
			Index:   entry.Vout,
			Amount:  entry.Value,
			Address: address,
		}
	}

	return utxos, nil
}

// RawTransaction returns the full serialized transaction bytes.
func (c *Client) RawTransaction(ctx context.Context, txID string) ([]byte, error) {
	body, err := c.getWithRetry(ctx, fmt.Sprintf("%s/tx/%s/hex", c.baseURL, txID))
	if err != nil {
		return nil, err
	}

	rawTx, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("decode raw transaction: %w", err)
	}

	return rawTx, nil
}

// Broadcast submits a finalized transaction. Never retried: a retry after a
// rejection risks inconsistent state and must be operator-triggered.
func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &BroadcastError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return strings.TrimSpace(string(body)), nil
}

// getWithRetry performs a GET with a single retry on transient failure.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	body, err := c.get(ctx, url)
	if err == nil {
		return body, nil
	}

	if ctx.Err() != nil || !isTransient(err) {
		return nil, err
	}

	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &transientError{err: fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// transientError marks failures worth one retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError

	return errors.As(err, &te)
}
