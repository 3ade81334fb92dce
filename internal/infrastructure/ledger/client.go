package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks JSON-RPC to the settlement gateway that relays usage
// commitments onto the billing contract. Each call gets its own timeout
// and one retry on transport failure; an RPC-level error is returned
// as-is since the gateway already validated and rejected the call.
type Client struct {
	cfg        *config.LedgerConfig
	httpClient *http.Client
	logger     *zap.Logger
	reqID      atomic.Int64
}

// NewClient creates a new settlement gateway client
func NewClient(cfg *config.LedgerConfig, logger *zap.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: rpc_url is required")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		logger:     logger,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type receiptResult struct {
	TxID        string  `json:"txId"`
	BlockNumber *uint64 `json:"blockNumber"`
}

type commitParams struct {
	Contract     string `json:"contract"`
	ChainID      int64  `json:"chainId"`
	Wallet       string `json:"wallet"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	TotalBytes   uint64 `json:"totalBytes"`
	BilledAmount string `json:"billedAmount"`
	Hash         string `json:"hash"`
}

type settleParams struct {
	Contract string `json:"contract"`
	ChainID  int64  `json:"chainId"`
	Wallet   string `json:"wallet"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Success  bool   `json:"success"`
}

// CommitMonthlyUsage anchors a finished monthly snapshot on the ledger
func (c *Client) CommitMonthlyUsage(ctx context.Context, wallet string, year, month int, totalBytes uint64, billedAmount decimal.Decimal, hash string) (*billing.LedgerReceipt, error) {
	params := commitParams{
		Contract:     c.cfg.ContractAddress,
		ChainID:      c.cfg.ChainID,
		Wallet:       wallet,
		Year:         year,
		Month:        month,
		TotalBytes:   totalBytes,
		BilledAmount: billedAmount.String(),
		Hash:         hash,
	}

	var result receiptResult
	if err := c.call(ctx, "pinstor_commitMonthlyUsage", params, &result); err != nil {
		return nil, err
	}

	c.logger.Info("Ledger commit accepted",
		zap.String("wallet", wallet),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.String("tx_id", result.TxID))

	return &billing.LedgerReceipt{TxID: result.TxID, BlockNumber: result.BlockNumber}, nil
}

// SettlePayment records a payment outcome for an already-committed month
func (c *Client) SettlePayment(ctx context.Context, wallet string, year, month int, success bool) (*billing.LedgerReceipt, error) {
	params := settleParams{
		Contract: c.cfg.ContractAddress,
		ChainID:  c.cfg.ChainID,
		Wallet:   wallet,
		Year:     year,
		Month:    month,
		Success:  success,
	}

	var result receiptResult
	if err := c.call(ctx, "pinstor_settlePayment", params, &result); err != nil {
		return nil, err
	}

	return &billing.LedgerReceipt{TxID: result.TxID, BlockNumber: result.BlockNumber}, nil
}

// call performs one JSON-RPC round trip with a per-call timeout and a
// single retry on transport failure. RPC-level errors are not retried:
// the gateway rejected the call deterministically.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying ledger call",
				zap.String("method", method),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		err := c.doCall(ctx, method, params, result)
		if err == nil {
			return nil
		}
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("ledger: %s failed after retry: %w", method, lastErr)
}

func (c *Client) doCall(ctx context.Context, method string, params, result any) error {
	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  []any{params},
	})
	if err != nil {
		return fmt.Errorf("ledger: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: transport failure: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger: unexpected status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("ledger: failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("ledger: failed to decode result: %w", err)
	}
	return nil
}

// Ensure Client implements the domain contract
var _ billing.LedgerClient = (*Client)(nil)
