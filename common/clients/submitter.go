package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sonicvault/vaultd/common/models"
)

// TxStatus is the confirmation status of a submitted transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
)

// TxSubmitter is the narrow contract the settlement coordinator depends
// on. The real implementation talks to a chain relay node; tests
// substitute a double that simulates delayed confirmation, reverts and
// timeouts.
type TxSubmitter interface {
	// Submit sends a contract call and returns an opaque transaction
	// reference. Transient failures come back as *models.SubmissionError.
	Submit(ctx context.Context, call string, args map[string]interface{}) (string, error)

	// PollStatus checks the confirmation status of a prior submission.
	PollStatus(ctx context.Context, txRef string) (TxStatus, error)
}

// Logger interface for chain client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ChainClient submits meta-transactions to a relay node over JSON-RPC.
// Request shape follows the relay contract: POST /relay with a call
// envelope, GET /receipt?txHash=... for confirmation.
type ChainClient struct {
	baseURL string
	client  *http.Client
	logger  Logger
}

// NewChainClient creates a chain client for the given relay node
func NewChainClient(baseURL string, timeout time.Duration, logger Logger) *ChainClient {
	return &ChainClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Submit sends a contract call envelope to the relay
func (c *ChainClient) Submit(ctx context.Context, call string, args map[string]interface{}) (string, error) {
	envelope := map[string]interface{}{
		"call": call,
		"args": args,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/relay", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Forward caller identity when present
	if holderID, ok := GetHolderID(ctx); ok {
		req.Header.Set("X-Holder-ID", holderID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors are transient; the coordinator retries them
		return "", &models.SubmissionError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.SubmissionError{Op: "submit", Err: err}
	}

	if resp.StatusCode >= 500 {
		return "", &models.SubmissionError{Op: "submit", Err: fmt.Errorf("relay returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		// Definitive rejection by the relay
		reason := gjson.GetBytes(respBody, "error").String()
		return "", fmt.Errorf("%w: %s", models.ErrRevertedTx, reason)
	}

	txHash := gjson.GetBytes(respBody, "result.txHash").String()
	if txHash == "" {
		return "", &models.SubmissionError{Op: "submit", Err: fmt.Errorf("relay response missing txHash")}
	}

	c.logger.Debug("submitted chain call", "call", call, "tx_hash", txHash)
	return txHash, nil
}

// PollStatus fetches the receipt for a transaction reference
func (c *ChainClient) PollStatus(ctx context.Context, txRef string) (TxStatus, error) {
	url := fmt.Sprintf("%s/receipt?txHash=%s", c.baseURL, txRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create receipt request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &models.SubmissionError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.SubmissionError{Op: "poll", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &models.SubmissionError{Op: "poll", Err: fmt.Errorf("receipt endpoint returned %d", resp.StatusCode)}
	}

	status := gjson.GetBytes(respBody, "result.status").String()
	switch status {
	case "confirmed":
		return TxConfirmed, nil
	case "reverted":
		return TxReverted, nil
	case "pending", "":
		return TxPending, nil
	default:
		c.logger.Warn("unknown receipt status", "tx_ref", txRef, "status", status)
		return TxPending, nil
	}
}
