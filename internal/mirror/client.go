// Package mirror replays confirmed ledger mutations onto the external
// blockchain service, best effort, through a durable outbox.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bloom/internal/domain"
	"bloom/pkg/config"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
)

// Client is the transport to the external ledger. Every call returns the
// transaction reference the mirror assigned.
type Client interface {
	Mint(ctx context.Context, p domain.MintPayload) (string, error)
	Burn(ctx context.Context, p domain.BurnPayload) (string, error)
	RecordDeposit(ctx context.Context, p domain.DepositPayload) (string, error)
	RecordWithdrawal(ctx context.Context, p domain.WithdrawalPayload) (string, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logger.Logger
}

func NewHTTPClient(cfg config.MirrorConfig, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.CallTimeout},
		logger:  log,
	}
}

func (c *HTTPClient) Mint(ctx context.Context, p domain.MintPayload) (string, error) {
	return c.call(ctx, "/api/v1/tokens/mint", p)
}

func (c *HTTPClient) Burn(ctx context.Context, p domain.BurnPayload) (string, error) {
	return c.call(ctx, "/api/v1/tokens/burn", p)
}

func (c *HTTPClient) RecordDeposit(ctx context.Context, p domain.DepositPayload) (string, error) {
	return c.call(ctx, "/api/v1/pool/deposits", p)
}

func (c *HTTPClient) RecordWithdrawal(ctx context.Context, p domain.WithdrawalPayload) (string, error) {
	return c.call(ctx, "/api/v1/pool/withdrawals", p)
}

type mirrorResponse struct {
	TxRef string `json:"tx_ref"`
}

// call POSTs the payload and returns the mirror's tx reference. A 4xx is a
// permanent rejection; 5xx and transport failures are retryable.
func (c *HTTPClient) call(ctx context.Context, path string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode mirror payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build mirror request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrMirrorUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(errors.ErrMirrorUnavailable, "failed to read mirror response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out mirrorResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", errors.Wrap(err, "failed to decode mirror response")
		}
		if out.TxRef == "" {
			return "", errors.Wrap(errors.ErrMirrorRejected, "mirror returned no tx ref")
		}
		return out.TxRef, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", errors.Wrap(errors.ErrMirrorRejected,
			fmt.Sprintf("mirror rejected call: status %d: %s", resp.StatusCode, string(raw)))
	default:
		return "", errors.Wrap(errors.ErrMirrorUnavailable,
			fmt.Sprintf("mirror returned status %d", resp.StatusCode))
	}
}
