package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloom/internal/domain"
	"bloom/pkg/config"
	"bloom/pkg/errors"
	"bloom/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *HTTPClient {
	return NewHTTPClient(config.MirrorConfig{
		BaseURL:     serverURL,
		APIKey:      "test-key",
		CallTimeout: 5 * time.Second,
	}, logger.NewNop())
}

func TestMint_ReturnsTxRef(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(map[string]string{"tx_ref": "0xdeadbeef"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	ref, err := c.Mint(context.Background(), domain.MintPayload{
		UserID: uuid.New(),
		Amount: "50",
	})
	require.NoError(t, err)

	assert.Equal(t, "0xdeadbeef", ref)
	assert.Equal(t, "/api/v1/tokens/mint", gotPath)
	assert.Equal(t, "test-key", gotKey)
}

func TestCall_EmptyTxRefIsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Burn(context.Background(), domain.BurnPayload{UserID: uuid.New(), Amount: "10"})
	assert.ErrorIs(t, err, errors.ErrMirrorRejected)
}

func TestCall_ClientErrorIsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.RecordDeposit(context.Background(), domain.DepositPayload{AmountFiat: "100"})
	assert.ErrorIs(t, err, errors.ErrMirrorRejected)
}

func TestCall_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.RecordWithdrawal(context.Background(), domain.WithdrawalPayload{
		UserID:       uuid.New(),
		WithdrawalID: uuid.New(),
	})
	assert.ErrorIs(t, err, errors.ErrMirrorUnavailable)
}

func TestCall_TransportFailureIsRetryable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.Mint(context.Background(), domain.MintPayload{UserID: uuid.New(), Amount: "1"})
	assert.ErrorIs(t, err, errors.ErrMirrorUnavailable)
}
