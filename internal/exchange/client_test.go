package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-tracker/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retry config.RetryConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.APIConfig{BaseURL: srv.URL + "/", Timeout: time.Second, Retry: retry}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.APIConfig{BaseURL: "  "}, nil)
	assert.Error(t, err)
}

func TestClient_FetchesEndpointsWithLimit(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","sz":"1"},{"instId":"ETH-USDT-SWAP"}]}`))
	}, config.RetryConfig{})

	records, err := c.PositionsHistory(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, PathPositionsHistory, gotPath)
	assert.Equal(t, "limit=50", gotQuery)
	require.Len(t, records, 2)
	v, ok := records[0].Get("instId")
	assert.True(t, ok)
	assert.Equal(t, "BTC-USDT-SWAP", v)

	_, err = c.Fills(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, PathFills, gotPath)
	assert.Equal(t, "limit=100", gotQuery)

	_, err = c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathBalance, gotPath)
	assert.Empty(t, gotQuery)

	_, err = c.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PathPositions, gotPath)
}

func TestDecodeEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		count   int
		wantErr error
	}{
		{name: "array", body: `{"data":[{"a":"1"}]}`, count: 1},
		{name: "empty array", body: `{"code":"0","data":[]}`, count: 0},
		{name: "object data", body: `{"code":"0","data":{"totalEq":"1"}}`, count: 0},
		{name: "null data", body: `{"data":null}`, count: 0},
		{name: "missing data", body: `{}`, count: 0},
		{name: "top-level array", body: `[{"a":1}]`, count: 0},
		{name: "non-object items", body: `{"data":[1,"x",{"a":1}]}`, count: 3},
		{name: "numeric zero code", body: `{"code":0,"data":[{}]}`, count: 1},
		{name: "upstream error", body: `{"code":"51000","msg":"bad","data":[]}`, wantErr: ErrUpstream},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := decodeEnvelope("/x", []byte(tc.body))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tc.count)
		})
	}

	_, err := decodeEnvelope("/x", []byte(`not json`))
	assert.Error(t, err)
}

func TestClient_StatusErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{}]}`))
	}, config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	records, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DefaultSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}, config.RetryConfig{MaxAttempts: 1})

	_, err := c.Positions(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, PathPositions, statusErr.Path)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}, config.RetryConfig{MaxAttempts: 5, MinDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := c.Balance(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(ErrUpstream))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, IsRetryable(&StatusError{StatusCode: http.StatusNotFound}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestClient_RejectsOversizedBody(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT-SWAP","note":"padding padding padding"}]}`))
	}, config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond})
	c.maxBody = 32

	_, err := c.PositionsHistory(context.Background(), 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32")
	assert.Equal(t, int32(1), calls.Load(), "oversized responses are not retried")

	c.maxBody = defaultMaxResponseBody
	records, err := c.PositionsHistory(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
