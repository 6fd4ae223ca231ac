package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-tracker/internal/config"
	"okx-tracker/internal/exchange"
	"okx-tracker/internal/ledger"
	"okx-tracker/internal/monitor"
	"okx-tracker/internal/preferences"
	"okx-tracker/internal/store"
)

type upstream struct {
	server       *httptest.Server
	historyEmpty atomic.Bool
	balanceCalls atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc(exchange.PathBalance, func(w http.ResponseWriter, r *http.Request) {
		u.balanceCalls.Add(1)
		_, _ = w.Write([]byte(`{"code":"0","data":[{"totalEq":"1100.5"}]}`))
	})
	mux.HandleFunc(exchange.PathPositions, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT-SWAP","posSide":"long","pos":"1","avgPx":"42000","lever":"10","margin":"4200","upl":"420"}]}`))
	})
	mux.HandleFunc(exchange.PathPositionsHistory, func(w http.ResponseWriter, r *http.Request) {
		if u.historyEmpty.Load() {
			_, _ = w.Write([]byte(`{"code":"0","data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":"0","data":[{"instId":"ETH-USDT-SWAP","posSide":"long","openAvgPx":"100","closeAvgPx":"110","sz":"2","lever":"5","realizedPnl":"20"}]}`))
	})
	mux.HandleFunc(exchange.PathFills, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","data":[{"instId":"SOL-USDT-SWAP","side":"buy","state":"filled","fillPx":"150","fillSz":"3"},{"instId":"SOL-USDT-SWAP","side":"sell","state":"canceled"}]}`))
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		API: config.APIConfig{
			Source:  config.SourceHTTP,
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			Retry:   config.RetryConfig{MaxAttempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Reconcile: config.ReconcileConfig{HistoryLimit: 50, FillsLimit: 100, FillLeverage: 5},
		Account:   config.AccountConfig{Deposit: 1000},
		Scheduler: config.SchedulerConfig{RefreshInterval: time.Hour, CycleTimeout: 5 * time.Second},
		Server:    config.ServerConfig{WebSocket: true},
		Preferences: config.PreferencesConfig{
			Backend: config.PreferencesSQLite,
		},
	}
}

func newTestApp(t *testing.T) (*App, *upstream) {
	t.Helper()
	up := newUpstream(t)
	cfg := testConfig(up.server.URL)

	st, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	source, err := exchange.NewClient(cfg.API, nil)
	require.NoError(t, err)

	a, err := newApp(cfg, nil, st, source, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, up
}

func getJSON(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestSnapshotEndpoint_BeforeAndAfterRefresh(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.Handler()

	var empty map[string]json.RawMessage
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/snapshot", &empty))
	assert.Equal(t, "null", string(empty["snapshot"]))
	assert.Equal(t, "false", string(empty["loading"]))

	snap := a.RefreshOnce(context.Background())
	require.NotNil(t, snap)
	assert.Empty(t, snap.Degraded)
	assert.Equal(t, 1100.5, snap.TotalEquity)
	require.Len(t, snap.Positions, 1)
	require.Len(t, snap.History, 1)
	assert.Equal(t, ledger.ProvenanceHistory, snap.HistorySource)
	assert.InDelta(t, 0.5, snap.History[0].PnlRatio, 1e-12)
	require.NotNil(t, snap.Summary)
	assert.InDelta(t, 100.5, snap.Summary.TotalPnl, 1e-9)

	var body struct {
		Snapshot struct {
			CycleID   string `json:"cycleId"`
			TotalEq   float64
			Positions []map[string]interface{} `json:"positions"`
			History   []map[string]interface{} `json:"history"`
		} `json:"snapshot"`
		Loading bool `json:"loading"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/snapshot", &body))
	assert.Equal(t, snap.CycleID, body.Snapshot.CycleID)
	assert.Len(t, body.Snapshot.History, 1)
	assert.Equal(t, "ETHUSDT Perp", body.Snapshot.History[0]["label"])
	assert.Equal(t, "history-source", body.Snapshot.History[0]["provenance"])
	assert.Nil(t, body.Snapshot.History[0]["openTime"], "unknown time renders as null")
}

func TestRefresh_FallsBackToFillsEndToEnd(t *testing.T) {
	a, up := newTestApp(t)
	up.historyEmpty.Store(true)

	snap := a.RefreshOnce(context.Background())

	require.Len(t, snap.History, 1, "canceled fill must be excluded")
	assert.Equal(t, ledger.ProvenanceFills, snap.HistorySource)
	assert.Equal(t, ledger.SideLong, snap.History[0].Side)
	assert.Equal(t, 5.0, snap.History[0].Leverage)

	events, err := a.monitor.ListEvents(context.Background(), monitor.EventHistoryFallback, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRefresh_UpstreamDownStillPublishes(t *testing.T) {
	a, up := newTestApp(t)
	up.server.Close()

	snap := a.RefreshOnce(context.Background())

	require.NotNil(t, snap)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Positions)
	assert.Len(t, snap.Degraded, 3)

	var events []map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, a.Handler(), "/events?type=ERROR&limit=50", &events))
	assert.Len(t, events, 4)
}

func TestPreferencesEndpoints(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.Handler()

	var settings preferences.Settings
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/preferences", &settings))
	assert.True(t, settings.DarkMode)
	assert.True(t, settings.PositionsExpanded)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/preferences", strings.NewReader(`{"darkMode":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.False(t, settings.DarkMode)
	assert.True(t, settings.HistoryExpanded)

	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/preferences", &settings))
	assert.False(t, settings.DarkMode)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/preferences", bytes.NewReader([]byte(`{"theme":"x"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	a, _ := newTestApp(t)
	a.RefreshOnce(context.Background())
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracker_refresh_cycles_total")
	assert.Contains(t, rec.Body.String(), "tracker_open_positions 1")

	assert.Equal(t, http.StatusOK, getJSON(t, h, "/healthz", nil))
}

func TestRefreshEndpointQueuesCycle(t *testing.T) {
	a, up := newTestApp(t)
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.JSONEq(t, `{"queued":false}`, rec.Body.String(), "a pending request is coalesced")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return up.balanceCalls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NotNil(t, a.Aggregator().Current())
	assert.False(t, a.Aggregator().Loading())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReconcileOptions_AppliesOverrides(t *testing.T) {
	opts := reconcileOptions(config.ReconcileConfig{
		HistoryLimit:  20,
		FillLeverage:  3,
		HistoryFields: map[string][]string{"inst_id": {"code"}},
	})

	assert.Equal(t, 20, opts.HistoryLimit)
	assert.Equal(t, ledger.DefaultFillsLimit, opts.FillsLimit)
	assert.Equal(t, 3.0, opts.FillLeverage)
	assert.Equal(t, []string{"code"}, opts.HistoryFields[ledger.AttrInstID])
	assert.Equal(t, ledger.DefaultFillFields(), opts.FillFields)
}
