package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-tracker/internal/ledger"
	"okx-tracker/internal/position"
	"okx-tracker/internal/snapshot"
)

func TestObserveCycle_UpdatesMetrics(t *testing.T) {
	m := New()

	snap := &snapshot.AccountSnapshot{
		TotalEquity:   1500,
		Positions:     []position.Record{{}, {}},
		History:       []ledger.HistoryRecord{{}, {}, {}},
		HistorySource: ledger.ProvenanceFills,
		Degraded:      []snapshot.Slice{snapshot.SliceBalance},
	}
	report := snapshot.Report{
		Duration:   250 * time.Millisecond,
		BalanceErr: errors.New("down"),
		History: ledger.Result{
			PrimaryErr:   errors.New("history down"),
			FallbackUsed: true,
		},
		Degraded: snap.Degraded,
	}

	m.ObserveCycle(context.Background(), snap, report)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFailuresTotal.WithLabelValues("balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFailuresTotal.WithLabelValues("history")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SourceFailuresTotal.WithLabelValues("positions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HistoryRecords.WithLabelValues("fills-fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.TotalEquity))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveCycle(context.Background(), &snapshot.AccountSnapshot{}, snapshot.Report{})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tracker_refresh_cycles_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), "tracker_refresh_cycle_duration_seconds_bucket")
}

func TestObserveCycle_CountsRatioSources(t *testing.T) {
	m := New()

	snap := &snapshot.AccountSnapshot{
		History: []ledger.HistoryRecord{
			{RatioSource: ledger.RatioUpstream},
			{RatioSource: ledger.RatioUpstream},
			{RatioSource: ledger.RatioMargin},
			{},
		},
		HistorySource: ledger.ProvenanceHistory,
	}
	m.ObserveCycle(context.Background(), snap, snapshot.Report{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HistoryRatioSources.WithLabelValues("upstream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HistoryRatioSources.WithLabelValues("margin")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HistoryRatioSources))

	m.ObserveCycle(context.Background(), &snapshot.AccountSnapshot{}, snapshot.Report{})
	assert.Equal(t, 0, testutil.CollectAndCount(m.HistoryRatioSources))
}
