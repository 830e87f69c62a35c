package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"agrifin-backend/internal/application/ledger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping() error { return p.err }

type totaler struct {
	totals *ledger.Totals
	err    error
}

func (t totaler) Totals(context.Context) (*ledger.Totals, error) { return t.totals, t.err }

func TestCollect_WithNilRedis(t *testing.T) {
	result := (&Collector{}).Collect(context.Background())
	assert.Equal(t, "issue", result.Status)
	assert.Equal(t, "disconnected", result.Dependencies["database"].Status)
	assert.Equal(t, "disconnected", result.Dependencies["redis"].Status)
	assert.Equal(t, 0, result.Traffic.TotalRequests)
	assert.Nil(t, result.Ledger)
}

func TestCollect_WithMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	h := &Collector{Rdb: rdb, DB: pinger{}}

	result := h.Collect(ctx)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "connected", result.Dependencies["redis"].Status)
	assert.Equal(t, 0, result.Traffic.TotalRequests)
	assert.Equal(t, "100", result.Traffic.SuccessRate)

	require.NoError(t, rdb.Set(ctx, "health:global:req_total", "10", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:req_errors", "2", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:res_time_total", "150.5", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:res_count", "10", 0).Err())
	require.NoError(t, rdb.Set(ctx, "health:global:start_time", "1000000", 0).Err())

	result2 := h.Collect(ctx)
	assert.Equal(t, 10, result2.Traffic.TotalRequests)
	assert.Equal(t, 2, result2.Traffic.FailedCount)
	assert.Equal(t, 8, result2.Traffic.SuccessCount)
	assert.Equal(t, "80.0", result2.Traffic.SuccessRate)
	assert.Equal(t, "15.05", result2.Traffic.AvgResponseTime)
}

func TestCollect_LedgerImbalanceIsAnIssue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	balanced := &Collector{Rdb: rdb, DB: pinger{}, Ledger: totaler{totals: &ledger.Totals{Net: 0, Platform: map[string]int64{"loan_pool": 500}}}}
	r := balanced.Collect(context.Background())
	assert.Equal(t, "ok", r.Status)
	require.NotNil(t, r.Ledger)
	assert.True(t, r.Ledger.Conserved)

	skewed := &Collector{Rdb: rdb, DB: pinger{}, Ledger: totaler{totals: &ledger.Totals{Net: 7}}}
	r = skewed.Collect(context.Background())
	assert.Equal(t, "issue", r.Status)
	assert.Equal(t, int64(7), r.Ledger.Net)

	broken := &Collector{Rdb: rdb, DB: pinger{}, Ledger: totaler{err: errors.New("db gone")}}
	r = broken.Collect(context.Background())
	assert.Equal(t, "issue", r.Status)
	assert.Equal(t, "error", r.Ledger.Status)
}

func TestCollect_ExternalPings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := &Collector{Pings: map[string]string{"stripe": srv.URL, "frontend": "http://127.0.0.1:1"}}
	r := h.Collect(context.Background())
	assert.Equal(t, "reachable", r.Dependencies["stripe"].Status)
	assert.Equal(t, "unreachable", r.Dependencies["frontend"].Status)
}

func TestRenderDashboardHTML(t *testing.T) {
	res := (&Collector{DB: pinger{}, Ledger: totaler{totals: &ledger.Totals{Platform: map[string]int64{"escrow_pool": 42}}}}).Collect(context.Background())
	html, err := RenderDashboardHTML(res)
	require.NoError(t, err)
	assert.Contains(t, html, "AgriFin · API Status")
	assert.Contains(t, html, "System Issues Detected")
	assert.Contains(t, html, "escrow_pool")
	assert.Contains(t, html, "/health/errors")
}
