package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// DBPinger is optional for health check. If nil, database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// LedgerTotaler reports whole-ledger totals.
type LedgerTotaler interface {
	Totals(ctx context.Context) (*ledger.Totals, error)
}

// CollectResult is the payload of /health/json and the dashboard.
type CollectResult struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Dependencies map[string]DepStatus `json:"dependencies"`
	Ledger       *LedgerInfo          `json:"ledger,omitempty"`
}

type RuntimeInfo struct {
	UptimeSeconds int64      `json:"uptimeSeconds"`
	Memory        MemoryInfo `json:"memory"`
	Goroutines    int        `json:"goroutines"`
	Platform      string     `json:"platform"`
	GoVersion     string     `json:"goVersion"`
}

type MemoryInfo struct {
	RSS      int `json:"rss"`
	HeapUsed int `json:"heapUsed"`
}

type TrafficInfo struct {
	TotalRequests   int         `json:"totalRequests"`
	SuccessCount    int         `json:"successCount"`
	FailedCount     int         `json:"failedCount"`
	SuccessRate     string      `json:"successRate"`
	AvgResponseTime interface{} `json:"avgResponseTime"`
	LastRequest     interface{} `json:"lastRequest"`
}

type DepStatus struct {
	Status string      `json:"status"`
	PingMs interface{} `json:"pingMs"`
}

// LedgerInfo shows pool balances and whether money is conserved.
type LedgerInfo struct {
	Status    string           `json:"status"`
	Net       int64            `json:"net"`
	Entries   int64            `json:"entries"`
	Accounts  int64            `json:"accounts"`
	Platform  map[string]int64 `json:"platform"`
	Conserved bool             `json:"conserved"`
}

// Collector gathers health data from Redis, the database, the ledger and external HTTP pings.
type Collector struct {
	Rdb    *redis.Client
	DB     DBPinger
	Ledger LedgerTotaler
	// Pings maps a dependency name to a URL that should answer a GET.
	Pings  map[string]string
	Client *http.Client
}

// Collect runs every probe. Status is "ok" only when the database and Redis are
// connected and the ledger, if probed, nets to zero.
func (h *Collector) Collect(ctx context.Context) CollectResult {
	result := CollectResult{
		Dependencies: make(map[string]DepStatus),
	}

	dbStatus := "disconnected"
	var dbPingMs *int64
	if h.DB != nil {
		start := time.Now()
		if err := h.DB.Ping(); err == nil {
			ms := time.Since(start).Milliseconds()
			dbPingMs = &ms
			dbStatus = "connected"
		} else {
			dbStatus = "error"
		}
	}
	result.Dependencies["database"] = DepStatus{Status: dbStatus, PingMs: dbPingMs}

	redisStatus, startTimeMs := h.collectTraffic(ctx, &result)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptimeSec := (time.Now().UnixMilli() - startTimeMs) / 1000
	if uptimeSec < 0 {
		uptimeSec = 0
	}
	result.Runtime = RuntimeInfo{
		UptimeSeconds: uptimeSec,
		Memory:        MemoryInfo{RSS: int(m.Sys / 1024 / 1024), HeapUsed: int(m.HeapInuse / 1024 / 1024)},
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}

	ledgerOK := true
	if h.Ledger != nil && dbStatus == "connected" {
		info := &LedgerInfo{Status: "error"}
		if totals, err := h.Ledger.Totals(ctx); err == nil {
			info = &LedgerInfo{
				Status:    "connected",
				Net:       totals.Net,
				Entries:   totals.Entries,
				Accounts:  totals.Accounts,
				Platform:  totals.Platform,
				Conserved: totals.Net == 0,
			}
		}
		ledgerOK = info.Conserved
		result.Ledger = info
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	for name, url := range h.Pings {
		ping := httpPing(ctx, client, url)
		status := "unreachable"
		if ping != nil {
			status = "reachable"
		}
		result.Dependencies[name] = DepStatus{Status: status, PingMs: ping}
	}

	if dbStatus == "connected" && redisStatus == "connected" && ledgerOK {
		result.Status = "ok"
	} else {
		result.Status = "issue"
	}
	return result
}

func (h *Collector) collectTraffic(ctx context.Context, result *CollectResult) (string, int64) {
	stats := TrafficInfo{AvgResponseTime: 0, SuccessRate: "100"}
	startTimeMs := time.Now().UnixMilli()
	defer func() { result.Traffic = stats }()

	if h.Rdb == nil {
		result.Dependencies["redis"] = DepStatus{Status: "disconnected"}
		return "disconnected", startTimeMs
	}
	start := time.Now()
	if err := h.Rdb.Ping(ctx).Err(); err != nil {
		result.Dependencies["redis"] = DepStatus{Status: "error"}
		return "error", startTimeMs
	}
	ms := time.Since(start).Milliseconds()
	result.Dependencies["redis"] = DepStatus{Status: "connected", PingMs: &ms}

	totalReq, _ := h.Rdb.Get(ctx, middleware.KeyReqTotal).Result()
	totalErr, _ := h.Rdb.Get(ctx, middleware.KeyReqErrors).Result()
	totalTime, _ := h.Rdb.Get(ctx, middleware.KeyResTime).Result()
	resCount, _ := h.Rdb.Get(ctx, middleware.KeyResCount).Result()
	startTimeStr, _ := h.Rdb.Get(ctx, middleware.KeyStartTime).Result()
	lastReqStr, _ := h.Rdb.Get(ctx, middleware.KeyLastReq).Result()

	if startTimeStr != "" {
		if t, err := strconv.ParseInt(startTimeStr, 10, 64); err == nil {
			startTimeMs = t
		}
	} else {
		h.Rdb.Set(ctx, middleware.KeyStartTime, startTimeMs, 0)
	}

	stats.TotalRequests, _ = strconv.Atoi(totalReq)
	stats.FailedCount, _ = strconv.Atoi(totalErr)
	stats.SuccessCount = stats.TotalRequests - stats.FailedCount
	if stats.TotalRequests > 0 {
		stats.SuccessRate = strconv.FormatFloat(float64(stats.SuccessCount)/float64(stats.TotalRequests)*100, 'f', 1, 64)
	}
	timeSum, _ := strconv.ParseFloat(totalTime, 64)
	countSum, _ := strconv.Atoi(resCount)
	if countSum > 0 {
		stats.AvgResponseTime = strconv.FormatFloat(timeSum/float64(countSum), 'f', 2, 64)
	}
	if lastReqStr != "" {
		var lastReq map[string]interface{}
		_ = json.Unmarshal([]byte(lastReqStr), &lastReq)
		stats.LastRequest = lastReq
	}
	return "connected", startTimeMs
}

func httpPing(ctx context.Context, client *http.Client, url string) *int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	ms := time.Since(start).Milliseconds()
	return &ms
}
