package health

import (
	"bytes"
	"html/template"
	"sort"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>AgriFin · API Status</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>
    :root { --green: #2f6b3a; --dark: #1d2b1f; --accent: #e0a526; --bg: #f7f8f4; --muted: #64748b; }
    * { box-sizing: border-box; }
    body { background: var(--bg); color: var(--dark); font-family: system-ui, sans-serif; margin: 0; padding: 40px 0; }
    .container { max-width: 1100px; margin: 0 auto; padding: 0 20px; }
    h1 { font-size: 44px; font-weight: 900; letter-spacing: -2px; margin: 0 0 8px; }
    h1.issue { color: #b91c1c; }
    .subtext { color: var(--muted); font-weight: 700; margin-bottom: 30px; }
    .card { background: #fff; border-radius: 24px; box-shadow: 0 20px 60px -20px rgba(47,107,58,.2); overflow: hidden; }
    .grid { display: grid; grid-template-columns: repeat(4, 1fr); }
    .col { padding: 32px; border-right: 1px solid rgba(0,0,0,.05); }
    .col:last-child { border-right: none; }
    .label { text-transform: uppercase; font-size: 11px; font-weight: 900; letter-spacing: 2px; color: #94a3b8; margin-bottom: 20px; }
    .big { font-size: 34px; font-weight: 900; margin-bottom: 10px; }
    .row { display: flex; justify-content: space-between; padding: 7px 0; border-bottom: 1px solid rgba(0,0,0,.03); font-size: 14px; font-weight: 700; }
    .ok { color: var(--green); }
    .err { color: #ef4444; }
    .footer { background: rgba(29,43,31,.03); padding: 16px 32px; font-family: monospace; font-size: 13px; display: flex; justify-content: space-between; }
    a.btn { display: inline-block; margin-top: 24px; color: var(--muted); font-weight: 800; text-decoration: none; border: 1px solid rgba(0,0,0,.1); padding: 8px 18px; border-radius: 10px; }
    @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } .col { border-right: none; border-bottom: 1px solid rgba(0,0,0,.05); } }
  </style>
</head>
<body>
  <div class="container">
    {{if eq .Status "ok"}}<h1>All Systems Operational</h1>{{else}}<h1 class="issue">System Issues Detected</h1>{{end}}
    <p class="subtext">Lending, escrow and ledger health. The page reloads every 30 seconds.</p>
    <div class="card">
      <div class="grid">
        <div class="col">
          <div class="label">Traffic</div>
          <div class="big">{{.Traffic.TotalRequests}}</div>
          <div class="row"><span>Successful</span><span class="ok">{{.Traffic.SuccessCount}}</span></div>
          <div class="row"><span>Failed</span><span class="err">{{.Traffic.FailedCount}}</span></div>
          <div class="row"><span>Success Rate</span><span>{{.Traffic.SuccessRate}}%</span></div>
          <div class="row"><span>Avg Latency</span><span>{{.Traffic.AvgResponseTime}}ms</span></div>
        </div>
        <div class="col">
          <div class="label">Runtime</div>
          <div class="big">{{.Runtime.UptimeSeconds}}s</div>
          <div class="row"><span>Heap Used</span><span>{{.Runtime.Memory.HeapUsed}} MB</span></div>
          <div class="row"><span>Memory (Sys)</span><span>{{.Runtime.Memory.RSS}} MB</span></div>
          <div class="row"><span>Goroutines</span><span>{{.Runtime.Goroutines}}</span></div>
          <div class="row"><span>Platform</span><span>{{.Runtime.Platform}}</span></div>
        </div>
        <div class="col">
          <div class="label">Connectivity</div>
          {{range .Deps}}<div class="row"><span>{{.Name}}</span><span class="{{if .OK}}ok{{else}}err{{end}}">{{.Status}}</span></div>
          {{end}}
        </div>
        <div class="col">
          <div class="label">Ledger</div>
          {{with .Ledger}}
          <div class="big {{if .Conserved}}ok{{else}}err{{end}}">{{if .Conserved}}balanced{{else}}net {{.Net}}{{end}}</div>
          <div class="row"><span>Entries</span><span>{{.Entries}}</span></div>
          <div class="row"><span>Accounts</span><span>{{.Accounts}}</span></div>
          {{range $code, $bal := .Platform}}<div class="row"><span>{{$code}}</span><span>{{$bal}}</span></div>
          {{end}}
          {{else}}<div class="row"><span>not probed</span></div>{{end}}
        </div>
      </div>
      <div class="footer">
        <span>LAST INBOUND</span><span>{{.LastMethod}}</span><span>{{.LastPath}}</span><span>{{.LastIP}}</span>
      </div>
    </div>
    <a class="btn" href="/health/errors">View Error Log</a>
  </div>
  <script>
    setTimeout(() => location.reload(), 30000);
  </script>
</body>
</html>`))

type depRow struct {
	Name   string
	Status string
	OK     bool
}

type dashboardView struct {
	CollectResult
	Deps       []depRow
	LastMethod string
	LastPath   string
	LastIP     string
}

// RenderDashboardHTML returns the HTML status page for GET /.
func RenderDashboardHTML(health CollectResult) (string, error) {
	view := dashboardView{CollectResult: health, LastMethod: "-", LastPath: "-", LastIP: "-"}
	for name, dep := range health.Dependencies {
		view.Deps = append(view.Deps, depRow{
			Name:   name,
			Status: dep.Status,
			OK:     dep.Status == "connected" || dep.Status == "reachable",
		})
	}
	sort.Slice(view.Deps, func(i, j int) bool { return view.Deps[i].Name < view.Deps[j].Name })
	if m, ok := health.Traffic.LastRequest.(map[string]interface{}); ok {
		if v, ok := m["method"].(string); ok {
			view.LastMethod = v
		}
		if v, ok := m["path"].(string); ok {
			view.LastPath = v
		}
		if v, ok := m["ip"].(string); ok {
			view.LastIP = v
		}
	}
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
