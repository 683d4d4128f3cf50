package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/vHozang/CheckLink/internal/storage"
	"github.com/vHozang/CheckLink/pkg/types"
)

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <title>CheckLink &ndash; Storefront Monitor</title>
  <style>
    body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 72rem; color: #1c2733; }
    h1 { font-size: 1.5rem; }
    .kpis { display: flex; gap: 1rem; margin: 1rem 0; }
    .kpi { border: 1px solid #d8dee6; border-radius: 6px; padding: 0.75rem 1.25rem; min-width: 8rem; }
    .kpi .value { font-size: 1.5rem; font-weight: 600; }
    .kpi .label { color: #5b6b7c; font-size: 0.8rem; text-transform: uppercase; }
    form { border: 1px solid #d8dee6; border-radius: 6px; padding: 1rem; margin: 1rem 0; }
    textarea { width: 100%; min-height: 8rem; box-sizing: border-box; }
    table { border-collapse: collapse; width: 100%; font-size: 0.85rem; }
    th, td { border-bottom: 1px solid #e4e9ef; padding: 0.4rem 0.6rem; text-align: left; }
    .msg { background: #eef6ee; border: 1px solid #bcd9bc; border-radius: 4px; padding: 0.5rem 1rem; }
    .cls-ok { color: #1b7f3b; font-weight: 600; }
    .cls-bad { color: #b42318; font-weight: 600; }
    .cls-unpaid { color: #b25e09; font-weight: 600; }
    .downloads a { margin-right: 1rem; }
  </style>
</head>
<body>
  <h1>CheckLink &ndash; Storefront Monitor</h1>
  {{if .Message}}<p class="msg">{{.Message}}</p>{{end}}

  <div class="kpis">
    <div class="kpi"><div class="value">{{.Metrics.Total}}</div><div class="label">Tracked</div></div>
    <div class="kpi"><div class="value">{{.Metrics.Live}}</div><div class="label">Live ({{.Metrics.LivePct}}%)</div></div>
    <div class="kpi"><div class="value">{{.Metrics.Dead}}</div><div class="label">Dead ({{.Metrics.DeadPct}}%)</div></div>
    <div class="kpi"><div class="value">{{.Metrics.Unpaid}}</div><div class="label">Unpaid ({{.Metrics.UnpaidPct}}%)</div></div>
  </div>

  <form method="post" action="/check" enctype="multipart/form-data">
    <p><label>Links (one per line)</label><br/>
      <textarea name="links_text" placeholder="example.myshopify.com"></textarea></p>
    <p><label>Or upload a .txt file</label>
      <input type="file" name="txtfile" accept=".txt"/></p>
    <p><label>Cooldown interval (seconds)</label>
      <input type="number" name="interval" min="1" max="20" value="{{.IntervalSeconds}}"/></p>
    <p><button type="submit">Check links</button></p>
  </form>

  <p class="downloads">
    <a href="/export.csv">Download CSV</a>
    <a href="/export.json">Download JSON</a>
    <a href="/export.xlsx">Download XLSX</a>
    <a href="/docs">API docs</a>
  </p>

  <h2>Recent checks</h2>
  <table>
    <tr><th>URL</th><th>Classification</th><th>Status</th><th>Final URL</th><th>Title</th><th>Checked</th></tr>
    {{range .Checks}}
    <tr>
      <td>{{.URL}}</td>
      <td class="cls-{{.Group}}">{{.Classification}}</td>
      <td>{{if .HTTPStatus}}{{.HTTPStatus}}{{end}}</td>
      <td>{{.FinalURL}}</td>
      <td>{{.Title}}</td>
      <td>{{stamp .UpdatedAt}}</td>
    </tr>
    {{else}}
    <tr><td colspan="6">No checks yet.</td></tr>
    {{end}}
  </table>
</body>
</html>`))

type dashboardRow struct {
	storage.CheckRow
	Group string
}

type dashboardData struct {
	Message         string
	Metrics         storage.Metrics
	Checks          []dashboardRow
	IntervalSeconds int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	metrics, err := s.store.Metrics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rows, err := s.store.RecentChecks(r.Context(), s.cfg.Server.StatusLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	checks := make([]dashboardRow, 0, len(rows))
	for _, row := range rows {
		checks = append(checks, dashboardRow{
			CheckRow: row,
			Group:    types.Classification(row.Classification).Group(),
		})
	}

	data := dashboardData{
		Message:         r.URL.Query().Get("msg"),
		Metrics:         metrics,
		Checks:          checks,
		IntervalSeconds: int(s.cfg.Server.DefaultInterval.Duration / time.Second),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("dashboard render failed", "error", err)
	}
}
