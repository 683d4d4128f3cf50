package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/internal/exporter"
	"github.com/vHozang/CheckLink/internal/notify"
	"github.com/vHozang/CheckLink/internal/probe"
	"github.com/vHozang/CheckLink/internal/storage"
	"github.com/vHozang/CheckLink/pkg/types"
)

// ErrCooldown indicates a run was requested before the cooldown elapsed.
var ErrCooldown = errors.New("previous run finished too recently")

const maxUploadBytes = 5 * 1024 * 1024

// BatchFunc executes a probe batch; swapped out in tests.
type BatchFunc func(ctx context.Context, opts probe.Options, urls []string) []types.ProbeResult

func runBatch(ctx context.Context, opts probe.Options, urls []string) []types.ProbeResult {
	return probe.NewRunner(opts).CheckLinks(ctx, urls)
}

// Server exposes the HTTP front-end: dashboard, JSON API, and exports.
type Server struct {
	cfg      config.Config
	store    *storage.Store
	notifier *notify.Notifier
	runs     *RunManager
	batch    BatchFunc
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(cfg config.Config, store *storage.Store, notifier *notify.Notifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		runs:     NewRunManager(cfg.Server.MaxConcurrentRuns),
		batch:    runBatch,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/check", s.handleCheckForm)
	s.mux.HandleFunc("/api/checks", s.handleChecks)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/metrics", s.handleMetrics)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunByID)
	s.mux.HandleFunc("/export.csv", s.handleExport("csv"))
	s.mux.HandleFunc("/export.json", s.handleExport("json"))
	s.mux.HandleFunc("/export.xlsx", s.handleExport("xlsx"))
	s.mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	s.mux.HandleFunc("/docs", s.handleDocs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rows, err := s.store.RecentChecks(r.Context(), s.cfg.Server.StatusLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []storage.CheckRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		s.createCheckRun(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) createCheckRun(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json payload: %v", err), http.StatusBadRequest)
		return
	}

	lines := append([]string(nil), req.URLs...)
	lines = append(lines, linewise(req.Text)...)

	resp, err := s.executeRun(r.Context(), lines, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrCooldown):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		case errors.Is(err, ErrMaxConcurrency):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleCheckForm serves the dashboard form: links pasted as text or
// uploaded as a .txt file, then a redirect back to the index.
func (s *Server) handleCheckForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if err := r.ParseForm(); err != nil {
			s.redirectWithMessage(w, r, "could not read form input")
			return
		}
	}

	lines := linewise(r.FormValue("links_text"))
	if file, _, err := r.FormFile("txtfile"); err == nil {
		defer file.Close()
		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			s.redirectWithMessage(w, r, "could not read the uploaded file")
			return
		}
		lines = append(lines, linewise(string(content))...)
	}

	req := CheckRequest{IntervalSeconds: parseFloat(r.FormValue("interval"))}
	resp, err := s.executeRun(r.Context(), lines, req)
	if err != nil {
		s.redirectWithMessage(w, r, err.Error())
		return
	}
	s.redirectWithMessage(w, r, fmt.Sprintf("checked %d links, %d changed", resp.Run.Checked, resp.Run.Changed))
}

// executeRun is the shared run path for both front-ends: normalize and
// de-duplicate the input, enforce the batch cap and cooldown, probe,
// persist, and notify.
func (s *Server) executeRun(ctx context.Context, lines []string, req CheckRequest) (*CheckResponse, error) {
	urls := dedupePreserve(normalizeAll(lines))
	if len(urls) == 0 {
		return nil, errors.New("no links provided")
	}

	truncated := false
	if len(urls) > s.cfg.Probe.MaxBatch {
		urls = urls[:s.cfg.Probe.MaxBatch]
		truncated = true
	}

	if err := s.checkCooldown(ctx, req.IntervalSeconds); err != nil {
		return nil, err
	}

	run, err := s.runs.Begin(len(urls))
	if err != nil {
		return nil, err
	}

	opts := s.probeOptions(req)
	results := s.batch(ctx, opts, urls)

	changed, err := s.store.SaveResults(ctx, results, time.Now())
	if err != nil {
		s.runs.Finish(run.ID, len(results), 0, truncated, err)
		return nil, fmt.Errorf("persist results: %w", err)
	}
	s.runs.Finish(run.ID, len(results), changed, truncated, nil)

	s.sendSummary(ctx, run.ID, len(results), changed)

	final, _ := s.runs.Get(run.ID)
	return &CheckResponse{Run: final, Results: results}, nil
}

func (s *Server) probeOptions(req CheckRequest) probe.Options {
	timeout := clampSeconds(req.TimeoutSeconds, s.cfg.Probe.Timeout.Duration, time.Second, 60*time.Second)

	workers := req.Workers
	if workers <= 0 {
		workers = s.cfg.Probe.Workers
	}

	delay := s.cfg.Probe.PerLinkDelay.Duration
	if req.DelaySeconds != nil {
		delay = time.Duration(math.Max(0, *req.DelaySeconds) * float64(time.Second))
	}

	return probe.Options{
		Client: probe.ClientConfig{
			UseProxy:       s.cfg.Proxy.Enabled,
			ProxyHostPort:  s.cfg.Proxy.HostPort,
			Timeout:        timeout,
			UserAgent:      s.cfg.Probe.UserAgent,
			AcceptLanguage: s.cfg.Probe.AcceptLanguage,
		},
		Workers:      workers,
		PerLinkDelay: &delay,
		RateLimit: probe.RateLimit{
			Requests: s.cfg.Probe.RateLimit.Requests,
			Window:   s.cfg.Probe.RateLimit.Window.Duration,
		},
		MaxBodyBytes: s.cfg.Probe.MaxBodyBytes,
		Logger:       s.logger,
	}
}

func (s *Server) checkCooldown(ctx context.Context, intervalSeconds float64) error {
	interval := clampSeconds(intervalSeconds, s.cfg.Server.DefaultInterval.Duration, time.Second, 20*time.Second)
	last, ok, err := s.store.LastCheckedAt(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	elapsed := time.Since(last)
	if elapsed < interval {
		wait := (interval - elapsed).Round(time.Second)
		return fmt.Errorf("%w: wait %s", ErrCooldown, wait)
	}
	return nil
}

func (s *Server) sendSummary(ctx context.Context, runID string, checked, changed int) {
	if s.notifier == nil {
		return
	}
	metrics, err := s.store.Metrics(ctx)
	if err != nil {
		s.logger.Warn("metrics for notification failed", "error", err)
		return
	}
	if err := s.notifier.Send(ctx, notify.Summary{
		RunID:      runID,
		Checked:    checked,
		Changed:    changed,
		Metrics:    metrics,
		FinishedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("run notification failed", "run_id", runID, "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	events, err := s.store.ListEvents(r.Context(), 200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []storage.ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	metrics, err := s.store.Metrics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.runs.List())
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	run, ok := s.runs.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
			return
		}
		rows, err := s.store.AllChecks(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", exporter.Filename(format)))

		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			err = exporter.WriteCSV(w, rows)
		case "json":
			w.Header().Set("Content-Type", "application/json")
			err = exporter.WriteJSON(w, rows)
		case "xlsx":
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			err = exporter.WriteXLSX(w, rows)
		}
		if err != nil {
			s.logger.Error("export failed", "format", format, "error", err)
		}
	}
}

func (s *Server) redirectWithMessage(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/?msg="+url.QueryEscape(msg), http.StatusSeeOther)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func linewise(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func normalizeAll(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, probe.Normalize(line))
	}
	return out
}

func dedupePreserve(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func clampSeconds(v float64, fallback, lo, hi time.Duration) time.Duration {
	d := fallback
	if v > 0 {
		d = time.Duration(v * float64(time.Second))
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
