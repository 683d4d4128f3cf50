package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWithoutURLReturnsNil(t *testing.T) {
	if n := New(config.NotifyConfig{}, discardLogger()); n != nil {
		t.Fatal("expected nil notifier for an empty webhook url")
	}
}

func TestNilNotifierSendIsNoop(t *testing.T) {
	var n *Notifier
	if err := n.Send(context.Background(), Summary{}); err != nil {
		t.Fatalf("nil notifier returned %v", err)
	}
}

func TestSendPostsSummary(t *testing.T) {
	var got Summary
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{
		WebhookURL: srv.URL,
		Timeout:    config.DurationFrom(5 * time.Second),
	}, discardLogger())

	summary := Summary{
		RunID:      "run-1",
		Checked:    10,
		Changed:    3,
		Metrics:    storage.Metrics{Total: 10, Live: 7, LivePct: 70},
		FinishedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := n.Send(context.Background(), summary); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}
	if got.RunID != "run-1" || got.Checked != 10 || got.Changed != 3 {
		t.Errorf("payload = %+v", got)
	}
	if got.Metrics.Live != 7 {
		t.Errorf("metrics = %+v", got.Metrics)
	}
}

func TestSendReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{WebhookURL: srv.URL}, discardLogger())
	if err := n.Send(context.Background(), Summary{}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}
