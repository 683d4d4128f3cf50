package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vHozang/CheckLink/internal/config"
	"github.com/vHozang/CheckLink/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(config.SQLConfig{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "checklink.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func result(url string, class types.Classification, status int) types.ProbeResult {
	return types.ProbeResult{
		InputURL:       url,
		NormalizedURL:  url,
		FinalURL:       url,
		HTTPStatus:     status,
		Classification: class,
	}
}

func TestSaveResultsInsertsAndRecordsEvent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	changed, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
		result("https://b.example.com", types.ClassDead, 404),
	}, time.Now())
	if err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	// First sight of a URL with a classification counts as a change.
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}

	rows, err := store.AllChecks(ctx)
	if err != nil {
		t.Fatalf("AllChecks: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].URL != "https://a.example.com" || rows[0].Classification != "LIVE" {
		t.Errorf("row 0 = %+v", rows[0])
	}

	events, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// New URLs record no prior classification.
	for _, evt := range events {
		if evt.Prev != "" {
			t.Errorf("event %d: prev = %q, want empty", evt.ID, evt.Prev)
		}
	}
}

func TestSaveResultsUpsertWithoutChange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
	}, time.Now()); err != nil {
		t.Fatalf("first save: %v", err)
	}

	changed, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
	}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if changed != 0 {
		t.Fatalf("changed = %d, want 0 for an unchanged classification", changed)
	}

	events, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestSaveResultsRecordsTransition(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
	}, base); err != nil {
		t.Fatalf("first save: %v", err)
	}

	changed, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassDead, 404),
	}, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}

	events, err := store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Prev != "LIVE" || events[0].New != "DEAD" {
		t.Errorf("latest event = %+v, want LIVE -> DEAD", events[0])
	}

	rows, err := store.AllChecks(ctx)
	if err != nil {
		t.Fatalf("AllChecks: %v", err)
	}
	if rows[0].Classification != "DEAD" || rows[0].HTTPStatus != 404 {
		t.Errorf("row = %+v, want updated to DEAD/404", rows[0])
	}
	if !rows[0].UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("updated_at = %s, want %s", rows[0].UpdatedAt, base.Add(time.Hour))
	}
}

func TestRecentChecksOrdersNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, u := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		if _, err := store.SaveResults(ctx, []types.ProbeResult{
			result(u, types.ClassLive, 200),
		}, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("save %s: %v", u, err)
		}
	}

	rows, err := store.RecentChecks(ctx, 2)
	if err != nil {
		t.Fatalf("RecentChecks: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].URL != "https://c.example.com" || rows[1].URL != "https://b.example.com" {
		t.Errorf("order = %s, %s; want c then b", rows[0].URL, rows[1].URL)
	}
}

func TestMetricsGroupsClassifications(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	results := []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
		result("https://b.example.com", types.ClassPassword, 200),
		result("https://c.example.com", types.ClassDead, 404),
		result("https://d.example.com", types.ClassBlocked401, 401),
		result("https://e.example.com", types.ClassUnknown(302), 302),
	}
	if _, err := store.SaveResults(ctx, results, time.Now()); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	m, err := store.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.Total != 5 {
		t.Errorf("total = %d, want 5", m.Total)
	}
	// LIVE and PASSWORD both count as live storefronts.
	if m.Live != 2 {
		t.Errorf("live = %d, want 2", m.Live)
	}
	if m.Dead != 2 {
		t.Errorf("dead = %d, want 2", m.Dead)
	}
	if m.Unpaid != 0 {
		t.Errorf("unpaid = %d, want 0", m.Unpaid)
	}
	if m.LivePct != 40.0 {
		t.Errorf("live_pct = %v, want 40.0", m.LivePct)
	}
}

func TestLastCheckedAt(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastCheckedAt(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want no timestamp", ok, err)
	}

	stamp := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.SaveResults(ctx, []types.ProbeResult{
		result("https://a.example.com", types.ClassLive, 200),
	}, stamp); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	got, ok, err := store.LastCheckedAt(ctx)
	if err != nil {
		t.Fatalf("LastCheckedAt: %v", err)
	}
	if !ok {
		t.Fatal("expected a timestamp after saving")
	}
	if !got.Equal(stamp) {
		t.Errorf("last checked = %s, want %s", got, stamp)
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind("SELECT 1 FROM t WHERE a = ? AND b = ?")
	want := "SELECT 1 FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	s.driver = "sqlite"
	query := "SELECT 1 FROM t WHERE a = ?"
	if got := s.rebind(query); got != query {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
}
