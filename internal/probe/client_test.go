package probe

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientSetsIdentificationHeaders(t *testing.T) {
	var gotUA, gotLang, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if gotUA != defaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, defaultUserAgent)
	}
	if gotLang != defaultAcceptLanguage {
		t.Errorf("Accept-Language = %q, want %q", gotLang, defaultAcceptLanguage)
	}
	if gotAccept == "" {
		t.Error("Accept header not set")
	}
}

func TestClientRetriesTransientStatuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// Shrink the backoff so the test does not sit in timers.
	rt := client.Transport.(*retryTransport)
	rt.backoff = time.Millisecond

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hit %d times, want 3", got)
	}
}

func TestClientStopsAfterRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Transport.(*retryTransport).backoff = time.Millisecond

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	// Initial attempt plus maxRetries.
	if got := hits.Load(); got != int32(maxRetries+1) {
		t.Fatalf("server hit %d times, want %d", got, maxRetries+1)
	}
}

func TestClientNeverRetriesPost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Transport.(*retryTransport).backoff = time.Millisecond

	resp, err := client.Post(srv.URL, "text/plain", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()

	if got := hits.Load(); got != 1 {
		t.Fatalf("server hit %d times, want 1 (retries are GET/HEAD only)", got)
	}
}

func TestClientCacheReusesUntilKeyChanges(t *testing.T) {
	var cache clientCache

	first, err := cache.get(ClientConfig{Timeout: time.Second})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := cache.get(ClientConfig{Timeout: time.Second})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Fatal("expected the same client for an unchanged key")
	}

	third, err := cache.get(ClientConfig{UseProxy: true, ProxyHostPort: "127.0.0.1:60000", Timeout: time.Second})
	if err != nil {
		t.Fatalf("get with proxy: %v", err)
	}
	if third == second {
		t.Fatal("expected a rebuilt client after the key changed")
	}
}

func TestClientConfigKey(t *testing.T) {
	a := ClientConfig{UseProxy: true, ProxyHostPort: "127.0.0.1:60000"}
	b := ClientConfig{UseProxy: true, ProxyHostPort: "127.0.0.1:60000", Timeout: time.Minute}
	if a.Key() != b.Key() {
		t.Errorf("keys differ for interchangeable configs: %q vs %q", a.Key(), b.Key())
	}
	c := ClientConfig{UseProxy: false, ProxyHostPort: "127.0.0.1:60000"}
	if a.Key() == c.Key() {
		t.Errorf("keys match across proxy toggle: %q", a.Key())
	}
}

func TestSocksDialerParsesCredentials(t *testing.T) {
	if _, err := socksDialer("user:pass@127.0.0.1:1080"); err != nil {
		t.Fatalf("with credentials: %v", err)
	}
	if _, err := socksDialer("127.0.0.1:1080"); err != nil {
		t.Fatalf("without credentials: %v", err)
	}
}
