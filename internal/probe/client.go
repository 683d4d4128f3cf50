package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// Desktop Chrome user agent; storefronts serve the full template to it.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "en-US,en;q=0.9"
	defaultTimeout        = 20 * time.Second

	maxRetries   = 3
	retryBackoff = 500 * time.Millisecond
)

// ClientConfig fixes how probe clients are built. It is supplied once per
// batch and never mutated afterwards.
type ClientConfig struct {
	UseProxy       bool
	ProxyHostPort  string // host:port, optionally user:pass@host:port
	Timeout        time.Duration
	UserAgent      string
	AcceptLanguage string
}

// Key identifies the client a config produces. Two configs with equal keys
// build interchangeable clients.
func (c ClientConfig) Key() string {
	return fmt.Sprintf("%t|%s", c.UseProxy, c.ProxyHostPort)
}

// NewClient builds an HTTP client with the probe retry policy, fixed
// identification headers, and optional SOCKS5 routing. Construction has no
// side effect beyond allocating the client.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.UseProxy && strings.TrimSpace(cfg.ProxyHostPort) != "" {
		dial, err := socksDialer(cfg.ProxyHostPort)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy: %w", err)
		}
		transport.DialContext = dial
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	acceptLanguage := cfg.AcceptLanguage
	if acceptLanguage == "" {
		acceptLanguage = defaultAcceptLanguage
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			next: &headerTransport{
				next:           transport,
				userAgent:      userAgent,
				acceptLanguage: acceptLanguage,
			},
			maxRetries: maxRetries,
			backoff:    retryBackoff,
		},
	}, nil
}

// proxyError marks failures that occurred while dialing through the SOCKS5
// proxy, so the classifier can tell them apart from plain connection errors.
type proxyError struct {
	err error
}

func (e *proxyError) Error() string { return e.err.Error() }
func (e *proxyError) Unwrap() error { return e.err }

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// socksDialer routes all connections through a SOCKS5 proxy. Hostnames are
// handed to the proxy untouched, so DNS resolution happens remotely and
// never leaks to the local resolver.
func socksDialer(hostport string) (dialContextFunc, error) {
	addr := hostport
	var auth *proxy.Auth
	if at := strings.LastIndex(hostport, "@"); at >= 0 {
		user, pass, _ := strings.Cut(hostport[:at], ":")
		auth = &proxy.Auth{User: user, Password: pass}
		addr = hostport[at+1:]
	}

	dialer, err := proxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support context dialing")
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := contextDialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, &proxyError{err: err}
		}
		return conn, nil
	}, nil
}

// headerTransport stamps the fixed identification headers onto every hop,
// including retries and followed redirects.
type headerTransport struct {
	next           http.RoundTripper
	userAgent      string
	acceptLanguage string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	clone.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	clone.Header.Set("Accept-Language", t.acceptLanguage)
	clone.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return t.next.RoundTrip(clone)
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryTransport retries GET/HEAD requests on transient upstream statuses
// with exponential backoff (base 0.5s: 0.5s, 1s, 2s). Transport errors are
// returned as-is; the classifier owns those.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	retries := t.maxRetries
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		retries = 0
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req)
		if err != nil || attempt >= retries || !retryStatuses[resp.StatusCode] {
			return resp, err
		}

		// Drain so the connection can be reused for the retry.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()

		wait := t.backoff << attempt
		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// clientCache lazily builds and reuses one HTTP client per worker, keyed by
// the client config. Each cache is owned by exactly one goroutine, so the
// transport's connection pool is never shared and needs no locking.
type clientCache struct {
	key    string
	client *http.Client
}

func (c *clientCache) get(cfg ClientConfig) (*http.Client, error) {
	key := cfg.Key()
	if c.client != nil && c.key == key {
		return c.client, nil
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c.client = client
	c.key = key
	return client, nil
}
