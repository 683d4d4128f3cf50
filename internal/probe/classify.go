package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"

	"github.com/vHozang/CheckLink/pkg/types"
)

// RuleSet holds the content heuristics that recognise password-gated and
// unavailable storefront pages. The defaults target one storefront template
// family; the patterns are best-effort and replaceable.
type RuleSet struct {
	Password    *regexp.Regexp
	Unavailable *regexp.Regexp
}

// DefaultRules returns the built-in storefront patterns.
func DefaultRules() RuleSet {
	return RuleSet{
		Password: regexp.MustCompile(
			`(?i)(opening\s+soon|enter\s+using\s+password|template-password|name="password")`),
		Unavailable: regexp.MustCompile(
			`(?is)(this\s+store\s+is\s+unavailable).*?(something\s+went\s+wrong|return\s+to\s+the\s+previous\s+page|request\s+id)`),
	}
}

func (r RuleSet) isPasswordPage(finalURL, body string) bool {
	if u, err := url.Parse(finalURL); err == nil {
		if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/password") {
			return true
		}
	}
	return r.Password != nil && r.Password.MatchString(body)
}

func (r RuleSet) isUnavailablePage(body string) bool {
	return r.Unavailable != nil && r.Unavailable.MatchString(body)
}

// Classify maps a completed HTTP exchange to a classification. First match
// wins. Redirects are expected to have been followed already, so finalURL
// and body are post-redirect values.
func (r RuleSet) Classify(finalURL, body string, status int) types.Classification {
	switch {
	case status == http.StatusUnauthorized:
		return types.ClassBlocked401
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return types.ClassBlocked
	case status == http.StatusNotFound || status == http.StatusGone:
		return types.ClassDead
	case status == http.StatusInternalServerError || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		// The client already retried these; reaching here means the
		// failure persisted past the retry budget.
		return types.ClassRetry
	case r.isPasswordPage(finalURL, body):
		return types.ClassPassword
	case r.isUnavailablePage(body):
		return types.ClassDead
	case status == http.StatusOK:
		return types.ClassLive
	default:
		return types.ClassUnknown(status)
	}
}

// classifyTransportError maps a failed exchange (no response) to a
// classification. Precedence: proxy, timeout, TLS, connection/DNS, then a
// catch-all for anything else the transport can produce.
func classifyTransportError(err error) types.Classification {
	var perr *proxyError
	if errors.As(err, &perr) {
		return types.ClassProxyFail
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.ClassTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return types.ClassTimeout
	}

	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &recordErr) ||
		errors.As(err, &hostErr) || errors.As(err, &authErr) ||
		errors.As(err, &invalidErr) ||
		strings.Contains(err.Error(), "tls:") {
		return types.ClassSSLError
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return types.ClassBlockedOrDNS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return types.ClassBlockedOrDNS
	}

	return types.ClassUnreachable
}
