package types

import (
	"fmt"
	"strings"
)

// Classification is the categorical outcome assigned to a single probe.
type Classification string

const (
	ClassLive         Classification = "LIVE"
	ClassPassword     Classification = "PASSWORD"
	ClassDead         Classification = "DEAD"
	ClassBlocked      Classification = "BLOCKED"
	ClassBlocked401   Classification = "BLOCKED(401)"
	ClassRetry        Classification = "RETRY"
	ClassTimeout      Classification = "TIMEOUT"
	ClassSSLError     Classification = "SSL_ERROR"
	ClassProxyFail    Classification = "PROXY_FAIL"
	ClassBlockedOrDNS Classification = "BLOCKED_OR_DNS"
	ClassUnreachable  Classification = "UNREACHABLE"
)

// ClassUnknown tags an HTTP status the classifier has no explicit rule for.
func ClassUnknown(status int) Classification {
	return Classification(fmt.Sprintf("UNKNOWN(%d)", status))
}

// Group buckets a classification for dashboard aggregation.
// "unpaid" covers statuses written by operators or older tooling; the
// classifier itself never emits them.
func (c Classification) Group() string {
	switch Classification(strings.ToUpper(string(c))) {
	case ClassLive, ClassPassword:
		return "ok"
	case ClassDead, ClassBlocked, ClassBlocked401, ClassBlockedOrDNS:
		return "bad"
	case "UNPAID", "UNPAID_PLAN":
		return "unpaid"
	default:
		return "other"
	}
}

// ProbeResult is the outcome of probing one storefront URL. Exactly one is
// produced per input URL; optional fields stay empty when not applicable
// (no FinalURL or HTTPStatus on a transport failure).
type ProbeResult struct {
	InputURL       string         `json:"input_url"`
	NormalizedURL  string         `json:"normalized_url"`
	FinalURL       string         `json:"final_url,omitempty"`
	HTTPStatus     int            `json:"http_status,omitempty"`
	Title          string         `json:"title,omitempty"`
	Classification Classification `json:"classification"`
	Error          string         `json:"error,omitempty"`
}
