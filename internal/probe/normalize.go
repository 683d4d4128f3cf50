package probe

import "strings"

// Normalize trims surrounding whitespace and prepends https:// when the URL
// carries no http(s) scheme. Idempotent; otherwise passes input through
// untouched, leaving validation to the request itself.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}
