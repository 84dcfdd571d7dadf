package ghauth

import (
	"fmt"
	"regexp"
	"strings"
)

// Redacted replaces any value considered secret.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively as substrings of a field name,
// so "github_access_token" and "X-Session-Id" are both caught.
var sensitiveKeys = []string{
	"access_token",
	"accesstoken",
	"token",
	"secret",
	"password",
	"client_secret",
	"clientsecret",
	"session",
	"sessiontoken",
	"state",
	"oauth_state",
	"authorization",
	"cookie",
	"set-cookie",
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`(?i)gho_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`(?i)ghs_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`(?i)session=[^;]+`),
	regexp.MustCompile(`(?i)oauth_state=[^;]+`),
}

// IsSensitiveKey reports whether a field with this name must be redacted.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// SanitizeString replaces every secret-looking substring of s with [REDACTED].
func SanitizeString(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, Redacted)
	}
	return s
}

// SanitizeError returns the sanitized message of err, or "" for nil.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// Sanitize returns a copy of v with sensitive map fields redacted and every
// string run through SanitizeString. Maps and slices are walked recursively;
// other scalars are rendered with fmt and sanitized.
func Sanitize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return SanitizeString(t)
	case error:
		return SanitizeError(t)
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Sanitize(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = SanitizeString(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = SanitizeString(val)
		}
		return out
	case fmt.Stringer:
		return SanitizeString(t.String())
	default:
		return SanitizeString(fmt.Sprint(t))
	}
}
