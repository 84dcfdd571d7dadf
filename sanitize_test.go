package ghauth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_RedactsSensitiveFields(t *testing.T) {
	out := Sanitize(map[string]any{
		"access_token": "ghp_xxx",
		"name":         "ok",
	}).(map[string]any)

	assert.Equal(t, Redacted, out["access_token"])
	assert.Equal(t, "ok", out["name"])
}

func TestSanitize_KeyMatchIsCaseInsensitiveSubstring(t *testing.T) {
	out := Sanitize(map[string]any{
		"ClientSecret":       "shh",
		"X-Session-Id":       "abc",
		"github_accessToken": "t",
		"Authorization":      "Bearer abc",
		"login":              "octocat",
	}).(map[string]any)

	assert.Equal(t, Redacted, out["ClientSecret"])
	assert.Equal(t, Redacted, out["X-Session-Id"])
	assert.Equal(t, Redacted, out["github_accessToken"])
	assert.Equal(t, Redacted, out["Authorization"])
	assert.Equal(t, "octocat", out["login"])
}

func TestSanitize_Nested(t *testing.T) {
	out := Sanitize(map[string]any{
		"request": map[string]any{
			"headers": map[string]string{"cookie": "session=abc", "accept": "json"},
			"notes":   []any{"Bearer abc.def", 42},
		},
	}).(map[string]any)

	req := out["request"].(map[string]any)
	headers := req["headers"].(map[string]string)
	assert.Equal(t, Redacted, headers["cookie"])
	assert.Equal(t, "json", headers["accept"])

	notes := req["notes"].([]any)
	assert.Equal(t, Redacted, notes[0])
	assert.Equal(t, 42, notes[1])
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bearer", "Authorization: Bearer abc123.def-456", "Authorization: [REDACTED]"},
		{"personal token", "token ghp_" + strings.Repeat("a", 36) + " used", "token [REDACTED] used"},
		{"oauth token", "gho_" + strings.Repeat("B", 36), "[REDACTED]"},
		{"session cookie", "session=abc; Path=/", "[REDACTED]; Path=/"},
		{"state cookie", "oauth_state=xyz; HttpOnly", "[REDACTED]; HttpOnly"},
		{"clean", "nothing to see", "nothing to see"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeString(tt.in))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))
	assert.Equal(t, "request with [REDACTED] failed", SanitizeError(errors.New("request with Bearer abc failed")))
}
