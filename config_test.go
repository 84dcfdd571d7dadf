package ghauth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 32)

func validEnv() map[string]string {
	return map[string]string{
		"GITHUB_CLIENT_ID":     "client-id",
		"GITHUB_CLIENT_SECRET": "client-secret",
		"GITHUB_CALLBACK_URL":  "http://localhost:3000/auth/callback",
		"SESSION_SECRET":       testSecret,
		"APP_URL":              "http://localhost:3000/",
	}
}

func TestConfigFromMap_Defaults(t *testing.T) {
	cfg, err := ConfigFromMap(validEnv())
	require.NoError(t, err)

	assert.Equal(t, "client-id", cfg.GitHubClientID)
	assert.Equal(t, "http://localhost:3000", cfg.AppURL, "trailing slash trimmed")
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "https://github.com/login/oauth/authorize", cfg.AuthURL)
	assert.Equal(t, "https://github.com/login/oauth/access_token", cfg.TokenURL)
	assert.Equal(t, "https://api.github.com", cfg.APIURL)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.False(t, cfg.Production())
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	for k, v := range validEnv() {
		t.Setenv(k, v)
	}
	t.Setenv("APP_ENV", "Production")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ListsEveryMissingKey(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]string{"GITHUB_CLIENT_ID": "id"})
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{
		"GITHUB_CLIENT_SECRET",
		"GITHUB_CALLBACK_URL",
		"SESSION_SECRET",
		"APP_URL",
	}, cerr.Missing)
	for _, key := range cerr.Missing {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate_ShortSessionSecret(t *testing.T) {
	env := validEnv()
	env["SESSION_SECRET"] = strings.Repeat("s", 31)
	cfg, err := ConfigFromMap(env)
	require.NoError(t, err)

	err = cfg.Validate()
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Empty(t, cerr.Missing)
	assert.Len(t, cerr.Invalid, 1)
	assert.Contains(t, err.Error(), "SESSION_SECRET must be at least 32 characters")
}
