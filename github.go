package ghauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	defaultUserAgent = "OS-Pins"
	maxResponseBody  = 1 << 20
	tracerName       = "github.com/ospins/ghauth"
)

// Scopes requested at authorization time.
var Scopes = []string{"user:email", "read:user"}

// ProviderProfile is the subset of the GitHub user we keep. Email is empty
// when the account hides its address.
type ProviderProfile struct {
	ProviderID int64
	Login      string
	AvatarURL  string
	Email      string
}

// Provider is the upstream identity provider as seen by the callback flow.
type Provider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (AccessToken, error)
	FetchProfile(ctx context.Context, token AccessToken) (ProviderProfile, error)
	// FetchPrimaryEmail never fails; it returns "" when no primary verified
	// address can be obtained.
	FetchPrimaryEmail(ctx context.Context, token AccessToken) string
}

// GitHubClient talks to github.com (or a GitHub Enterprise host) on behalf
// of the login flow.
type GitHubClient struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
	retry      RetryPolicy
	userAgent  string
	log        *Logger
	tracer     trace.Tracer
}

type GitHubOption func(*GitHubClient)

// WithHTTPClient sets the client used for every upstream request. Per-call
// timeouts come from the retry policy, so the client should not set one.
func WithHTTPClient(hc *http.Client) GitHubOption {
	return func(c *GitHubClient) { c.httpClient = hc }
}

func WithRetryPolicy(p RetryPolicy) GitHubOption {
	return func(c *GitHubClient) { c.retry = p }
}

func WithProviderLogger(l *Logger) GitHubOption {
	return func(c *GitHubClient) { c.log = l }
}

func NewGitHubClient(cfg Config, opts ...GitHubOption) *GitHubClient {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}

	c := &GitHubClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		apiURL:     apiURL,
		httpClient: &http.Client{},
		retry:      DefaultRetryPolicy(),
		userAgent:  defaultUserAgent,
		log:        NopLogger(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL builds the authorize URL carrying client_id, redirect_uri,
// scope and state.
func (c *GitHubClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token.
func (c *GitHubClient) ExchangeCode(ctx context.Context, code string) (AccessToken, error) {
	ctx, span := c.tracer.Start(ctx, "github.exchange_code")
	defer span.End()

	tok, err := retryCall(ctx, c.retry, func(ctx context.Context) (*oauth2.Token, error) {
		return c.oauth.Exchange(c.clientContext(ctx), code)
	})
	if err != nil {
		uerr := &UpstreamError{Op: "token exchange", Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			uerr.Status = rerr.Response.StatusCode
		}
		return AccessToken{}, failSpan(span, uerr)
	}

	if errCode, _ := tok.Extra("error").(string); errCode != "" {
		return AccessToken{}, failSpan(span, &UpstreamError{Op: "token exchange", Err: fmt.Errorf("oauth error %q", errCode)})
	}
	at := NewAccessToken(tok.AccessToken)
	if at.IsEmpty() {
		return AccessToken{}, failSpan(span, &UpstreamError{Op: "token exchange", Err: errors.New("no access token in response")})
	}
	return at, nil
}

// FetchProfile loads the authenticated user.
func (c *GitHubClient) FetchProfile(ctx context.Context, token AccessToken) (ProviderProfile, error) {
	ctx, span := c.tracer.Start(ctx, "github.fetch_profile")
	defer span.End()

	var payload struct {
		ID        int64   `json:"id"`
		Login     string  `json:"login"`
		AvatarURL string  `json:"avatar_url"`
		Email     *string `json:"email"`
	}
	_, err := retryCall(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.getJSON(ctx, "profile fetch", token, "/user", &payload)
	})
	if err != nil {
		return ProviderProfile{}, failSpan(span, err)
	}
	if payload.ID == 0 {
		return ProviderProfile{}, failSpan(span, &UpstreamError{Op: "profile fetch", Err: errors.New("profile has no id")})
	}

	span.SetAttributes(attribute.Int64("github.user_id", payload.ID))
	profile := ProviderProfile{
		ProviderID: payload.ID,
		Login:      payload.Login,
		AvatarURL:  payload.AvatarURL,
	}
	if payload.Email != nil {
		profile.Email = *payload.Email
	}
	return profile, nil
}

// FetchPrimaryEmail returns the first address that is both primary and
// verified. Failures are logged, never returned: email is optional.
func (c *GitHubClient) FetchPrimaryEmail(ctx context.Context, token AccessToken) string {
	ctx, span := c.tracer.Start(ctx, "github.fetch_email")
	defer span.End()

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	_, err := retryCall(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.getJSON(ctx, "email fetch", token, "/user/emails", &emails)
	})
	if err != nil {
		failSpan(span, err)
		attrs := []any{"reason", "request_failed", "error", err}
		var uerr *UpstreamError
		if errors.As(err, &uerr) && uerr.Status != 0 {
			attrs = []any{"reason", "bad_status", "status", uerr.Status}
		}
		c.log.Warn("auth.oauth.email_fetch_failed", "could not load GitHub email addresses", attrs...)
		return ""
	}

	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return e.Email
		}
	}
	c.log.Info("auth.oauth.email_unavailable", "GitHub account has no primary verified email", "addresses", len(emails))
	return ""
}

// getJSON issues an authenticated GET and decodes the body into out. Every
// failure comes back as *UpstreamError so callers can read the status.
func (c *GitHubClient) getJSON(ctx context.Context, op string, token AccessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.bearerClient(ctx, token).Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return &UpstreamError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *GitHubClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: userAgentTransport{base: c.httpClient.Transport, agent: c.userAgent},
		Jar:       c.httpClient.Jar,
	})
}

// bearerClient attaches "Authorization: Bearer <token>" to every request.
func (c *GitHubClient) bearerClient(ctx context.Context, token AccessToken) *http.Client {
	return c.oauth.Client(c.clientContext(ctx), &oauth2.Token{
		AccessToken: token.Value(),
		TokenType:   "Bearer",
	})
}

// userAgentTransport sets User-Agent on requests built inside x/oauth2,
// which GitHub requires and the library does not add.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return base.RoundTrip(req)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, SanitizeError(err))
	return err
}
