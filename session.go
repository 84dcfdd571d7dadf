package ghauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	SessionCookieName = "session"
	SessionTTL        = 30 * 24 * time.Hour

	tokenBytes = 32
)

// Sessions issues and checks opaque bearer session tokens. The backing store
// only ever sees an HMAC of the token, keyed with the session secret.
type Sessions struct {
	store  SessionStore
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessions wires a session manager over store. secure controls the
// Secure cookie attribute and should only be set in production.
func NewSessions(store SessionStore, secret string, secure bool) *Sessions {
	return &Sessions{
		store:  store,
		secret: []byte(secret),
		ttl:    SessionTTL,
		secure: secure,
		now:    time.Now,
	}
}

// Create stores a new session for userID expiring after 30 days.
func (m *Sessions) Create(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("create session: empty user id")
	}
	token, err := randomString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := m.now()
	sess := Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, m.key(token), sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// Validate returns the live session for token, or nil if it is unknown or
// expired. Expired sessions are deleted on the way out.
func (m *Sessions) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	key := m.key(token)
	sess, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(m.now()) {
		if err := m.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("evict session: %w", err)
		}
		return nil, nil
	}
	sess.Token = token
	return sess, nil
}

// Delete removes the session for token. Unknown tokens are not an error.
func (m *Sessions) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, m.key(token))
}

// Sweep drops every expired session and returns how many were removed.
func (m *Sessions) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// Cookie returns the session cookie for token.
func (m *Sessions) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieHeader serializes the session cookie as a Set-Cookie header value.
func (m *Sessions) CookieHeader(token string) string {
	return m.Cookie(token).String()
}

// ClearCookie expires the session cookie in the browser.
func (m *Sessions) ClearCookie() *http.Cookie {
	c := m.Cookie("")
	c.MaxAge = -1
	return c
}

func (m *Sessions) key(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// randomString returns n bytes from crypto/rand, base64url encoded without
// padding so the result is safe in cookies and query strings.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
