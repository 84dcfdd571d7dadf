package ghauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	StateCookieName = "oauth_state"
	StateTTL        = 10 * time.Minute

	// CSRFCookieName holds the double-submit token that POST /auth/logout
	// must echo back in the csrf_token form field or the X-CSRF-Token header.
	CSRFCookieName = "session_csrf"
	CSRFHeader     = "X-CSRF-Token"
	csrfFormField  = "csrf_token"

	StartPath    = "/auth/start"
	CallbackPath = "/auth/callback"
	LogoutPath   = "/auth/logout"
	ErrorPath    = "/auth/error"

	fallbackAppURL = "http://localhost:3000"
)

// Public failure reasons carried to the error page. Nothing else about a
// failure ever reaches the browser.
const (
	ReasonCancelled      = "cancelled"
	ReasonInvalidRequest = "invalid_request"
	ReasonAuthFailed     = "auth_failed"
)

// Deps are the collaborators of Auth. Nil fields get in-memory or default
// implementations built from the Config.
type Deps struct {
	Provider Provider
	Users    UserStore
	Sessions *Sessions
	Limiter  *RateLimiter
	Logger   *Logger
}

// Auth runs the GitHub login flow: initiation, callback, logout, plus
// middleware that resolves the session cookie to a user.
type Auth struct {
	cfg      Config
	provider Provider
	users    UserStore
	sessions *Sessions
	limiter  *RateLimiter
	log      *Logger

	ownsLimiter bool
	upserts     singleflight.Group
}

// New builds the service object shared by every request. Construct it once
// at startup.
func New(cfg Config, deps Deps) *Auth {
	if deps.Logger == nil {
		deps.Logger = NewLogger(nil, slog.LevelInfo)
	}
	if deps.Users == nil {
		deps.Users = NewMemoryUserStore()
	}
	if deps.Sessions == nil {
		deps.Sessions = NewSessions(NewMemorySessionStore(), cfg.SessionSecret, cfg.Production())
	}
	ownsLimiter := deps.Limiter == nil
	if ownsLimiter {
		deps.Limiter = NewRateLimiter(DefaultRateWindow, DefaultRateLimit)
	}
	if deps.Provider == nil {
		deps.Provider = NewGitHubClient(cfg, WithProviderLogger(deps.Logger))
	}

	return &Auth{
		cfg:      cfg,
		provider: deps.Provider,
		users:    deps.Users,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		log:      deps.Logger,

		ownsLimiter: ownsLimiter,
	}
}

// Close stops the rate limiter sweep if New created the limiter. An injected
// limiter is left to its owner.
func (a *Auth) Close() {
	if a.ownsLimiter {
		a.limiter.Stop()
	}
}

// Sessions exposes the session manager, e.g. for the sweep loop.
func (a *Auth) Sessions() *Sessions {
	return a.sessions
}

// Routes mounts the auth endpoints on a new mux.
func (a *Auth) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StartPath, a.StartHandler)
	mux.HandleFunc("GET "+CallbackPath, a.CallbackHandler)
	mux.HandleFunc("POST "+LogoutPath, a.LogoutHandler)
	mux.HandleFunc("GET "+ErrorPath, a.ErrorPageHandler)
	return mux
}

// StartHandler begins the OAuth flow: it issues a state token in a short
// lived cookie and redirects to GitHub's authorize page.
func (a *Auth) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "auth.oauth.rate_limited") {
		return
	}
	if err := a.cfg.Validate(); err != nil {
		a.log.Error("auth.oauth.initiation_failed", "configuration is invalid", "error", err)
		a.redirectError(w, r, ReasonInvalidRequest)
		return
	}

	state, err := randomString(tokenBytes)
	if err != nil {
		a.log.Error("auth.oauth.initiation_failed", "could not generate state", "error", err)
		a.redirectError(w, r, ReasonInvalidRequest)
		return
	}

	http.SetCookie(w, a.stateCookie(state))
	a.log.Info("auth.oauth.initiated", "OAuth flow initiated")
	http.Redirect(w, r, a.provider.AuthCodeURL(state), http.StatusFound)
}

// CallbackHandler handles GitHub's redirect back with ?code and ?state.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "auth.callback.rate_limited") {
		return
	}
	if err := a.cfg.Validate(); err != nil {
		a.log.Error("auth.callback.error", "configuration is invalid", "error", err)
		a.redirectError(w, r, ReasonAuthFailed)
		return
	}

	// The state token is single use whatever the outcome.
	http.SetCookie(w, a.clearStateCookie())

	sess, reason := a.completeLogin(r.Context(), r)
	if reason != "" {
		a.redirectError(w, r, reason)
		return
	}

	w.Header().Add("Set-Cookie", a.sessions.CookieHeader(sess.Token))
	if csrf, err := randomString(tokenBytes); err == nil {
		http.SetCookie(w, a.csrfCookie(csrf))
	} else {
		a.log.Error("auth.session.csrf_failed", "could not generate logout token", "error", err)
	}
	http.Redirect(w, r, a.cfg.AppURL, http.StatusFound)
}

// completeLogin walks the callback steps in order and stops at the first
// failure, returning the public reason for it.
func (a *Auth) completeLogin(ctx context.Context, r *http.Request) (*Session, string) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		if errParam == "access_denied" {
			a.log.Info("auth.oauth.cancelled", "user cancelled GitHub authorization")
			return nil, ReasonCancelled
		}
		a.log.Warn("auth.callback.provider_error", "GitHub reported an authorization error", "provider_error", errParam)
		return nil, ReasonAuthFailed
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		var missing []string
		if code == "" {
			missing = append(missing, "code")
		}
		if state == "" {
			missing = append(missing, "state")
		}
		a.log.Warn("auth.callback.invalid_params", "missing required parameters", "missing_params", missing)
		return nil, ReasonInvalidRequest
	}

	if err := checkState(r, state); err != nil {
		a.log.Warn("auth.callback.invalid_state", "state mismatch, possible CSRF attempt", "error", err)
		return nil, ReasonInvalidRequest
	}

	token, err := a.provider.ExchangeCode(ctx, code)
	if err != nil {
		a.log.Error("auth.callback.token_exchange_failed", "token exchange failed", "error", err)
		return nil, ReasonAuthFailed
	}

	profile, err := a.provider.FetchProfile(ctx, token)
	if err != nil {
		a.log.Error("auth.callback.user_fetch_failed", "user profile fetch failed", "error", err)
		return nil, ReasonAuthFailed
	}
	if profile.Email == "" {
		profile.Email = a.provider.FetchPrimaryEmail(ctx, token)
	}

	user, err := a.upsertUser(ctx, profile)
	if err != nil {
		a.log.Error("auth.user.upsert_failed", "could not save user", "provider_id", profile.ProviderID, "error", err)
		return nil, ReasonAuthFailed
	}

	sess, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		a.log.Error("auth.session.creation_failed", "session creation failed", "user_id", user.ID, "error", err)
		return nil, ReasonAuthFailed
	}
	a.log.Info("auth.session.created", "session created", "user_id", user.ID, "expires_at", sess.ExpiresAt)
	return sess, ""
}

func checkState(r *http.Request, state string) error {
	c, err := r.Cookie(StateCookieName)
	if err != nil || c.Value == "" {
		return &ValidationError{Reason: "state cookie missing"}
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		return &ValidationError{Reason: "state does not match cookie"}
	}
	return nil
}

func checkCSRF(r *http.Request) error {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil || c.Value == "" {
		return &ValidationError{Reason: "csrf cookie missing"}
	}
	sent := r.PostFormValue(csrfFormField)
	if sent == "" {
		sent = r.Header.Get(CSRFHeader)
	}
	if sent == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(sent)) != 1 {
		return &ValidationError{Reason: "csrf token does not match cookie"}
	}
	return nil
}

// upsertUser creates the user on first login and refreshes the profile
// fields afterwards. Concurrent callbacks for one GitHub account share a
// single upsert. The shared work is detached from any one caller's
// cancellation; each caller only waits as long as its own ctx allows.
func (a *Auth) upsertUser(ctx context.Context, p ProviderProfile) (*User, error) {
	key := strconv.FormatInt(p.ProviderID, 10)
	shared := context.WithoutCancel(ctx)
	ch := a.upserts.DoChan(key, func() (any, error) {
		return a.upsert(shared, p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*User), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Auth) upsert(ctx context.Context, p ProviderProfile) (*User, error) {
	existing, err := a.users.FindByProviderID(ctx, p.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if existing == nil {
		u, err := a.users.CreateUser(ctx, NewUser{
			ProviderID: p.ProviderID,
			Username:   p.Login,
			AvatarURL:  p.AvatarURL,
			Email:      p.Email,
		})
		if err == nil {
			a.log.Info("auth.user.created", "new user created", "user_id", u.ID, "provider_id", u.ProviderID)
			return u, nil
		}
		if !errors.Is(err, ErrUserExists) {
			return nil, err
		}
		// Another instance sharing the store won the insert; update theirs.
		existing, err = a.users.FindByProviderID(ctx, p.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("find user: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("provider id %d: %w", p.ProviderID, ErrUserNotFound)
		}
	}

	u, err := a.users.UpdateUser(ctx, existing.ID, UserUpdate{
		Username:  &p.Login,
		AvatarURL: &p.AvatarURL,
		Email:     &p.Email,
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("auth.user.login", "user logged in", "user_id", u.ID, "provider_id", u.ProviderID)
	return u, nil
}

// LogoutHandler deletes the session and clears the cookies. It requires the
// CSRF cookie value in the csrf_token form field or the X-CSRF-Token header.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := checkCSRF(r); err != nil {
		a.log.Warn("auth.logout.csrf_rejected", "logout without a valid csrf token", "error", err)
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return
	}

	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		if err := a.sessions.Delete(r.Context(), c.Value); err != nil {
			a.log.Error("auth.session.delete_failed", "could not delete session", "error", err)
		}
	}
	http.SetCookie(w, a.sessions.ClearCookie())
	expired := a.csrfCookie("")
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	http.Redirect(w, r, a.appURL(), http.StatusSeeOther)
}

// RequireAuth is middleware that ensures a logged-in user; otherwise it
// starts the login flow.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := a.currentUserFromSession(w, r)
		if user == nil {
			http.Redirect(w, r, StartPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// LoadUser attaches user to context if logged in, but does not enforce it.
func (a *Auth) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := a.currentUserFromSession(w, r); user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) currentUserFromSession(w http.ResponseWriter, r *http.Request) *User {
	ctx := r.Context()

	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	sess, err := a.sessions.Validate(ctx, c.Value)
	if err != nil {
		a.log.Error("auth.session.validate_failed", "could not validate session", "error", err)
		return nil
	}
	if sess == nil {
		http.SetCookie(w, a.sessions.ClearCookie())
		return nil
	}

	user, err := a.users.GetUser(ctx, sess.UserID)
	if err != nil || user == nil {
		return nil
	}
	return user
}

// allow applies the per-address rate limit and writes the 429 response when
// the caller is over it.
func (a *Auth) allow(w http.ResponseWriter, r *http.Request, event string) bool {
	addr := ClientAddress(r)
	res := a.limiter.Check(addr)
	if res.Allowed {
		return true
	}

	a.log.Warn(event, "rate limit exceeded", "ip", addr, "error", res.Err())
	w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "Too many requests. Please try again later.",
		},
	})
	return false
}

func (a *Auth) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	u, err := url.Parse(a.appURL() + ErrorPath)
	if err != nil {
		u, _ = url.Parse(fallbackAppURL + ErrorPath)
	}
	u.RawQuery = url.Values{"message": {reason}}.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (a *Auth) appURL() string {
	if a.cfg.AppURL == "" {
		return fallbackAppURL
	}
	return a.cfg.AppURL
}

func (a *Auth) stateCookie(state string) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(StateTTL / time.Second),
		HttpOnly: true,
		Secure:   a.cfg.Production(),
		SameSite: http.SameSiteLaxMode,
	}
}

// csrfCookie is readable by scripts so pages can echo it back on logout.
func (a *Auth) csrfCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: false,
		Secure:   a.cfg.Production(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *Auth) clearStateCookie() *http.Cookie {
	c := a.stateCookie("")
	c.MaxAge = -1
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
