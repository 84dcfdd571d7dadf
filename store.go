package ghauth

import (
	"context"
	"time"
)

type User struct {
	ID         string
	ProviderID int64 // GitHub numeric user id, immutable
	Username   string
	AvatarURL  string
	Email      string // empty when GitHub exposes no verified address

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser carries the provider data for a first login.
type NewUser struct {
	ProviderID int64
	Username   string
	AvatarURL  string
	Email      string
}

// UserUpdate is a partial update: nil fields are left untouched. A non-nil
// Email pointing at "" clears the address.
type UserUpdate struct {
	Username  *string
	AvatarURL *string
	Email     *string
}

type Session struct {
	Token     string // plaintext token, only held in memory by the caller
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// UserStore abstracts user persistence so a durable implementation can
// replace the in-memory one. Implementations must guarantee at most one user
// per ProviderID, even under concurrent CreateUser calls.
type UserStore interface {
	// FindByProviderID returns nil, nil when no user is bound to id.
	FindByProviderID(ctx context.Context, id int64) (*User, error)
	// GetUser returns nil, nil for an unknown id.
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u NewUser) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
}

// SessionStore is the storage capability behind Sessions. Keys are opaque
// lookup keys derived from the session token, never the token itself.
type SessionStore interface {
	Put(ctx context.Context, key string, s Session) error
	// Get returns nil, nil for an unknown key.
	Get(ctx context.Context, key string) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	// DeleteExpired removes every session that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
