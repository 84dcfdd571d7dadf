package ghauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore keeps users in process memory. Contents are lost on restart.
type MemoryUserStore struct {
	mu         sync.RWMutex
	users      map[string]*User
	byProvider map[int64]string
	now        func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:      make(map[string]*User),
		byProvider: make(map[int64]string),
		now:        time.Now,
	}
}

func (s *MemoryUserStore) FindByProviderID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byProvider[id]
	if !ok {
		return nil, nil
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// CreateUser inserts into the table and the provider index under one lock,
// so two racing first logins for the same account cannot both succeed.
func (s *MemoryUserStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byProvider[nu.ProviderID]; taken {
		return nil, fmt.Errorf("create user for provider id %d: %w", nu.ProviderID, ErrUserExists)
	}

	now := s.now()
	u := &User{
		ID:         uuid.NewString(),
		ProviderID: nu.ProviderID,
		Username:   nu.Username,
		AvatarURL:  nu.AvatarURL,
		Email:      nu.Email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.users[u.ID] = u
	s.byProvider[u.ProviderID] = u.ID

	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("update user %s: %w", id, ErrUserNotFound)
	}

	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = *upd.AvatarURL
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	u.UpdatedAt = s.now()

	cp := *u
	return &cp, nil
}

// MemorySessionStore keeps sessions in process memory, keyed by token hash.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (s *MemorySessionStore) Put(ctx context.Context, key string, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess.Token = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = sess
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}
