// Package account stores user accounts and login sessions. Both stores are
// plain objects over the persistence adapter, created once at startup.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/kv"
	"nvoice/backend/internal/xid"
)

type UserStore struct {
	store  kv.Store
	logger *slog.Logger
}

func NewUserStore(store kv.Store, logger *slog.Logger) *UserStore {
	return &UserStore{store: store, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *UserStore) load(ctx context.Context, a kv.Accessor) ([]domain.User, error) {
	var users []domain.User
	if err := kv.Load(ctx, a, kv.KeyUsers, &users, u.logger); err != nil {
		return nil, err
	}
	return users, nil
}

// Create stores a new user. The email must not be registered yet.
func (u *UserStore) Create(ctx context.Context, email, name, passwordHash string, now time.Time) (domain.User, error) {
	user := domain.User{
		ID:           xid.New("user"),
		Email:        normalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedDate:  now.UTC(),
	}
	err := u.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		users, err := u.load(ctx, tx)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if existing.Email == user.Email {
				return domain.ErrEmailTaken
			}
		}
		return tx.Set(ctx, kv.KeyUsers, append(users, user))
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (u *UserStore) ByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return u.find(ctx, func(user domain.User) bool { return user.Email == normalizeEmail(email) })
}

func (u *UserStore) ByID(ctx context.Context, id string) (domain.User, bool, error) {
	return u.find(ctx, func(user domain.User) bool { return user.ID == id })
}

func (u *UserStore) find(ctx context.Context, match func(domain.User) bool) (domain.User, bool, error) {
	users, err := u.load(ctx, u.store)
	if err != nil {
		return domain.User{}, false, err
	}
	for _, user := range users {
		if match(user) {
			return user, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (u *UserStore) TouchLogin(ctx context.Context, id string, at time.Time) (domain.User, error) {
	var updated domain.User
	err := u.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		users, err := u.load(ctx, tx)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == id {
				stamp := at.UTC()
				users[i].LastLogin = &stamp
				updated = users[i]
				return tx.Set(ctx, kv.KeyUsers, users)
			}
		}
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	})
	return updated, err
}

func (u *UserStore) SetPassword(ctx context.Context, id, passwordHash string) error {
	return u.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		users, err := u.load(ctx, tx)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == id {
				users[i].PasswordHash = passwordHash
				return tx.Set(ctx, kv.KeyUsers, users)
			}
		}
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	})
}

// Reset removes every account.
func (u *UserStore) Reset(ctx context.Context) error {
	_, err := u.store.Delete(ctx, kv.KeyUsers)
	return err
}

type SessionStore struct {
	store  kv.Store
	logger *slog.Logger
	ttl    time.Duration
}

func NewSessionStore(store kv.Store, logger *slog.Logger, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{store: store, logger: logger, ttl: ttl}
}

func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

func (s *SessionStore) load(ctx context.Context, a kv.Accessor) (map[string]domain.Session, error) {
	var sessions map[string]domain.Session
	if err := kv.Load(ctx, a, kv.KeySessions, &sessions, s.logger); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = make(map[string]domain.Session)
	}
	return sessions, nil
}

func (s *SessionStore) Create(ctx context.Context, userID string, now time.Time) (domain.Session, error) {
	session := domain.Session{
		ID:        xid.New("sess"),
		UserID:    userID,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(s.ttl),
	}
	err := s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		sessions, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		// expired records are dropped whenever the map is rewritten
		for id, existing := range sessions {
			if !existing.ExpiresAt.After(now) {
				delete(sessions, id)
			}
		}
		sessions[session.ID] = session
		return tx.Set(ctx, kv.KeySessions, sessions)
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// Get returns a live session. An expired session is deleted and reported as
// missing.
func (s *SessionStore) Get(ctx context.Context, id string, now time.Time) (domain.Session, bool, error) {
	sessions, err := s.load(ctx, s.store)
	if err != nil {
		return domain.Session{}, false, err
	}
	session, ok := sessions[id]
	if !ok {
		return domain.Session{}, false, nil
	}
	if session.ExpiresAt.After(now) {
		return session, true, nil
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		sessions, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if current, ok := sessions[id]; !ok || current.ExpiresAt.After(now) {
			return nil
		}
		delete(sessions, id)
		return tx.Set(ctx, kv.KeySessions, sessions)
	})
	return domain.Session{}, false, err
}

func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		sessions, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if _, ok := sessions[id]; !ok {
			return nil
		}
		delete(sessions, id)
		removed = true
		return tx.Set(ctx, kv.KeySessions, sessions)
	})
	return removed, err
}

// DeleteForUser revokes every session of userID except keep and returns how
// many were removed.
func (s *SessionStore) DeleteForUser(ctx context.Context, userID, keep string) (int, error) {
	removed := 0
	err := s.store.Atomic(ctx, func(ctx context.Context, tx kv.Accessor) error {
		removed = 0
		sessions, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		for id, session := range sessions {
			if session.UserID == userID && id != keep {
				delete(sessions, id)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return tx.Set(ctx, kv.KeySessions, sessions)
	})
	return removed, err
}

// Reset removes every session.
func (s *SessionStore) Reset(ctx context.Context) error {
	_, err := s.store.Delete(ctx, kv.KeySessions)
	return err
}
