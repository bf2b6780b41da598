package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nvoice/backend/internal/account"
	"nvoice/backend/internal/domain"
	"nvoice/backend/internal/validate"
)

const (
	demoEmail    = "demo@nvoice.com"
	demoPassword = "demo123"
	demoName     = "Demo User"
)

// AuthManager issues and checks login tokens. A token is only as good as the
// session record named by its jti.
type AuthManager struct {
	secret   []byte
	users    *account.UserStore
	sessions *account.SessionStore
	logger   *slog.Logger
	now      func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
}

func NewAuthManager(secret string, users *account.UserStore, sessions *account.SessionStore, logger *slog.Logger) *AuthManager {
	return &AuthManager{
		secret:   []byte(secret),
		users:    users,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// SessionTTL is also the cookie Max-Age.
func (a *AuthManager) SessionTTL() time.Duration {
	return a.sessions.TTL()
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.PublicUser, string, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return domain.PublicUser{}, "", err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.PublicUser{}, "", fmt.Errorf("hash password: %w", err)
	}
	user, err := a.users.Create(ctx, req.Email, req.Name, passwordHash, a.now())
	if err != nil {
		return domain.PublicUser{}, "", err
	}

	token, err := a.startSession(ctx, user)
	if err != nil {
		return domain.PublicUser{}, "", err
	}
	a.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user.Public(), token, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.PublicUser, string, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		return domain.PublicUser{}, "", err
	}

	user, found, err := a.users.ByEmail(ctx, req.Email)
	if err != nil {
		return domain.PublicUser{}, "", err
	}
	if !found || !verifyPassword(user.PasswordHash, req.Password) {
		return domain.PublicUser{}, "", domain.ErrInvalidCredentials
	}

	user, err = a.users.TouchLogin(ctx, user.ID, a.now())
	if err != nil {
		return domain.PublicUser{}, "", err
	}
	token, err := a.startSession(ctx, user)
	if err != nil {
		return domain.PublicUser{}, "", err
	}
	return user.Public(), token, nil
}

func (a *AuthManager) Logout(ctx context.Context, actor domain.Actor) error {
	_, err := a.sessions.Delete(ctx, actor.SessionID)
	return err
}

// Authenticate resolves a token to the actor behind it. Signature, expiry and
// the backing session record must all check out.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.ID == "" {
		return domain.Actor{}, domain.ErrUnauthorized
	}

	session, live, err := a.sessions.Get(ctx, claims.ID, a.now())
	if err != nil {
		return domain.Actor{}, err
	}
	if !live || session.UserID != sub {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	return domain.Actor{UserID: sub, Email: claims.Email, SessionID: session.ID}, nil
}

// ChangePassword re-hashes the caller's password once the current one checks
// out. Every other session of the user is revoked; the caller stays signed in.
func (a *AuthManager) ChangePassword(ctx context.Context, actor domain.Actor, req domain.ChangePasswordRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	user, found, err := a.users.ByID(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrUnauthorized
	}
	if !verifyPassword(user.PasswordHash, req.CurrentPassword) {
		return domain.ErrInvalidCredentials
	}

	passwordHash, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.users.SetPassword(ctx, user.ID, passwordHash); err != nil {
		return err
	}
	revoked, err := a.sessions.DeleteForUser(ctx, user.ID, actor.SessionID)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "password changed", "user_id", user.ID, "sessions_revoked", revoked)
	return nil
}

func (a *AuthManager) Me(ctx context.Context, actor domain.Actor) (domain.PublicUser, error) {
	user, found, err := a.users.ByID(ctx, actor.UserID)
	if err != nil {
		return domain.PublicUser{}, err
	}
	if !found {
		return domain.PublicUser{}, domain.ErrUnauthorized
	}
	return user.Public(), nil
}

// SeedDemoUser creates the demo account unless it already exists.
func (a *AuthManager) SeedDemoUser(ctx context.Context) error {
	_, found, err := a.users.ByEmail(ctx, demoEmail)
	if err != nil || found {
		return err
	}
	passwordHash, err := hashPassword(demoPassword)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}
	_, err = a.users.Create(ctx, demoEmail, demoName, passwordHash, a.now())
	if errors.Is(err, domain.ErrEmailTaken) {
		return nil
	}
	if err == nil {
		a.logger.InfoContext(ctx, "demo user seeded", "email", demoEmail)
	}
	return err
}

func (a *AuthManager) startSession(ctx context.Context, user domain.User) (string, error) {
	session, err := a.sessions.Create(ctx, user.ID, a.now())
	if err != nil {
		return "", err
	}
	return a.sign(user, session)
}

func (a *AuthManager) sign(user domain.User, session domain.Session) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			ID:        session.ID,
			IssuedAt:  jwtlib.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwtlib.NewNumericDate(session.ExpiresAt),
			Issuer:    "nvoice",
		},
		Email: user.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
